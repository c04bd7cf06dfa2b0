package callback

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Files written by SummaryWriter inside its log directory.
const (
	ScalarsFile    = "scalars.csv"
	HistogramsFile = "histograms.csv"
	CurvesFile     = "curves.png"
)

// TimestampedDir returns <base>/<YYYYMMDD-HHMMSS>.
func TimestampedDir(base string, t time.Time) string {
	return filepath.Join(base, t.Format("20060102-150405"))
}

// SummaryWriter records per-epoch scalars and weight histograms to a log
// directory: CSV tables plus a loss curve plot.
type SummaryWriter struct {
	Dir string
	// Bins is the number of histogram buckets per variable.
	Bins int
	// HistogramFreq writes histograms every n epochs; 0 disables them.
	HistogramFreq int

	logs []EpochLogs
	// histograms of the latest recorded epoch only
	hists       []histRow
	histStarted bool
}

type histRow struct {
	epoch    int
	variable string
	lower    float64
	upper    float64
	count    float64
}

// NewSummaryWriter creates SummaryWriter writing to dir, with histograms
// every epoch.
func NewSummaryWriter(dir string) *SummaryWriter {
	return &SummaryWriter{
		Dir:           dir,
		Bins:          30,
		HistogramFreq: 1,
	}
}

// OnTrainBegin implements Callback.
func (w *SummaryWriter) OnTrainBegin(vs *nn.VarStore) error {
	return os.MkdirAll(w.Dir, 0755)
}

// OnEpochEnd implements Callback.
func (w *SummaryWriter) OnEpochEnd(vs *nn.VarStore, logs EpochLogs) error {
	w.logs = append(w.logs, logs)
	if err := w.writeScalars(); err != nil {
		return err
	}

	if w.HistogramFreq > 0 && logs.Epoch%w.HistogramFreq == 0 {
		w.recordHistograms(vs, logs.Epoch)
		if err := w.writeHistograms(); err != nil {
			return err
		}
	}

	return w.plotCurves()
}

// OnTrainEnd implements Callback.
func (w *SummaryWriter) OnTrainEnd() error {
	return nil
}

func (w *SummaryWriter) writeScalars() error {
	n := len(w.logs)
	epoch := make([]int, n)
	loss := make([]float64, n)
	acc := make([]float64, n)
	valLoss := make([]float64, n)
	valAcc := make([]float64, n)
	lr := make([]float64, n)
	for i, l := range w.logs {
		epoch[i] = l.Epoch
		loss[i] = l.Loss
		acc[i] = l.Accuracy
		valLoss[i] = l.ValLoss
		valAcc[i] = l.ValAccuracy
		lr[i] = l.LR
	}

	df := dataframe.New(
		series.New(epoch, series.Int, "epoch"),
		series.New(loss, series.Float, "loss"),
		series.New(acc, series.Float, "accuracy"),
		series.New(valLoss, series.Float, "val_loss"),
		series.New(valAcc, series.Float, "val_accuracy"),
		series.New(lr, series.Float, "lr"),
	)

	return writeCSV(filepath.Join(w.Dir, ScalarsFile), df)
}

func (w *SummaryWriter) recordHistograms(vs *nn.VarStore, epoch int) {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	w.hists = w.hists[:0]
	ts.NoGrad(func() {
		for _, name := range names {
			v := vars[name]
			d := v.MustTotype(gotch.Double, false).MustTo(gotch.CPU, true)
			vals := d.Float64Values()
			d.MustDrop()

			dividers, counts := Histogram(vals, w.Bins)
			for i, c := range counts {
				w.hists = append(w.hists, histRow{epoch, name, dividers[i], dividers[i+1], c})
			}
		}
	})
}

func (w *SummaryWriter) writeHistograms() error {
	n := len(w.hists)
	epoch := make([]int, n)
	variable := make([]string, n)
	lower := make([]float64, n)
	upper := make([]float64, n)
	count := make([]float64, n)
	for i, h := range w.hists {
		epoch[i] = h.epoch
		variable[i] = h.variable
		lower[i] = h.lower
		upper[i] = h.upper
		count[i] = h.count
	}

	df := dataframe.New(
		series.New(epoch, series.Int, "epoch"),
		series.New(variable, series.String, "variable"),
		series.New(lower, series.Float, "lower"),
		series.New(upper, series.Float, "upper"),
		series.New(count, series.Float, "count"),
	)

	path := filepath.Join(w.Dir, HistogramsFile)
	if !w.histStarted {
		if err := writeCSV(path, df); err != nil {
			return err
		}
		w.histStarted = true
		return nil
	}

	return appendCSV(path, df)
}

func (w *SummaryWriter) plotCurves() error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "MAE"

	curves := []struct {
		name  string
		color color.Color
		value func(EpochLogs) float64
	}{
		{"loss", color.RGBA{R: 31, G: 119, B: 180, A: 255}, func(l EpochLogs) float64 { return l.Loss }},
		{"val_loss", color.RGBA{R: 255, G: 127, B: 14, A: 255}, func(l EpochLogs) float64 { return l.ValLoss }},
	}
	for _, s := range curves {
		var pts plotter.XYs
		for _, l := range w.logs {
			v := s.value(l)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(l.Epoch), Y: v})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.LineStyle.Color = s.color
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, filepath.Join(w.Dir, CurvesFile))
}

// Histogram buckets vals into bins equal-width bins spanning their range.
// It returns bins+1 dividers and bins counts. vals is sorted in place.
func Histogram(vals []float64, bins int) (dividers, counts []float64) {
	if bins <= 0 {
		bins = 1
	}
	if len(vals) == 0 {
		return floats.Span(make([]float64, bins+1), 0, 1), make([]float64, bins)
	}

	sort.Float64s(vals)
	lo, hi := vals[0], vals[len(vals)-1]
	if hi <= lo {
		hi = lo + 1
	}
	// upper divider is exclusive
	hi = math.Nextafter(hi, math.Inf(1))

	dividers = floats.Span(make([]float64, bins+1), lo, hi)
	counts = stat.Histogram(nil, dividers, vals, nil)

	return dividers, counts
}

func writeCSV(path string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return df.Err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %v: %w", path, err)
	}
	return f.Close()
}

// appendCSV appends df rows to path without a header.
func appendCSV(path string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return df.Err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if err := df.WriteCSV(f, dataframe.WriteHeader(false)); err != nil {
		f.Close()
		return fmt.Errorf("append %v: %w", path, err)
	}
	return f.Close()
}
