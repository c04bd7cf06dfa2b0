package viz

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	ts "github.com/sugarme/gotch/tensor"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Files written by ResultPlotter.
const (
	ResultsFile = "results.png"
	ScatterFile = "scatter.png"
)

// ResultPlotter renders predictions next to their inputs and ground truth.
type ResultPlotter struct {
	Dir string
	// Samples is the number of rows in the comparison grid.
	Samples int
	// Scale enlarges each 50x50 panel.
	Scale int
	// MaxPoints caps the scatter plot size.
	MaxPoints int
}

// NewResultPlotter creates ResultPlotter writing to dir.
func NewResultPlotter(dir string, samples int) *ResultPlotter {
	if samples <= 0 {
		samples = 4
	}
	return &ResultPlotter{
		Dir:       dir,
		Samples:   samples,
		Scale:     4,
		MaxPoints: 5000,
	}
}

// PlotResults writes a grid with one row per sample (input channels, truth,
// prediction) and a prediction-vs-truth scatter plot.
func (p *ResultPlotter) PlotResults(truth, input, pred *ts.Tensor) error {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return err
	}

	tv, tsize := Values(truth)
	iv, isize := Values(input)
	pv, psize := Values(pred)
	if len(tv) != len(pv) {
		return fmt.Errorf("Truth shape %v and prediction shape %v differ\n", tsize, psize)
	}

	if err := p.grid(tv, tsize, iv, isize, pv, psize); err != nil {
		return err
	}

	return p.scatter(tv, pv)
}

func (p *ResultPlotter) grid(tv []float64, tsize []int64, iv []float64, isize []int64, pv []float64, psize []int64) error {
	n := p.Samples
	if int(tsize[0]) < n {
		n = int(tsize[0])
	}

	// truth and prediction share one scale so they compare directly
	lo, hi := MinMax(append(append([]float64{}, tv...), pv...))

	var rows [][]image.Image
	for i := 0; i < n; i++ {
		var row []image.Image
		for c := 0; c < int(isize[1]); c++ {
			vals, h, w, err := Channel(iv, isize, i, c)
			if err != nil {
				return err
			}
			clo, chi := MinMax(vals)
			row = append(row, Upscale(GrayImage(vals, h, w, clo, chi), p.Scale))
		}
		for _, src := range []struct {
			vals []float64
			size []int64
		}{{tv, tsize}, {pv, psize}} {
			vals, h, w, err := Channel(src.vals, src.size, i, 0)
			if err != nil {
				return err
			}
			row = append(row, Upscale(GrayImage(vals, h, w, lo, hi), p.Scale))
		}
		rows = append(rows, row)
	}

	return SaveGrid(filepath.Join(p.Dir, ResultsFile), rows, 4)
}

func (p *ResultPlotter) scatter(tv, pv []float64) error {
	stride := 1
	if p.MaxPoints > 0 && len(tv) > p.MaxPoints {
		stride = (len(tv) + p.MaxPoints - 1) / p.MaxPoints
	}

	var pts plotter.XYs
	var sumAbs float64
	for i := range tv {
		sumAbs += math.Abs(pv[i] - tv[i])
		if i%stride == 0 {
			pts = append(pts, plotter.XY{X: tv[i], Y: pv[i]})
		}
	}

	plt, err := plot.New()
	if err != nil {
		return err
	}
	plt.Title.Text = fmt.Sprintf("Prediction vs truth (MAE %.4f)", sumAbs/float64(len(tv)))
	plt.X.Label.Text = "truth"
	plt.Y.Label.Text = "prediction"

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.GlyphStyle.Radius = vg.Points(1)
	s.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	plt.Add(s)

	lo, hi := MinMax(tv)
	ident, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return err
	}
	ident.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	plt.Add(ident)

	return plt.Save(5*vg.Inch, 5*vg.Inch, filepath.Join(p.Dir, ScatterFile))
}
