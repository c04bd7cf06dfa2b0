package dataloader

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/unet"
	"github.com/sugarme/unetreg/viz"
)

var (
	// ErrNoSamples is returned when a split of the manifest is empty.
	ErrNoSamples = errors.New("dataloader: no samples")
	// ErrBadManifest is returned for a manifest missing required columns or
	// holding unknown split names.
	ErrBadManifest = errors.New("dataloader: bad manifest")
)

// Split names accepted in the manifest.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// PreviewFile is written next to the manifest when Load is asked to show
// the data.
const PreviewFile = "preview.png"

// Pair is one manifest row.
type Pair struct {
	Input  string
	Output string
	Split  string
}

// ReadManifest reads a CSV with header columns input, output and split.
// Relative image paths are resolved against dir.
func ReadManifest(dir, manifest string) ([]Pair, error) {
	f, err := os.Open(filepath.Join(dir, manifest))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, df.Err
	}

	cols := make(map[string]bool)
	for _, n := range df.Names() {
		cols[n] = true
	}
	for _, n := range []string{"input", "output", "split"} {
		if !cols[n] {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadManifest, n)
		}
	}

	inputs := df.Col("input").Records()
	outputs := df.Col("output").Records()
	splits := df.Col("split").Records()

	pairs := make([]Pair, len(inputs))
	for i := range inputs {
		split := strings.ToLower(strings.TrimSpace(splits[i]))
		if split != SplitTrain && split != SplitTest {
			return nil, fmt.Errorf("%w: row %d has split %q", ErrBadManifest, i+1, splits[i])
		}
		pairs[i] = Pair{
			Input:  resolve(dir, inputs[i]),
			Output: resolve(dir, outputs[i]),
			Split:  split,
		}
	}

	return pairs, nil
}

func resolve(dir, p string) string {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// DirLoader loads image pairs listed in a manifest file.
type DirLoader struct {
	Dir      string
	Manifest string
	Height   int
	Width    int
	// Samples is the number of rows in the preview grid.
	Samples int
}

// NewDirLoader creates DirLoader producing 50x50 samples.
func NewDirLoader(dir, manifest string) *DirLoader {
	return &DirLoader{
		Dir:      dir,
		Manifest: manifest,
		Height:   int(unet.Height),
		Width:    int(unet.Width),
		Samples:  4,
	}
}

// Load returns train and test tensors. Inputs are [N 2 H W] holding the red
// and green channels of the input images, outputs are [N 1 H W] grayscale.
func (l *DirLoader) Load(show bool) (trainIn, trainOut, testIn, testOut *ts.Tensor, err error) {
	pairs, err := ReadManifest(l.Dir, l.Manifest)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var train, test []Pair
	for _, p := range pairs {
		if p.Split == SplitTrain {
			train = append(train, p)
		} else {
			test = append(test, p)
		}
	}
	if len(train) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("%w: split %q", ErrNoSamples, SplitTrain)
	}
	if len(test) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("%w: split %q", ErrNoSamples, SplitTest)
	}

	trainIn, trainOut, err = l.loadPairs(train)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	testIn, testOut, err = l.loadPairs(test)
	if err != nil {
		trainIn.MustDrop()
		trainOut.MustDrop()
		return nil, nil, nil, nil, err
	}

	if show {
		log.Printf("train input: %v, train output: %v\n", trainIn.MustSize(), trainOut.MustSize())
		log.Printf("test input: %v, test output: %v\n", testIn.MustSize(), testOut.MustSize())
		path := filepath.Join(l.Dir, PreviewFile)
		if err := Preview(path, trainIn, trainOut, l.Samples); err != nil {
			log.Printf("preview not written: %v\n", err)
		} else {
			log.Printf("preview written to %q\n", path)
		}
	}

	return trainIn, trainOut, testIn, testOut, nil
}

func (l *DirLoader) loadPairs(pairs []Pair) (*ts.Tensor, *ts.Tensor, error) {
	plane := l.Height * l.Width
	inputs := make([]float32, 0, len(pairs)*2*plane)
	outputs := make([]float32, 0, len(pairs)*plane)
	for _, p := range pairs {
		in, err := l.load(p.Input)
		if err != nil {
			return nil, nil, err
		}
		out, err := l.load(p.Output)
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, redGreen(in)...)
		outputs = append(outputs, gray(out)...)
	}

	n := int64(len(pairs))
	h, w := int64(l.Height), int64(l.Width)
	x := ts.MustOfSlice(inputs).MustView([]int64{n, 2, h, w}, true)
	y := ts.MustOfSlice(outputs).MustView([]int64{n, 1, h, w}, true)

	return x, y, nil
}

func (l *DirLoader) load(path string) (*image.NRGBA, error) {
	img, err := readImage(path)
	if err != nil {
		return nil, fmt.Errorf("read %v: %w", path, err)
	}
	return fitImage(img, l.Width, l.Height), nil
}

// Preview writes a grid with input channels and output of the first n
// samples.
func Preview(path string, input, output *ts.Tensor, n int) error {
	iv, isize := viz.Values(input)
	ov, osize := viz.Values(output)
	if int(isize[0]) < n {
		n = int(isize[0])
	}

	var rows [][]image.Image
	for i := 0; i < n; i++ {
		var row []image.Image
		for c := 0; c < int(isize[1]); c++ {
			vals, h, w, err := viz.Channel(iv, isize, i, c)
			if err != nil {
				return err
			}
			row = append(row, viz.Upscale(viz.GrayImage(vals, h, w, 0, 1), 4))
		}
		vals, h, w, err := viz.Channel(ov, osize, i, 0)
		if err != nil {
			return err
		}
		row = append(row, viz.Upscale(viz.GrayImage(vals, h, w, 0, 1), 4))
		rows = append(rows, row)
	}

	return viz.SaveGrid(path, rows, 4)
}
