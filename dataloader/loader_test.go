package dataloader_test

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/unetreg/dataloader"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeDataset(t *testing.T, nTrain, nTest int) string {
	dir := t.TempDir()
	rows := "input,output,split\n"
	for i := 0; i < nTrain+nTest; i++ {
		in := fmt.Sprintf("in_%d.png", i)
		out := fmt.Sprintf("out_%d.png", i)
		// inputs of a different size exercise resizing
		writePNG(t, filepath.Join(dir, in), 64, 64, color.NRGBA{R: 255, G: 0, B: 128, A: 255})
		writePNG(t, filepath.Join(dir, out), 50, 50, color.Gray{Y: 255})
		split := "train"
		if i >= nTrain {
			split = "test"
		}
		rows += fmt.Sprintf("%s,%s,%s\n", in, out, split)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pairs.csv"), []byte(rows), 0644))
	return dir
}

func TestDirLoader_Load(t *testing.T) {
	dir := writeDataset(t, 3, 2)
	l := dataloader.NewDirLoader(dir, "pairs.csv")

	trainIn, trainOut, testIn, testOut, err := l.Load(true)
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 2, 50, 50}, trainIn.MustSize())
	assert.Equal(t, []int64{3, 1, 50, 50}, trainOut.MustSize())
	assert.Equal(t, []int64{2, 2, 50, 50}, testIn.MustSize())
	assert.Equal(t, []int64{2, 1, 50, 50}, testOut.MustSize())

	vals := trainIn.Float64Values()
	// red plane is saturated, green plane empty
	assert.InDelta(t, 1.0, vals[0], 0.01)
	assert.InDelta(t, 0.0, vals[50*50], 0.01)
	assert.InDelta(t, 1.0, testOut.Float64Values()[0], 0.01)

	_, err = os.Stat(filepath.Join(dir, dataloader.PreviewFile))
	assert.NoError(t, err)
}

func TestDirLoader_EmptySplit(t *testing.T) {
	dir := writeDataset(t, 2, 0)
	l := dataloader.NewDirLoader(dir, "pairs.csv")

	_, _, _, _, err := l.Load(false)
	assert.ErrorIs(t, err, dataloader.ErrNoSamples)
}

func TestReadManifest_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("input,split\nx.png,train\n"), 0644))
	_, err := dataloader.ReadManifest(dir, "a.csv")
	assert.ErrorIs(t, err, dataloader.ErrBadManifest)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("input,output,split\nx.png,y.png,holdout\n"), 0644))
	_, err = dataloader.ReadManifest(dir, "b.csv")
	assert.ErrorIs(t, err, dataloader.ErrBadManifest)

	_, err = dataloader.ReadManifest(dir, "missing.csv")
	assert.Error(t, err)
}

func TestReadManifest_ResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	data := "input,output,split\nimg/a.png,/abs/b.png,TRAIN\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.csv"), []byte(data), 0644))

	pairs, err := dataloader.ReadManifest(dir, "m.csv")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, filepath.Join(dir, "img/a.png"), pairs[0].Input)
	assert.Equal(t, "/abs/b.png", pairs[0].Output)
	assert.Equal(t, dataloader.SplitTrain, pairs[0].Split)
}

func TestNewSyntheticLoader(t *testing.T) {
	l := dataloader.NewSyntheticLoader(4, 2, 1)
	trainIn, trainOut, testIn, testOut, err := l.Load(false)
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 2, 50, 50}, trainIn.MustSize())
	assert.Equal(t, []int64{4, 1, 50, 50}, trainOut.MustSize())
	assert.Equal(t, []int64{2, 2, 50, 50}, testIn.MustSize())
	assert.Equal(t, []int64{2, 1, 50, 50}, testOut.MustSize())

	in := trainIn.Float64Values()
	out := trainOut.Float64Values()
	assert.InDelta(t, (in[0]+in[2500])/2, out[0], 1e-6)
}
