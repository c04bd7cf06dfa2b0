package dutil_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/dutil"
)

// pairs builds n samples where every pixel of sample i equals i.
func pairs(n int64) (x, y *ts.Tensor) {
	var xs, ys []float32
	for i := int64(0); i < n; i++ {
		for j := 0; j < 2*4*4; j++ {
			xs = append(xs, float32(i))
		}
		for j := 0; j < 4*4; j++ {
			ys = append(ys, float32(i))
		}
	}
	x = ts.MustOfSlice(xs).MustView([]int64{n, 2, 4, 4}, true)
	y = ts.MustOfSlice(ys).MustView([]int64{n, 1, 4, 4}, true)
	return x, y
}

func sampleIds(x *ts.Tensor) []float64 {
	n := x.MustSize()[0]
	flat := x.MustView([]int64{n, -1}, false)
	first := flat.MustNarrow(1, 0, 1, true).MustTotype(gotch.Double, true)
	vals := first.Float64Values()
	first.MustDrop()
	return vals
}

func TestFlow_Split(t *testing.T) {
	x, y := pairs(10)
	gen, err := dutil.NewImageDataGenerator(dutil.GeneratorConfig{ValidationSplit: 0.2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen.SplitIndex(10))

	train, err := gen.Flow(x, y, 3, dutil.SubsetTraining, false)
	require.NoError(t, err)
	val, err := gen.Flow(x, y, 4, dutil.SubsetValidation, false)
	require.NoError(t, err)

	assert.Equal(t, 8, train.Samples())
	assert.Equal(t, 3, train.Len())
	assert.Equal(t, 2, val.Samples())
	assert.Equal(t, 1, val.Len())

	// validation takes the leading samples
	vx, vy, err := val.Next()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, sampleIds(vx))
	assert.Equal(t, []float64{0, 1}, sampleIds(vy))
	assert.False(t, val.HasNext())

	var seen []float64
	for train.HasNext() {
		bx, by, err := train.Next()
		require.NoError(t, err)
		assert.Equal(t, sampleIds(bx), sampleIds(by))
		assert.Equal(t, []int64{2, 4, 4}, bx.MustSize()[1:])
		assert.Equal(t, []int64{1, 4, 4}, by.MustSize()[1:])
		seen = append(seen, sampleIds(bx)...)
	}
	assert.Equal(t, []float64{2, 3, 4, 5, 6, 7, 8, 9}, seen)

	train.Reset()
	assert.True(t, train.HasNext())
}

func TestFlow_ShuffleKeepsPairs(t *testing.T) {
	x, y := pairs(12)
	gen, err := dutil.NewImageDataGenerator(dutil.GeneratorConfig{
		ValidationSplit: 0.25,
		HorizontalFlip:  true,
		VerticalFlip:    true,
		Seed:            3,
	})
	require.NoError(t, err)

	it, err := gen.Flow(x, y, 4, dutil.SubsetTraining, true)
	require.NoError(t, err)
	for it.HasNext() {
		bx, by, err := it.Next()
		require.NoError(t, err)
		ids := sampleIds(bx)
		assert.Equal(t, ids, sampleIds(by))
		for _, id := range ids {
			assert.GreaterOrEqual(t, id, 3.0)
		}
	}
}

// gridPairs builds n 4x4 samples where pixel (h, w) of sample i holds
// i*100 + h*4 + w. Input channel 1 is channel 0 plus 50, the output equals
// channel 0.
func gridPairs(n int64) (x, y *ts.Tensor) {
	var xs, ys []float32
	for i := int64(0); i < n; i++ {
		for c := 0; c < 2; c++ {
			for p := 0; p < 16; p++ {
				xs = append(xs, float32(i*100)+float32(c*50+p))
			}
		}
		for p := 0; p < 16; p++ {
			ys = append(ys, float32(i*100+int64(p)))
		}
	}
	x = ts.MustOfSlice(xs).MustView([]int64{n, 2, 4, 4}, true)
	y = ts.MustOfSlice(ys).MustView([]int64{n, 1, 4, 4}, true)
	return x, y
}

// plane returns the 4x4 output plane of sample i, flipped as asked.
func plane(i int, flipV, flipH bool) []float64 {
	out := make([]float64, 16)
	for h := 0; h < 4; h++ {
		for w := 0; w < 4; w++ {
			sh, sw := h, w
			if flipV {
				sh = 3 - h
			}
			if flipH {
				sw = 3 - w
			}
			out[h*4+w] = float64(i*100 + sh*4 + sw)
		}
	}
	return out
}

func TestFlow_FlipsPerSample(t *testing.T) {
	cases := []struct {
		name  string
		cfg   dutil.GeneratorConfig
		flipV bool
		flipH bool
	}{
		{"Horizontal", dutil.GeneratorConfig{HorizontalFlip: true, Seed: 5}, false, true},
		{"Vertical", dutil.GeneratorConfig{VerticalFlip: true, Seed: 11}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			const n = 12
			x, y := gridPairs(n)
			gen, err := dutil.NewImageDataGenerator(tc.cfg)
			require.NoError(t, err)

			it, err := gen.Flow(x, y, n, dutil.SubsetAll, false)
			require.NoError(t, err)
			bx, by, err := it.Next()
			require.NoError(t, err)
			require.Equal(t, []int64{n, 2, 4, 4}, bx.MustSize())

			xv := bx.Float64Values()
			yv := by.Float64Values()
			var flipped int
			for i := 0; i < n; i++ {
				ch0 := xv[i*32 : i*32+16]
				ch1 := xv[i*32+16 : i*32+32]
				out := yv[i*16 : i*16+16]

				// input and output move together
				assert.Equal(t, ch0, out)
				for k := range ch0 {
					assert.Equal(t, ch0[k]+50, ch1[k])
				}

				switch {
				case assert.ObjectsAreEqual(plane(i, false, false), out):
				case assert.ObjectsAreEqual(plane(i, tc.flipV, tc.flipH), out):
					flipped++
				default:
					t.Errorf("sample %d is neither original nor flipped: %v", i, out)
				}
			}

			// each sample draws its own flip
			assert.Greater(t, flipped, 0)
			assert.Less(t, flipped, n)
		})
	}
}

func TestFlow_EmptySubset(t *testing.T) {
	x, y := pairs(4)
	gen, err := dutil.NewImageDataGenerator(dutil.GeneratorConfig{ValidationSplit: 0.1})
	require.NoError(t, err)

	_, err = gen.Flow(x, y, 2, dutil.SubsetValidation, false)
	assert.True(t, errors.Is(err, dutil.ErrEmptySubset))

	all, err := gen.Flow(x, y, 2, dutil.SubsetAll, false)
	require.NoError(t, err)
	assert.Equal(t, 4, all.Samples())
}

func TestFlow_MismatchedSamples(t *testing.T) {
	x, _ := pairs(4)
	_, y := pairs(3)
	gen, err := dutil.NewImageDataGenerator(dutil.GeneratorConfig{})
	require.NoError(t, err)

	_, err = gen.Flow(x, y, 2, dutil.SubsetAll, false)
	assert.Error(t, err)
}

func TestNewImageDataGenerator_InvalidSplit(t *testing.T) {
	_, err := dutil.NewImageDataGenerator(dutil.GeneratorConfig{ValidationSplit: 1})
	assert.Error(t, err)
}
