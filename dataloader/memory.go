package dataloader

import (
	"math/rand"

	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/unet"
)

// MemoryLoader serves tensors that are already in memory.
type MemoryLoader struct {
	TrainIn  *ts.Tensor
	TrainOut *ts.Tensor
	TestIn   *ts.Tensor
	TestOut  *ts.Tensor
}

// Load implements the data-loading collaborator.
func (l *MemoryLoader) Load(show bool) (trainIn, trainOut, testIn, testOut *ts.Tensor, err error) {
	return l.TrainIn, l.TrainOut, l.TestIn, l.TestOut, nil
}

// NewSyntheticLoader builds a MemoryLoader of random 50x50 samples whose
// output is the pixelwise mean of the two input channels.
func NewSyntheticLoader(nTrain, nTest int, seed int64) *MemoryLoader {
	rng := rand.New(rand.NewSource(seed))
	trainIn, trainOut := synthetic(nTrain, rng)
	testIn, testOut := synthetic(nTest, rng)

	return &MemoryLoader{
		TrainIn:  trainIn,
		TrainOut: trainOut,
		TestIn:   testIn,
		TestOut:  testOut,
	}
}

func synthetic(n int, rng *rand.Rand) (*ts.Tensor, *ts.Tensor) {
	h, w := unet.Height, unet.Width
	plane := int(h * w)
	inputs := make([]float32, n*2*plane)
	outputs := make([]float32, n*plane)
	for i := 0; i < n; i++ {
		for j := 0; j < plane; j++ {
			r := rng.Float32()
			g := rng.Float32()
			inputs[i*2*plane+j] = r
			inputs[i*2*plane+plane+j] = g
			outputs[i*plane+j] = (r + g) / 2
		}
	}

	x := ts.MustOfSlice(inputs).MustView([]int64{int64(n), 2, h, w}, true)
	y := ts.MustOfSlice(outputs).MustView([]int64{int64(n), 1, h, w}, true)
	return x, y
}
