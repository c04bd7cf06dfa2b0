package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// NewRegressionHead creates a 1x1 convolution followed by ReLU, so every
// predicted pixel is non-negative.
func NewRegressionHead(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv2d(p.Sub("conv"), cIn, cOut, 1, 0, 1))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}
