package base

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Padding selects how a convolution treats image borders.
type Padding int

const (
	// Valid applies no padding: output shrinks by ksize-1.
	Valid Padding = iota
	// Same pads so that output and input have the same height and width.
	Same
)

func (p Padding) String() string {
	switch p {
	case Valid:
		return "valid"
	case Same:
		return "same"
	default:
		return fmt.Sprintf("Padding(%d)", int(p))
	}
}

// Conv2d creates Conv2D module.
func Conv2d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv2D {
	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{stride, stride}
	config.Padding = []int64{padding, padding}

	return nn.NewConv2D(p, cIn, cOut, ksize, config)
}

// Conv2dPadded creates a stride-1 Conv2D module with the given padding mode.
//
// For `Same` with an even kernel size the total padding ksize-1 is odd and
// cannot be split evenly. The extra row and column go after the image (bottom
// and right), so the input is padded explicitly before an unpadded conv.
func Conv2dPadded(p *nn.Path, cIn, cOut, ksize int64, padding Padding) ts.ModuleT {
	if padding == Valid {
		return Conv2d(p, cIn, cOut, ksize, 0, 1)
	}
	if ksize%2 == 1 {
		return Conv2d(p, cIn, cOut, ksize, ksize/2, 1)
	}

	before := (ksize - 1) / 2
	after := ksize - 1 - before
	conv := Conv2d(p, cIn, cOut, ksize, 0, 1)
	seq := nn.SeqT()
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		// (left, right, top, bottom)
		return xs.MustConstantPadNd([]int64{before, after, before, after}, false)
	}))
	seq.Add(conv)

	return seq
}

// Conv2dBnRelu creates a SequentialT composing of Conv2D, BatchNorm2D and a
// ReLU activation.
func Conv2dBnRelu(p *nn.Path, cIn, cOut, ksize int64, padding Padding) *nn.SequentialT {
	// Keras BatchNormalization defaults: eps 1e-3, moving average 0.99
	// (torch momentum 0.01), gamma initialized to ones.
	bnConfig := nn.DefaultBatchNormConfig()
	bnConfig.Eps = 0.001
	bnConfig.Momentum = 0.01
	bnConfig.WsInit = nn.NewConstInit(1.0)
	seq := nn.SeqT()
	seq.Add(Conv2dPadded(p.Sub("conv"), cIn, cOut, ksize, padding))
	seq.Add(nn.BatchNorm2D(p.Sub("bn"), cOut, bnConfig))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// MaxPool2d halves height and width: kernel 2, stride 2.
func MaxPool2d(x *ts.Tensor) *ts.Tensor {
	// ksize = 2; stride=2; padding=0; dilation=1; ceil=false
	return x.MustMaxPool2d([]int64{2, 2}, []int64{2, 2}, []int64{0, 0}, []int64{1, 1}, false, false)
}
