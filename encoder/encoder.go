package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/base"
)

// Encoder is encoder interface for a image segmentation model.
type Encoder interface {
	ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor
}

// Stage describes one resolution level of the contracting path.
type Stage struct {
	Channels int64
	Blocks   int
	// FirstPadding applies to the first conv block only, the rest use Same.
	FirstPadding base.Padding
}

// DefaultStages are the four contracting stages 64/128/256/512. The first
// convolution is unpadded, taking a 50x50 input down to 48x48 so that three
// poolings halve evenly (48 -> 24 -> 12 -> 6).
var DefaultStages = []Stage{
	{Channels: 64, Blocks: 3, FirstPadding: base.Valid},
	{Channels: 128, Blocks: 3, FirstPadding: base.Same},
	{Channels: 256, Blocks: 3, FirstPadding: base.Same},
	{Channels: 512, Blocks: 3, FirstPadding: base.Same},
}

// ConvEncoder is the contracting path of UNet: stacks of conv-bn-relu
// blocks separated by 2x2 max pooling.
type ConvEncoder struct {
	stages []*nn.SequentialT
	layers []base.LayerInfo
}

// NewConvEncoder creates ConvEncoder.
func NewConvEncoder(p *nn.Path, cIn int64, stages []Stage) *ConvEncoder {
	var (
		seqs   []*nn.SequentialT
		layers []base.LayerInfo
	)
	for i, s := range stages {
		if i > 0 {
			layers = append(layers, base.LayerInfo{Name: fmt.Sprintf("pool%d", i), Kind: "maxpool", In: cIn, Out: cIn, Kernel: 2})
		}
		name := fmt.Sprintf("down%d", i+1)
		sp := p.Sub(name)
		seq := nn.SeqT()
		c := cIn
		for b := 0; b < s.Blocks; b++ {
			padding := base.Same
			if b == 0 {
				padding = s.FirstPadding
			}
			seq.Add(base.Conv2dBnRelu(sp.Sub(fmt.Sprint(b)), c, s.Channels, 3, padding))
			layers = append(layers, base.LayerInfo{
				Name:    fmt.Sprintf("%s.%d", name, b),
				Kind:    "conv_bn_relu",
				In:      c,
				Out:     s.Channels,
				Kernel:  3,
				Padding: padding.String(),
			})
			c = s.Channels
		}
		seqs = append(seqs, seq)
		cIn = s.Channels
	}

	return &ConvEncoder{stages: seqs, layers: layers}
}

// Layers returns the layers in forward order.
func (e *ConvEncoder) Layers() []base.LayerInfo {
	return append([]base.LayerInfo(nil), e.layers...)
}

// ForwardAll implements Encoder interface for ConvEncoder.
// It returns the output of every stage, highest resolution first.
func (e *ConvEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	// E.g. x [B 2 50 50]
	// 0- [B  64 48 48]
	// 1- [B 128 24 24]
	// 2- [B 256 12 12]
	// 3- [B 512  6  6]
	var features []*ts.Tensor
	for i, stage := range e.stages {
		if i == 0 {
			features = append(features, stage.ForwardT(x, train))
			continue
		}
		pooled := base.MaxPool2d(features[i-1])
		features = append(features, stage.ForwardT(pooled, train))
		pooled.MustDrop()
	}

	return features
}
