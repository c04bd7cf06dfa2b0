package unet

import (
	"fmt"
	"log"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/base"
)

// upsample resizes x to the height and width of ref using `nearest`
// interpolation.
func upsample(x, ref *ts.Tensor) *ts.Tensor {
	refSize := ref.MustSize()
	return x.MustUpsampleNearest2d(refSize[2:], nil, nil, false)
}

// DecoderStage describes one expanding stage.
type DecoderStage struct {
	Channels int64
	// Kernels holds one kernel size per conv block.
	Kernels []int64
}

// DefaultDecoderStages mirror the contracting widths 256/128/64. The first
// block of each stage uses a 2x2 kernel.
var DefaultDecoderStages = []DecoderStage{
	{Channels: 256, Kernels: []int64{2, 3, 3}},
	{Channels: 128, Kernels: []int64{2, 3, 3}},
	{Channels: 64, Kernels: []int64{2, 3, 3}},
}

// UpStage upsamples, concatenates the skip connection and forwards through
// conv blocks.
type UpStage struct {
	Conv   *nn.SequentialT
	layers []base.LayerInfo
}

// NewUpStage creates new UpStage.
func NewUpStage(p *nn.Path, cIn, cSkip int64, stage DecoderStage) *UpStage {
	seq := nn.SeqT()
	c := cIn + cSkip
	layers := []base.LayerInfo{
		{Name: "upsample", Kind: "upsample_nearest", In: cIn, Out: cIn, Kernel: 2},
		{Name: "concat", Kind: "concat", In: c, Out: c},
	}
	for i, k := range stage.Kernels {
		seq.Add(base.Conv2dBnRelu(p.Sub(fmt.Sprint(i)), c, stage.Channels, k, base.Same))
		layers = append(layers, base.LayerInfo{
			Name:    fmt.Sprint(i),
			Kind:    "conv_bn_relu",
			In:      c,
			Out:     stage.Channels,
			Kernel:  k,
			Padding: base.Same.String(),
		})
		c = stage.Channels
	}

	return &UpStage{Conv: seq, layers: layers}
}

// ForwardSkip upsamples x to the size of skip, concatenates [skip, x] along
// channels and forwards through the conv blocks.
func (l *UpStage) ForwardSkip(x, skip *ts.Tensor, train bool) *ts.Tensor {
	up := upsample(x, skip)
	cat := ts.MustCat([]ts.Tensor{*skip, *up}, 1)
	up.MustDrop()

	out := l.Conv.ForwardT(cat, train)
	cat.MustDrop()

	return out
}

// UNetDecoder is Decoder struct for UNet model.
type UNetDecoder struct {
	stages []*UpStage
	layers []base.LayerInfo
}

// NewUNetDecoder creates UNetDecoder. encoderChannels are the widths of the
// encoder features, highest resolution first; the deepest one feeds the
// first decoder stage.
func NewUNetDecoder(p *nn.Path, encoderChannels []int64, stages []DecoderStage) *UNetDecoder {
	if len(encoderChannels) != len(stages)+1 {
		log.Fatalf("Expected %v encoder channels. Got %v\n", len(stages)+1, len(encoderChannels))
	}

	var (
		ups    []*UpStage
		layers []base.LayerInfo
	)
	cIn := encoderChannels[len(encoderChannels)-1]
	for i, s := range stages {
		cSkip := encoderChannels[len(encoderChannels)-2-i]
		name := fmt.Sprintf("up%d", i+1)
		up := NewUpStage(p.Sub(name), cIn, cSkip, s)
		ups = append(ups, up)
		layers = append(layers, base.PrefixLayers(name+".", up.layers)...)
		cIn = s.Channels
	}

	return &UNetDecoder{stages: ups, layers: layers}
}

// Layers returns the layers in forward order.
func (d *UNetDecoder) Layers() []base.LayerInfo {
	return append([]base.LayerInfo(nil), d.layers...)
}

// ForwardFeatures forwards through encoder features.
func (d *UNetDecoder) ForwardFeatures(features []*ts.Tensor, train bool) *ts.Tensor {
	if len(features) != len(d.stages)+1 {
		log.Fatalf("Expected features of %v tensors. Got %v\n", len(d.stages)+1, len(features))
	}

	// feat3: [bz 512 6 6]
	x := features[len(features)-1]
	for i, stage := range d.stages {
		skip := features[len(features)-2-i]
		z := stage.ForwardSkip(x, skip, train) // z0 [bz 256 12 12], z1 [bz 128 24 24], z2 [bz 64 48 48]
		if i > 0 {
			x.MustDrop()
		}
		x = z
	}

	return x
}
