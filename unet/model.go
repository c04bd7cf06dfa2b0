package unet

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/base"
	"github.com/sugarme/unetreg/encoder"
)

// Fixed input and output geometry.
const (
	Height      int64 = 50
	Width       int64 = 50
	InChannels  int64 = 2
	OutChannels int64 = 1
)

// UNet is a UNET model struct
// Ref: https://arxiv.org/abs/1505.04597
type UNet struct {
	encoder encoder.Encoder
	decoder *UNetDecoder
	restore *nn.ConvTranspose2D
	head    *nn.SequentialT
	layers  []base.LayerInfo
}

// NewUNet creates the fixed 50x50x2 -> 50x50x1 UNet.
func NewUNet(p *nn.Path) *UNet {
	var encoderChannels []int64
	for _, s := range encoder.DefaultStages {
		encoderChannels = append(encoderChannels, s.Channels)
	}
	enc := encoder.NewConvEncoder(p.Sub("encoder"), InChannels, encoder.DefaultStages)
	dec := NewUNetDecoder(p.Sub("decoder"), encoderChannels, DefaultDecoderStages)

	// Unpadded 3x3 transposed conv grows 48x48 back to 50x50.
	last := DefaultDecoderStages[len(DefaultDecoderStages)-1].Channels
	restore := nn.NewConvTranspose2D(p.Sub("restore"), last, OutChannels, []int64{3, 3}, nn.DefaultConvTranspose2DConfig())

	// Input is concatenated back in before the head: cIn = InChannels + OutChannels.
	head := base.NewRegressionHead(p.Sub("head"), InChannels+OutChannels, OutChannels)

	var layers []base.LayerInfo
	layers = append(layers, base.PrefixLayers("encoder.", enc.Layers())...)
	layers = append(layers, base.PrefixLayers("decoder.", dec.Layers())...)
	layers = append(layers,
		base.LayerInfo{Name: "restore", Kind: "conv_transpose", In: last, Out: OutChannels, Kernel: 3, Padding: base.Valid.String()},
		base.LayerInfo{Name: "concat_input", Kind: "concat", In: InChannels + OutChannels, Out: InChannels + OutChannels},
		base.LayerInfo{Name: "head", Kind: "conv_relu", In: InChannels + OutChannels, Out: OutChannels, Kernel: 1, Padding: base.Valid.String()},
	)

	return &UNet{
		encoder: enc,
		decoder: dec,
		restore: restore,
		head:    head,
		layers:  layers,
	}
}

// ForwardT implements ts.ModuleT for UNet struct.
func (n *UNet) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	// 0- Shape: [B   2 50 50]
	// 1- Shape: [B  64 48 48]
	// 2- Shape: [B 128 24 24]
	// 3- Shape: [B 256 12 12]
	// 4- Shape: [B 512  6  6]
	features := n.encoder.ForwardAll(x, train)
	out := n.decoder.ForwardFeatures(features, train) // [B 64 48 48]
	restored := n.restore.Forward(out)                // [B  1 50 50]
	merged := ts.MustCat([]ts.Tensor{*x, *restored}, 1)
	pred := n.head.ForwardT(merged, train) // [B 1 50 50]

	for _, f := range features {
		f.MustDrop()
	}
	out.MustDrop()
	restored.MustDrop()
	merged.MustDrop()

	return pred
}

// Layers returns the layers NewUNet constructed, in forward order.
func (n *UNet) Layers() []base.LayerInfo {
	return append([]base.LayerInfo(nil), n.layers...)
}

// InputShape returns the expected shape of one sample, [C H W].
func (n *UNet) InputShape() []int64 {
	return []int64{InChannels, Height, Width}
}

// OutputShape returns the shape of one predicted sample, [C H W].
func (n *UNet) OutputShape() []int64 {
	return []int64{OutChannels, Height, Width}
}
