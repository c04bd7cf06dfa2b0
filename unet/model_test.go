package unet_test

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/unetreg/base"
	"github.com/sugarme/unetreg/unet"
)

func TestNewUNet_Shapes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := unet.NewUNet(vs.Root())

	assert.Equal(t, []int64{2, 50, 50}, net.InputShape())
	assert.Equal(t, []int64{1, 50, 50}, net.OutputShape())

	for _, train := range []bool{false, true} {
		image := ts.MustRand([]int64{3, 2, 50, 50}, gotch.Float, gotch.CPU)
		var pred *ts.Tensor
		ts.NoGrad(func() {
			pred = net.ForwardT(image, train)
		})
		assert.Equal(t, []int64{3, 1, 50, 50}, pred.MustSize())

		// final ReLU
		assert.GreaterOrEqual(t, pred.MustMin(false).Float64Values()[0], 0.0)

		image.MustDrop()
		pred.MustDrop()
	}
}

func TestNewUNet_Architecture(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := unet.NewUNet(vs.Root())
	layers := net.Layers()

	var convs []base.LayerInfo
	for _, l := range layers {
		if l.Kind == "conv_bn_relu" {
			convs = append(convs, l)
		}
	}
	// 4 encoder stages + 3 decoder stages, 3 blocks each.
	require.Len(t, convs, 21)

	var widths []int64
	for _, l := range convs {
		widths = append(widths, l.Out)
	}
	assert.Equal(t, []int64{
		64, 64, 64, 128, 128, 128, 256, 256, 256, 512, 512, 512,
		256, 256, 256, 128, 128, 128, 64, 64, 64,
	}, widths)

	// first conv is unpadded
	assert.Equal(t, "valid", convs[0].Padding)
	assert.Equal(t, int64(2), convs[0].In)

	// decoder stages open with a 2x2 kernel on [skip, up] channels
	assert.Equal(t, int64(2), convs[12].Kernel)
	assert.Equal(t, int64(256+512), convs[12].In)
	assert.Equal(t, int64(128+256), convs[15].In)
	assert.Equal(t, int64(64+128), convs[18].In)

	last := layers[len(layers)-1]
	assert.Equal(t, "head", last.Name)
	assert.Equal(t, int64(3), last.In)
	assert.Equal(t, int64(1), last.Out)
}

// Layers are recorded while blocks are built, so every conv entry names a
// weight with matching channels and kernel.
func TestNewUNet_LayersMatchVariables(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	net := unet.NewUNet(vs.Root())
	shapes := varShapes(vs)

	var checked int
	for _, l := range net.Layers() {
		var key string
		switch l.Kind {
		case "conv_bn_relu", "conv_relu":
			key = l.Name + ".conv.weight"
		case "conv_transpose":
			key = l.Name + ".weight"
		default:
			continue
		}
		shape, ok := shapes[key]
		if !assert.True(t, ok, "no variable %q", key) {
			continue
		}
		if l.Kind == "conv_transpose" {
			// transposed conv weights are [in out k k]
			assert.Equal(t, []int64{l.In, l.Out, l.Kernel, l.Kernel}, shape, key)
		} else {
			assert.Equal(t, []int64{l.Out, l.In, l.Kernel, l.Kernel}, shape, key)
		}
		checked++
	}
	// 21 conv blocks, transposed conv and head
	assert.Equal(t, 23, checked, fmt.Sprint(net.Layers()))
}

func TestNewUNet_Deterministic(t *testing.T) {
	vs1 := nn.NewVarStore(gotch.CPU)
	net1 := unet.NewUNet(vs1.Root())
	vs2 := nn.NewVarStore(gotch.CPU)
	net2 := unet.NewUNet(vs2.Root())

	assert.Equal(t, net1.Layers(), net2.Layers())

	v1 := varShapes(vs1)
	v2 := varShapes(vs2)
	assert.Equal(t, v1, v2)
	assert.NotEmpty(t, v1)
}

func varShapes(vs *nn.VarStore) map[string][]int64 {
	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	shapes := make(map[string][]int64, len(names))
	for _, n := range names {
		v := vars[n]
		shapes[n] = v.MustSize()
	}
	return shapes
}
