package viz

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/nfnt/resize"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
)

// Values copies a tensor to host memory as float64 and returns it with its
// shape.
func Values(x *ts.Tensor) ([]float64, []int64) {
	d := x.MustTo(gotch.CPU, false).MustTotype(gotch.Double, true)
	vals := d.Float64Values()
	size := d.MustSize()
	d.MustDrop()

	return vals, size
}

// MinMax returns smallest and largest finite values.
func MinMax(vals []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// GrayImage renders h*w row-major values as a grayscale image, mapping
// [lo, hi] to [0, 255].
func GrayImage(vals []float64, h, w int, lo, hi float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	span := hi - lo
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := vals[y*w+x]
			var g float64
			if span > 0 {
				g = (v - lo) / span
			}
			g = math.Max(0, math.Min(1, g))
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(g * 255))})
		}
	}

	return img
}

// Channel returns the h*w values of channel c of sample i in an [N C H W]
// value slice.
func Channel(vals []float64, size []int64, i, c int) ([]float64, int, int, error) {
	if len(size) != 4 {
		return nil, 0, 0, fmt.Errorf("Expected [N C H W] tensor. Got shape %v\n", size)
	}
	n, ch, h, w := int(size[0]), int(size[1]), int(size[2]), int(size[3])
	if i >= n || c >= ch {
		return nil, 0, 0, fmt.Errorf("Sample %v channel %v out of range for shape %v\n", i, c, size)
	}
	start := (i*ch + c) * h * w

	return vals[start : start+h*w], h, w, nil
}

// Upscale enlarges img by an integer factor, keeping pixels sharp.
func Upscale(img image.Image, scale int) image.Image {
	if scale <= 1 {
		return img
	}
	b := img.Bounds()
	return resize.Resize(uint(b.Dx()*scale), uint(b.Dy()*scale), img, resize.NearestNeighbor)
}

// SaveGrid draws rows of panels onto a white canvas separated by pad pixels
// and writes it as PNG.
func SaveGrid(path string, rows [][]image.Image, pad int) error {
	var width, height int
	for _, row := range rows {
		rw, rh := pad, 0
		for _, p := range row {
			b := p.Bounds()
			rw += b.Dx() + pad
			if b.Dy() > rh {
				rh = b.Dy()
			}
		}
		if rw > width {
			width = rw
		}
		height += rh + pad
	}
	height += pad
	if width == 0 || height == 0 {
		return fmt.Errorf("Nothing to draw for %v\n", path)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	y := pad
	for _, row := range rows {
		x, rh := pad, 0
		for _, p := range row {
			b := p.Bounds()
			r := image.Rect(x, y, x+b.Dx(), y+b.Dy())
			draw.Draw(canvas, r, p, b.Min, draw.Src)
			x += b.Dx() + pad
			if b.Dy() > rh {
				rh = b.Dy()
			}
		}
		y += rh + pad
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, canvas); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
