package dataloader

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
)

// readImage reads image from file.
func readImage(filename string) (image.Image, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png", ".jpg", ".jpeg":
		return imaging.Decode(f)
	case ".tiff", ".tif":
		return tiff.Decode(f)
	default:
		err = fmt.Errorf("Unsupported image format: %v\n", filepath.Ext(filename))
		return nil, err
	}
}

// fitImage resizes img to w x h when needed.
func fitImage(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// redGreen returns the red and green planes of img scaled to [0, 1], in
// channel-first order.
func redGreen(img *image.NRGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, 2*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			out[y*w+x] = float32(img.Pix[i]) / 255
			out[w*h+y*w+x] = float32(img.Pix[i+1]) / 255
		}
	}
	return out
}

// gray returns the luminance plane of img scaled to [0, 1].
func gray(img *image.NRGBA) []float32 {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = float32(g.Pix[g.PixOffset(b.Min.X+x, b.Min.Y+y)]) / 255
		}
	}
	return out
}
