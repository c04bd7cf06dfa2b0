package dutil

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	ts "github.com/sugarme/gotch/tensor"
)

// Subset selects a side of the validation split.
type Subset int

const (
	// SubsetAll uses every sample, ignoring the validation split.
	SubsetAll Subset = iota
	// SubsetTraining uses the samples after the split point.
	SubsetTraining
	// SubsetValidation uses the first int(n*split) samples.
	SubsetValidation
)

func (s Subset) String() string {
	switch s {
	case SubsetAll:
		return "all"
	case SubsetTraining:
		return "training"
	case SubsetValidation:
		return "validation"
	default:
		return fmt.Sprintf("Subset(%d)", int(s))
	}
}

// ErrEmptySubset is returned when a subset holds no samples.
var ErrEmptySubset = errors.New("dutil: subset has no samples")

// GeneratorConfig configures an ImageDataGenerator.
type GeneratorConfig struct {
	ValidationSplit float64
	HorizontalFlip  bool
	VerticalFlip    bool
	Seed            int64
}

// ImageDataGenerator produces batches of paired image tensors, optionally
// flipped, with a training/validation split.
type ImageDataGenerator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// NewImageDataGenerator creates ImageDataGenerator. A zero seed seeds from
// the clock.
func NewImageDataGenerator(cfg GeneratorConfig) (*ImageDataGenerator, error) {
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return nil, fmt.Errorf("dutil: validation split must be in [0, 1), got %v", cfg.ValidationSplit)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &ImageDataGenerator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// SplitIndex returns the number of validation samples among n.
func (g *ImageDataGenerator) SplitIndex(n int64) int64 {
	return int64(float64(n) * g.cfg.ValidationSplit)
}

// Flow creates an Iterator over x, y restricted to subset. x and y must have
// the same number of samples along dim 0.
func (g *ImageDataGenerator) Flow(x, y *ts.Tensor, batchSize int, subset Subset, shuffle bool) (*Iterator, error) {
	n := x.MustSize()[0]
	if yn := y.MustSize()[0]; yn != n {
		return nil, fmt.Errorf("dutil: input has %v samples, output has %v", n, yn)
	}

	split := g.SplitIndex(n)
	var start, length int64
	switch subset {
	case SubsetAll:
		start, length = 0, n
	case SubsetTraining:
		start, length = split, n-split
	case SubsetValidation:
		start, length = 0, split
	default:
		return nil, fmt.Errorf("dutil: unknown subset %v", subset)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrEmptySubset, subset)
	}

	sampler, err := NewBatchSampler(int(length), batchSize, false, shuffle, g.rng)
	if err != nil {
		return nil, err
	}

	return &Iterator{
		x:       x.MustNarrow(0, start, length, false),
		y:       y.MustNarrow(0, start, length, false),
		sampler: sampler,
		gen:     g,
	}, nil
}

// Iterator yields batches of one Flow.
type Iterator struct {
	x, y    *ts.Tensor
	sampler *BatchSampler
	gen     *ImageDataGenerator
}

// HasNext reports whether the current pass has another batch.
func (it *Iterator) HasNext() bool {
	return it.sampler.HasNext()
}

// Next returns the next (input, output) batch. The caller owns both tensors.
func (it *Iterator) Next() (x, y *ts.Tensor, err error) {
	idx, err := it.sampler.Next()
	if err != nil {
		return nil, nil, err
	}

	ids := make([]int64, len(idx))
	for i, v := range idx {
		ids[i] = int64(v)
	}
	idxTs := ts.MustOfSlice(ids)
	x = it.x.MustIndexSelect(0, idxTs, false)
	y = it.y.MustIndexSelect(0, idxTs, false)
	idxTs.MustDrop()

	x, y = it.gen.augment(x, y)

	return x, y, nil
}

// Reset starts a new pass over the subset.
func (it *Iterator) Reset() {
	it.sampler.Reset()
}

// Len returns the number of batches per pass.
func (it *Iterator) Len() int {
	return it.sampler.Len()
}

// Samples returns the number of samples in the subset.
func (it *Iterator) Samples() int {
	return int(it.x.MustSize()[0])
}

// Drop frees the subset views.
func (it *Iterator) Drop() {
	it.x.MustDrop()
	it.y.MustDrop()
}

// augment flips each sample of a batch independently, input and output
// together so pairs stay aligned. [B C H W]: dim 3 is horizontal, dim 2
// vertical.
func (g *ImageDataGenerator) augment(x, y *ts.Tensor) (*ts.Tensor, *ts.Tensor) {
	if !g.cfg.HorizontalFlip && !g.cfg.VerticalFlip {
		return x, y
	}

	n := x.MustSize()[0]
	xs := make([]ts.Tensor, n)
	ys := make([]ts.Tensor, n)
	for i := int64(0); i < n; i++ {
		xi := x.MustNarrow(0, i, 1, false)
		yi := y.MustNarrow(0, i, 1, false)
		if dims := g.flipDims(); len(dims) > 0 {
			xi = xi.MustFlip(dims, true)
			yi = yi.MustFlip(dims, true)
		}
		xs[i], ys[i] = *xi, *yi
	}

	xOut := ts.MustCat(xs, 0)
	yOut := ts.MustCat(ys, 0)
	for i := range xs {
		xs[i].MustDrop()
		ys[i].MustDrop()
	}
	x.MustDrop()
	y.MustDrop()

	return xOut, yOut
}

// flipDims draws the flips of one sample.
func (g *ImageDataGenerator) flipDims() []int64 {
	var dims []int64
	if g.cfg.VerticalFlip && g.rng.Intn(2) == 1 {
		dims = append(dims, 2)
	}
	if g.cfg.HorizontalFlip && g.rng.Intn(2) == 1 {
		dims = append(dims, 3)
	}
	return dims
}
