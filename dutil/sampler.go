package dutil

import (
	"fmt"
	"math/rand"
	"time"
)

// BatchSampler yields batches of indices in [0, n).
type BatchSampler struct {
	n         int
	batchSize int
	dropLast  bool
	shuffle   bool
	rng       *rand.Rand

	indices []int
	pos     int
}

// NewBatchSampler creates a BatchSampler over n samples. A random source can
// be passed for reproducible shuffling; otherwise one is seeded from time.
func NewBatchSampler(n, batchSize int, dropLast, shuffle bool, rngOpt ...*rand.Rand) (*BatchSampler, error) {
	if n <= 0 {
		err := fmt.Errorf("Invalid number of samples: %v\n", n)
		return nil, err
	}
	if batchSize <= 0 {
		err := fmt.Errorf("Invalid batch size: %v\n", batchSize)
		return nil, err
	}
	if dropLast && batchSize > n {
		err := fmt.Errorf("Batch size (%v) is larger than number of samples (%v) with dropLast\n", batchSize, n)
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if len(rngOpt) > 0 && rngOpt[0] != nil {
		rng = rngOpt[0]
	}

	s := &BatchSampler{
		n:         n,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
		rng:       rng,
	}
	s.Reset()

	return s, nil
}

// Reset starts a new pass, reshuffling if enabled.
func (s *BatchSampler) Reset() {
	if s.indices == nil {
		s.indices = make([]int, s.n)
	}
	for i := range s.indices {
		s.indices[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(s.indices), func(i, j int) {
			s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
		})
	}
	s.pos = 0
}

// HasNext reports whether the current pass has another batch.
func (s *BatchSampler) HasNext() bool {
	remain := s.n - s.pos
	if s.dropLast {
		return remain >= s.batchSize
	}
	return remain > 0
}

// Next returns the next batch of indices.
func (s *BatchSampler) Next() ([]int, error) {
	if !s.HasNext() {
		return nil, fmt.Errorf("BatchSampler: no more batches in this pass")
	}
	end := s.pos + s.batchSize
	if end > s.n {
		end = s.n
	}
	batch := make([]int, end-s.pos)
	copy(batch, s.indices[s.pos:end])
	s.pos = end

	return batch, nil
}

// Len returns number of batches per pass.
func (s *BatchSampler) Len() int {
	if s.dropLast {
		return s.n / s.batchSize
	}
	return (s.n + s.batchSize - 1) / s.batchSize
}
