package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sugarme/unetreg/schedule"
)

func TestExponentialDecay(t *testing.T) {
	s := schedule.NewExponentialDecay(0.1, 10, 0.5, false)

	assert.InDelta(t, 0.1, s.LR(0), 1e-12)
	assert.InDelta(t, 0.05, s.LR(10), 1e-12)
	assert.InDelta(t, 0.025, s.LR(20), 1e-12)
	// continuous between intervals
	assert.InDelta(t, 0.1*0.70710678118, s.LR(5), 1e-9)
}

func TestExponentialDecay_Staircase(t *testing.T) {
	s := schedule.NewExponentialDecay(0.1, 10, 0.5, true)

	assert.InDelta(t, 0.1, s.LR(9), 1e-12)
	assert.InDelta(t, 0.05, s.LR(10), 1e-12)
	assert.InDelta(t, 0.05, s.LR(19), 1e-12)
}

func TestExponentialDecay_Monotonic(t *testing.T) {
	s := schedule.NewExponentialDecay(1e-3, 100, 0.96, false)
	prev := s.LR(0)
	for step := 1; step < 1000; step += 7 {
		lr := s.LR(step)
		assert.Less(t, lr, prev)
		prev = lr
	}
}
