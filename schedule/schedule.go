package schedule

import (
	"math"
)

// Schedule maps an optimizer step to a learning rate.
type Schedule interface {
	LR(step int) float64
}

// ExponentialDecay decays the learning rate exponentially in the step count:
//
//	lr = InitialLR * DecayRate ^ (step / DecaySteps)
//
// With Staircase set the exponent is truncated to an integer, so the rate
// drops in discrete intervals.
type ExponentialDecay struct {
	InitialLR  float64
	DecaySteps int
	DecayRate  float64
	Staircase  bool
}

// NewExponentialDecay creates an ExponentialDecay schedule.
func NewExponentialDecay(initialLR float64, decaySteps int, decayRate float64, staircase bool) *ExponentialDecay {
	if decaySteps <= 0 {
		decaySteps = 1
	}
	return &ExponentialDecay{
		InitialLR:  initialLR,
		DecaySteps: decaySteps,
		DecayRate:  decayRate,
		Staircase:  staircase,
	}
}

// LR implements Schedule.
func (s *ExponentialDecay) LR(step int) float64 {
	p := float64(step) / float64(s.DecaySteps)
	if s.Staircase {
		p = math.Floor(p)
	}
	return s.InitialLR * math.Pow(s.DecayRate, p)
}
