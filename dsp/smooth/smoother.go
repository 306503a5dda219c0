// Package smooth provides linear parameter smoothing for audio-rate control.
//
// Every externally exposed engine control (gain, envelope times, vibrato)
// feeds the audio path through a Smoother so that a sudden control change
// never produces a discontinuity in the audio stream.
package smooth

import (
	"fmt"
	"math"
)

// Smoother ramps a scalar control value linearly toward a target over a
// fixed time window. After the ramp completes, Tick returns the target
// exactly, with no residual drift.
//
// This smoother is real-time safe and not thread-safe.
type Smoother struct {
	timeConstant float64
	sampleRate   float64

	current   float64
	target    float64
	step      float64
	countdown int
}

// NewSmoother creates a smoother with the given ramp time in seconds.
func NewSmoother(timeConstant, sampleRate float64) (*Smoother, error) {
	s := &Smoother{}

	err := s.Configure(timeConstant, sampleRate)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Configure updates the ramp time constant and sample rate.
// An in-flight ramp is re-aimed at its target using the new settings.
func (s *Smoother) Configure(timeConstant, sampleRate float64) error {
	if timeConstant < 0 || math.IsNaN(timeConstant) || math.IsInf(timeConstant, 0) {
		return fmt.Errorf("smoother time constant must be non-negative and finite: %f", timeConstant)
	}

	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("smoother sample rate must be positive and finite: %f", sampleRate)
	}

	s.timeConstant = timeConstant
	s.sampleRate = sampleRate

	if s.countdown > 0 {
		s.retarget()
	}

	return nil
}

// TimeConstant returns the ramp time in seconds.
func (s *Smoother) TimeConstant() float64 { return s.timeConstant }

// SampleRate returns the sample rate in Hz.
func (s *Smoother) SampleRate() float64 { return s.sampleRate }

// Current returns the present smoothed value without advancing the ramp.
func (s *Smoother) Current() float64 { return s.current }

// Target returns the value the ramp is heading toward.
func (s *Smoother) Target() float64 { return s.target }

// Done reports whether the ramp has completed.
func (s *Smoother) Done() bool { return s.countdown == 0 }

// SetTarget starts a linear ramp from the current value toward target.
func (s *Smoother) SetTarget(target float64) {
	s.target = target
	s.retarget()
}

// SetImmediate jumps to target with no ramp.
func (s *Smoother) SetImmediate(target float64) {
	s.target = target
	s.current = target
	s.step = 0
	s.countdown = 0
}

// Tick advances the ramp by one sample and returns the new current value.
// Once the countdown reaches zero, Tick returns the target exactly.
func (s *Smoother) Tick() float64 {
	if s.countdown == 0 {
		return s.current
	}

	s.current += s.step
	s.countdown--

	if s.countdown == 0 {
		s.current = s.target
	}

	return s.current
}

func (s *Smoother) retarget() {
	n := int(math.Round(s.timeConstant * s.sampleRate))
	if n <= 0 || s.target == s.current {
		s.current = s.target
		s.step = 0
		s.countdown = 0

		return
	}

	s.countdown = n
	s.step = (s.target - s.current) / float64(n)
}
