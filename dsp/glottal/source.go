// Package glottal generates glottal pulse trains, the voiced excitation
// signal that the formant resonator bank subsequently shapes into vowels.
package glottal

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Model selects the glottal pulse shape.
type Model int

const (
	// ModelRosenberg is the classic Rosenberg pulse: sinusoidal opening,
	// exponential return, closed remainder.
	ModelRosenberg Model = iota
	// ModelLF is the Liljencrants-Fant pulse, an asymmetric shape with a
	// sharper closing slope.
	ModelLF
	// ModelDifferentiated is the derivative of the Rosenberg pulse,
	// approximating glottal flow derivative excitation.
	ModelDifferentiated
)

// String returns the model name.
func (m Model) String() string {
	switch m {
	case ModelRosenberg:
		return "rosenberg"
	case ModelLF:
		return "lf"
	case ModelDifferentiated:
		return "differentiated"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

const (
	// MinFrequency is the lowest fundamental the source will produce, in Hz.
	MinFrequency = 20.0
	// MaxFrequency is the highest fundamental the source will produce, in Hz.
	MaxFrequency = 1000.0

	minSampleRate = 8000.0
	maxSampleRate = 192000.0

	defaultFrequency     = 110.0
	defaultOpenQuotient  = 0.5
	defaultSpeedQuotient = 0.5
	defaultReturnPhase   = 0.1

	// diffDelta is the step used for the numeric derivative of the
	// differentiated model.
	diffDelta = 0.001
	// diffScale keeps the differentiated pulse in a comparable amplitude
	// range to the other models.
	diffScale = 0.1
)

// Source is a glottal pulse train generator. Frequency and pulse-shape
// setters clamp out-of-range values rather than failing so that live
// modulation can never leave the oscillator in an invalid state.
//
// This generator is mono, real-time safe, and not thread-safe.
type Source struct {
	frequency  float64
	sampleRate float64
	model      Model

	openQuotient  float64
	speedQuotient float64
	returnPhase   float64

	phase          float64
	phaseIncrement float64
}

// NewSource creates a source with a 110 Hz fundamental and the Rosenberg
// model.
func NewSource(sampleRate float64) (*Source, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("glottal source sample rate must be positive and finite: %f", sampleRate)
	}

	s := &Source{
		frequency:     defaultFrequency,
		sampleRate:    core.Clamp(sampleRate, minSampleRate, maxSampleRate),
		model:         ModelRosenberg,
		openQuotient:  defaultOpenQuotient,
		speedQuotient: defaultSpeedQuotient,
		returnPhase:   defaultReturnPhase,
	}
	s.updatePhaseIncrement()

	return s, nil
}

// SetFrequency sets the fundamental in Hz, clamped to [20, 1000].
func (s *Source) SetFrequency(f0 float64) {
	if math.IsNaN(f0) {
		return
	}

	s.frequency = core.Clamp(f0, MinFrequency, MaxFrequency)
	s.updatePhaseIncrement()
}

// Frequency returns the current fundamental in Hz.
func (s *Source) Frequency() float64 { return s.frequency }

// SetModel selects the pulse model.
func (s *Source) SetModel(m Model) {
	if m < ModelRosenberg || m > ModelDifferentiated {
		return
	}

	s.model = m
}

// CurrentModel returns the active pulse model.
func (s *Source) CurrentModel() Model { return s.model }

// SetPulseShape adjusts the pulse geometry. openQuotient and speedQuotient
// are clamped to [0.1, 0.9], returnPhase to [0, 0.5].
func (s *Source) SetPulseShape(openQuotient, speedQuotient, returnPhase float64) {
	if !math.IsNaN(openQuotient) {
		s.openQuotient = core.Clamp(openQuotient, 0.1, 0.9)
	}

	if !math.IsNaN(speedQuotient) {
		s.speedQuotient = core.Clamp(speedQuotient, 0.1, 0.9)
	}

	if !math.IsNaN(returnPhase) {
		s.returnPhase = core.Clamp(returnPhase, 0, 0.5)
	}
}

// OpenQuotient returns the fraction of the cycle the glottis is opening.
func (s *Source) OpenQuotient() float64 { return s.openQuotient }

// SpeedQuotient returns the opening/closing asymmetry parameter.
func (s *Source) SpeedQuotient() float64 { return s.speedQuotient }

// ReturnPhase returns the return-phase fraction.
func (s *Source) ReturnPhase() float64 { return s.returnPhase }

// SetSampleRate updates the sample rate, clamped to [8000, 192000] Hz.
func (s *Source) SetSampleRate(sampleRate float64) {
	if math.IsNaN(sampleRate) || sampleRate <= 0 {
		return
	}

	s.sampleRate = core.Clamp(sampleRate, minSampleRate, maxSampleRate)
	s.updatePhaseIncrement()
}

// ProcessSample produces one excitation sample and advances the phase.
func (s *Source) ProcessSample() float64 {
	var out float64

	switch s.model {
	case ModelRosenberg:
		out = s.rosenbergPulse(s.phase)
	case ModelLF:
		out = s.lfPulse(s.phase)
	case ModelDifferentiated:
		out = s.differentiatedPulse(s.phase)
	}

	s.phase += s.phaseIncrement
	if s.phase >= 1 {
		s.phase -= 1
	}

	return out
}

// ProcessBlock fills buf with excitation samples.
func (s *Source) ProcessBlock(buf []float64) {
	for i := range buf {
		buf[i] = s.ProcessSample()
	}
}

// Reset returns the phase accumulator to the start of a cycle.
func (s *Source) Reset() {
	s.phase = 0
}

// rosenbergPulse evaluates the Rosenberg glottal pulse at normalized phase
// t in [0,1): sinusoidal rise over the open quotient, exponential return,
// then the closed phase at zero.
func (s *Source) rosenbergPulse(t float64) float64 {
	tOpen := s.openQuotient
	tReturn := tOpen + (1-s.openQuotient)*s.speedQuotient

	switch {
	case t < tOpen:
		return 0.5 * (1 - math.Cos(math.Pi*t/tOpen))
	case t < tReturn:
		return math.Exp(-3 * (t - tOpen) / (tReturn - tOpen))
	default:
		return 0
	}
}

// lfPulse evaluates a simplified Liljencrants-Fant pulse with the peak at
// 70% of the open phase and shape exponents derived from the quotients.
func (s *Source) lfPulse(t float64) float64 {
	alpha := 1 / (s.openQuotient * s.openQuotient)
	epsilon := 1 / ((1 - s.openQuotient) * s.speedQuotient)

	tOpen := s.openQuotient
	tPeak := s.openQuotient * 0.7
	tReturn := tOpen + (1-tOpen)*0.9

	switch {
	case t < tPeak:
		return math.Pow(t/tPeak, alpha)
	case t < tOpen:
		return math.Pow(1-(t-tPeak)/(tOpen-tPeak), alpha)
	case t < tReturn:
		return math.Exp(-epsilon * (t - tOpen) / (tReturn - tOpen))
	default:
		return 0
	}
}

// differentiatedPulse numerically differentiates the Rosenberg pulse.
func (s *Source) differentiatedPulse(t float64) float64 {
	y1 := s.rosenbergPulse(t)
	y2 := s.rosenbergPulse(t + diffDelta)

	return (y2 - y1) / diffDelta * diffScale
}

func (s *Source) updatePhaseIncrement() {
	s.phaseIncrement = core.Clamp(s.frequency/s.sampleRate, 0, 1)
}
