// Package subharmonic synthesizes a tone at a sub-multiple of the
// fundamental of an input signal, tracked with a digital phase-locked loop.
//
// Naive frequency division of an estimated pitch drifts in phase over time
// and detunes audibly. The closed loop here continuously measures the phase
// difference between the input and an internal oscillator and drives it to
// zero with a PI controller, so the sub-tone stays locked and re-locks on
// its own when the input pitch glides.
package subharmonic

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

const (
	// MinTrackedFrequency bounds the PLL so it cannot run away locking
	// onto noise below the vocal range.
	MinTrackedFrequency = 20.0
	// MaxTrackedFrequency bounds the PLL above the vocal range.
	MaxTrackedFrequency = 1000.0

	defaultCenterFrequency = 440.0
	defaultRatio           = 0.5
	defaultMix             = 0.3
	defaultKp              = 30.0
	defaultKi              = 0.05

	// detectorPole is the one-pole coefficient smoothing the I/Q mixer
	// products before the phase detector. It must sit well below the
	// double-frequency mixing term for any tracked pitch.
	detectorPole = 0.005

	// maxIntegral clamps the integral accumulator to prevent windup when
	// the input is silent or far outside the lock range.
	maxIntegral = 1000.0
)

// Generator is a PLL-driven subharmonic synthesizer. ProcessSample consumes
// one input sample, updates the tracked fundamental, and returns a sine at
// trackedFrequency times the configured ratio.
//
// This processor is mono, real-time safe, and not thread-safe.
type Generator struct {
	sampleRate float64

	centerFrequency float64
	ratio           float64
	mix             float64
	kp              float64
	ki              float64

	// Loop phase of the internal tracking oscillator, in radians.
	phase float64
	// Output phase of the subharmonic oscillator, in radians.
	outPhase float64

	// Lowpassed I/Q mixer products feeding the phase detector.
	lpI float64
	lpQ float64

	phaseError       float64
	integral         float64
	trackedFrequency float64
}

// NewGenerator creates a generator with an octave-down ratio, a 440 Hz
// center frequency and a 0.3 mix level.
func NewGenerator(sampleRate float64) (*Generator, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("subharmonic generator sample rate must be positive and finite: %f", sampleRate)
	}

	g := &Generator{
		sampleRate:      sampleRate,
		centerFrequency: defaultCenterFrequency,
		ratio:           defaultRatio,
		mix:             defaultMix,
		kp:              defaultKp,
		ki:              defaultKi,
	}
	g.Reset()

	return g, nil
}

// SetRatio sets the subharmonic division ratio: 0.5 produces an octave
// down, 0.25 two octaves down. Ratio must be in (0, 1].
func (g *Generator) SetRatio(ratio float64) error {
	if ratio <= 0 || ratio > 1 || math.IsNaN(ratio) {
		return fmt.Errorf("subharmonic ratio must be in (0, 1]: %f", ratio)
	}

	g.ratio = ratio

	return nil
}

// Ratio returns the subharmonic division ratio.
func (g *Generator) Ratio() float64 { return g.ratio }

// SetLoopGains sets the PI controller gains in Hz per radian (kp) and
// Hz per radian-sample (ki). Both must be positive and finite.
func (g *Generator) SetLoopGains(kp, ki float64) error {
	if kp <= 0 || math.IsNaN(kp) || math.IsInf(kp, 0) {
		return fmt.Errorf("subharmonic proportional gain must be positive and finite: %f", kp)
	}

	if ki <= 0 || math.IsNaN(ki) || math.IsInf(ki, 0) {
		return fmt.Errorf("subharmonic integral gain must be positive and finite: %f", ki)
	}

	g.kp = kp
	g.ki = ki

	return nil
}

// SetMix sets the output level, clamped to [0, 1].
func (g *Generator) SetMix(mix float64) {
	if math.IsNaN(mix) {
		return
	}

	g.mix = core.Clamp(mix, 0, 1)
}

// Mix returns the output level.
func (g *Generator) Mix() float64 { return g.mix }

// SetCenterFrequency sets the free-running frequency the loop rests at when
// the input carries no trackable pitch. It must lie inside [20, 1000] Hz.
func (g *Generator) SetCenterFrequency(freq float64) error {
	if freq < MinTrackedFrequency || freq > MaxTrackedFrequency || math.IsNaN(freq) {
		return fmt.Errorf("subharmonic center frequency must be in [%g, %g] Hz: %f",
			MinTrackedFrequency, MaxTrackedFrequency, freq)
	}

	g.centerFrequency = freq

	return nil
}

// CenterFrequency returns the free-running loop frequency in Hz.
func (g *Generator) CenterFrequency() float64 { return g.centerFrequency }

// TrackedFrequency returns the fundamental the loop currently tracks, in Hz.
func (g *Generator) TrackedFrequency() float64 { return g.trackedFrequency }

// PhaseError returns the detector output in radians, wrapped to [-pi, pi].
// Near zero means the loop is locked.
func (g *Generator) PhaseError() float64 { return g.phaseError }

// ProcessSample consumes one input sample and returns the subharmonic tone.
func (g *Generator) ProcessSample(x float64) float64 {
	// Quadrature mixing: multiply the input by the oscillator references
	// and lowpass the products. For an input sin(theta) the filtered
	// products settle to cos(delta)/2 and sin(delta)/2 where delta is the
	// input/oscillator phase difference.
	g.lpI += detectorPole * (x*math.Sin(g.phase) - g.lpI)
	g.lpQ += detectorPole * (x*math.Cos(g.phase) - g.lpQ)

	g.phaseError = wrapPhase(math.Atan2(g.lpQ, g.lpI))

	g.integral += g.phaseError
	g.integral = core.Clamp(g.integral, -maxIntegral, maxIntegral)

	g.trackedFrequency = core.Clamp(
		g.centerFrequency+g.kp*g.phaseError+g.ki*g.integral,
		MinTrackedFrequency, MaxTrackedFrequency,
	)

	g.phase = wrapPhase(g.phase + 2*math.Pi*g.trackedFrequency/g.sampleRate)
	g.outPhase = wrapPhase(g.outPhase + 2*math.Pi*g.trackedFrequency*g.ratio/g.sampleRate)

	return math.Sin(g.outPhase) * g.mix
}

// ProcessBlock consumes src and writes the subharmonic tone into dst.
// Both slices must have the same length.
func (g *Generator) ProcessBlock(dst, src []float64) {
	_ = dst[len(src)-1] // bounds check hint

	for i, x := range src {
		dst[i] = g.ProcessSample(x)
	}
}

// Reset clears all loop state and returns the tracked frequency to the
// center frequency.
func (g *Generator) Reset() {
	g.phase = 0
	g.outPhase = 0
	g.lpI = 0
	g.lpQ = 0
	g.phaseError = 0
	g.integral = 0
	g.trackedFrequency = g.centerFrequency
}

// wrapPhase folds p into [-pi, pi]. Without wrapping the detector would
// unwind and the loop would lose lock.
func wrapPhase(p float64) float64 {
	for p > math.Pi {
		p -= 2 * math.Pi
	}

	for p < -math.Pi {
		p += 2 * math.Pi
	}

	return p
}
