// Package formant implements resonant bandpass filtering for vocal-tract
// formant synthesis.
//
// A Resonator is a single bandpass biquad designed from a formant center
// frequency and bandwidth in Hz. A Bank sums four independent resonators in
// parallel to approximate the first four vocal-tract resonances of a vowel.
package formant

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
)

const (
	// minFrequency is the lowest accepted formant center frequency in Hz.
	minFrequency = 1.0
	// minBandwidth is the lowest accepted formant bandwidth in Hz.
	minBandwidth = 1.0
	// nyquistMargin keeps the design frequency strictly below Fs/2 so the
	// sin(omega) term never degenerates to zero.
	nyquistMargin = 0.49
)

// Resonator is one resonant bandpass stage computed from the RBJ cookbook
// bandpass formula (unity gain at the center frequency), with Q derived
// from the formant bandwidth as Q = f0/BW. It runs as a transposed
// direct-form-II section.
//
// This processor is mono, real-time safe, and not thread-safe.
type Resonator struct {
	b0, b1, b2 float64
	a1, a2     float64

	d0, d1 float64

	centerFrequency float64
	bandwidth       float64
	sampleRate      float64
}

// NewResonator creates a resonator designed for the given formant.
func NewResonator(centerFrequency, bandwidth, sampleRate float64) (*Resonator, error) {
	r := &Resonator{}

	err := r.Design(centerFrequency, bandwidth, sampleRate)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// CenterFrequency returns the designed formant center frequency in Hz,
// after clamping.
func (r *Resonator) CenterFrequency() float64 { return r.centerFrequency }

// Bandwidth returns the designed formant bandwidth in Hz, after clamping.
func (r *Resonator) Bandwidth() float64 { return r.bandwidth }

// SampleRate returns the sample rate the coefficients were designed for.
func (r *Resonator) SampleRate() float64 { return r.sampleRate }

// Design computes new coefficients for the given formant. The filter state
// is preserved so formant glides do not click.
//
// centerFrequency is clamped into [1, 0.49*sampleRate] Hz and bandwidth to
// at least 1 Hz; the resulting poles always lie strictly inside the unit
// circle. NaN or infinite inputs are rejected.
func (r *Resonator) Design(centerFrequency, bandwidth, sampleRate float64) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("formant resonator sample rate must be positive and finite: %f", sampleRate)
	}

	if math.IsNaN(centerFrequency) || math.IsInf(centerFrequency, 0) {
		return fmt.Errorf("formant resonator center frequency must be finite: %f", centerFrequency)
	}

	if math.IsNaN(bandwidth) || math.IsInf(bandwidth, 0) {
		return fmt.Errorf("formant resonator bandwidth must be finite: %f", bandwidth)
	}

	if centerFrequency <= 0 {
		return fmt.Errorf("formant resonator center frequency must be positive: %f", centerFrequency)
	}

	if bandwidth <= 0 {
		return fmt.Errorf("formant resonator bandwidth must be positive: %f", bandwidth)
	}

	r.sampleRate = sampleRate
	r.centerFrequency = core.Clamp(centerFrequency, minFrequency, nyquistMargin*sampleRate)
	r.bandwidth = math.Max(bandwidth, minBandwidth)

	q := r.centerFrequency / r.bandwidth
	omega := 2 * math.Pi * r.centerFrequency / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	alpha := sinOmega / (2 * q)

	a0 := 1 + alpha

	r.b0 = alpha / a0
	r.b1 = 0
	r.b2 = -alpha / a0
	r.a1 = -2 * cosOmega / a0
	r.a2 = (1 - alpha) / a0

	return nil
}

// ProcessSample filters one input sample and returns the output.
func (r *Resonator) ProcessSample(x float64) float64 {
	y := r.b0*x + r.d0
	r.d0 = r.b1*x - r.a1*y + r.d1
	r.d1 = r.b2*x - r.a2*y

	return y
}

// ProcessBlock filters a block of samples in-place. The delay line is
// flushed of denormals afterwards to keep long decays cheap.
func (r *Resonator) ProcessBlock(buf []float64) {
	b0, b1, b2 := r.b0, r.b1, r.b2
	a1, a2 := r.a1, r.a2
	d0, d1 := r.d0, r.d1

	for i, x := range buf {
		y := b0*x + d0
		d0 = b1*x - a1*y + d1
		d1 = b2*x - a2*y
		buf[i] = y
	}

	r.d0 = core.FlushDenormals(d0)
	r.d1 = core.FlushDenormals(d1)
}

// ProcessBlockTo filters src into dst. Both slices must have the same length.
func (r *Resonator) ProcessBlockTo(dst, src []float64) {
	_ = dst[len(src)-1] // bounds check hint

	for i, x := range src {
		dst[i] = r.ProcessSample(x)
	}

	r.d0 = core.FlushDenormals(r.d0)
	r.d1 = core.FlushDenormals(r.d1)
}

// Reset clears the delay line to zero.
func (r *Resonator) Reset() {
	r.d0 = 0
	r.d1 = 0
}

// Coefficients returns the normalized transfer-function coefficients,
// suitable for pole/zero inspection.
func (r *Resonator) Coefficients() biquad.Coefficients {
	return biquad.Coefficients{
		B0: r.b0,
		B1: r.b1,
		B2: r.b2,
		A1: r.a1,
		A2: r.a2,
	}
}
