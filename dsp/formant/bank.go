package formant

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// NumFormants is the number of parallel resonators in a Bank, covering the
// first four vocal-tract resonances.
const NumFormants = 4

// Bank runs four resonators in parallel over the same excitation and sums
// their outputs with per-formant gains. Parallel summation keeps each
// formant peak independent, unlike a cascade where later sections reshape
// earlier ones.
//
// This processor is mono, real-time safe, and not thread-safe.
type Bank struct {
	resonators [NumFormants]Resonator
	gains      [NumFormants]float64
	sampleRate float64
}

// NewBank creates a bank with the given formant frequencies and bandwidths.
// Both arrays index formants F1..F4.
func NewBank(frequencies, bandwidths [NumFormants]float64, sampleRate float64) (*Bank, error) {
	b := &Bank{}

	for i := range b.gains {
		b.gains[i] = 1
	}

	err := b.Design(frequencies, bandwidths, sampleRate)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Design retunes all four resonators. Filter state is preserved so formant
// transitions between phonemes do not click.
func (b *Bank) Design(frequencies, bandwidths [NumFormants]float64, sampleRate float64) error {
	for i := 0; i < NumFormants; i++ {
		err := b.resonators[i].Design(frequencies[i], bandwidths[i], sampleRate)
		if err != nil {
			return fmt.Errorf("formant %d: %w", i+1, err)
		}
	}

	b.sampleRate = sampleRate

	return nil
}

// SetGain sets the output mix gain of formant i (0-based). Gain must be
// finite and non-negative.
func (b *Bank) SetGain(i int, gain float64) error {
	if i < 0 || i >= NumFormants {
		return fmt.Errorf("formant index out of range [0,%d): %d", NumFormants, i)
	}

	if gain < 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return fmt.Errorf("formant gain must be non-negative and finite: %f", gain)
	}

	b.gains[i] = gain

	return nil
}

// Gain returns the output mix gain of formant i, or 0 for an invalid index.
func (b *Bank) Gain(i int) float64 {
	if i < 0 || i >= NumFormants {
		return 0
	}

	return b.gains[i]
}

// Resonator exposes formant i for inspection. It returns nil for an
// invalid index.
func (b *Bank) Resonator(i int) *Resonator {
	if i < 0 || i >= NumFormants {
		return nil
	}

	return &b.resonators[i]
}

// ProcessSample feeds one excitation sample through all four resonators and
// returns the weighted sum.
func (b *Bank) ProcessSample(x float64) float64 {
	var y float64
	for i := range b.resonators {
		y += b.gains[i] * b.resonators[i].ProcessSample(x)
	}

	return y
}

// ProcessBlock replaces buf with the parallel bank output.
func (b *Bank) ProcessBlock(buf []float64) {
	for i, x := range buf {
		buf[i] = b.ProcessSample(x)
	}

	for i := range b.resonators {
		r := &b.resonators[i]
		r.d0 = core.FlushDenormals(r.d0)
		r.d1 = core.FlushDenormals(r.d1)
	}
}

// Reset clears the delay lines of all four resonators.
func (b *Bank) Reset() {
	for i := range b.resonators {
		b.resonators[i].Reset()
	}
}
