// Package synthesis defines the per-voice rendering strategies. A Method
// turns one voice's DSP state plus a phoneme record into a mono block;
// the voice manager selects the method once per voice at assignment time
// and mixes the blocks into the stereo output.
package synthesis

import (
	"fmt"
	"math"
)

// Params configures a synthesis method before rendering starts.
type Params struct {
	SampleRate   float64
	MaxBlockSize int
}

// Validate rejects parameter sets a method cannot run with.
func (p Params) Validate() error {
	if p.SampleRate <= 0 || math.IsNaN(p.SampleRate) || math.IsInf(p.SampleRate, 0) {
		return fmt.Errorf("synthesis sample rate must be positive and finite: %f", p.SampleRate)
	}

	if p.MaxBlockSize <= 0 {
		return fmt.Errorf("synthesis max block size must be positive: %d", p.MaxBlockSize)
	}

	return nil
}

// Method is a pluggable per-voice synthesis strategy.
//
// SynthesizeVoice renders into out using the voice's own DSP state, so one
// method value can serve many voices. Implementations must not allocate or
// block: SynthesizeVoice runs inside the real-time render path.
type Method interface {
	// Name identifies the method for diagnostics.
	Name() string

	// Initialize prepares the method for the given rates and block sizes.
	Initialize(p Params) error

	// SynthesizeVoice renders len(out) mono samples for one voice.
	// The voice must have been configured for a phoneme first.
	SynthesizeVoice(v *VoiceState, out []float64) error

	// Reset clears any method-global state.
	Reset()
}
