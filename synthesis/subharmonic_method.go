package synthesis

import (
	"errors"
	"fmt"
	"math"
)

// fundamentalLevel balances the internally generated fundamental against
// the sub-tone the PLL adds underneath it.
const fundamentalLevel = 0.5

// Subharmonic renders a voice as a sine fundamental at the note pitch with
// a phase-locked sub-tone underneath, then shapes the sum with the voice's
// resonator bank. Used for bass and chest-voice technique records.
type Subharmonic struct {
	params      Params
	initialized bool
}

// NewSubharmonic creates an uninitialized subharmonic method.
func NewSubharmonic() *Subharmonic { return &Subharmonic{} }

// Name implements Method.
func (s *Subharmonic) Name() string { return "subharmonic" }

// Initialize implements Method.
func (s *Subharmonic) Initialize(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("subharmonic method: %w", err)
	}

	s.params = p
	s.initialized = true

	return nil
}

// SynthesizeVoice implements Method.
func (s *Subharmonic) SynthesizeVoice(v *VoiceState, out []float64) error {
	if !s.initialized {
		return errors.New("subharmonic method not initialized")
	}

	if v == nil {
		return errors.New("subharmonic method: nil voice state")
	}

	if len(out) > s.params.MaxBlockSize {
		return fmt.Errorf("subharmonic method: block of %d exceeds max %d", len(out), s.params.MaxBlockSize)
	}

	inc := 2 * math.Pi * v.ModulatedPitch() / s.params.SampleRate

	for i := range out {
		fund := math.Sin(v.Phase)
		v.Phase = wrap2Pi(v.Phase + inc)

		sub := v.Sub.ProcessSample(fund)

		out[i] = v.Bank.ProcessSample(fund*fundamentalLevel + sub)
	}

	return nil
}

// Reset implements Method.
func (s *Subharmonic) Reset() {}
