package synthesis

import (
	"errors"
	"fmt"
)

// Formant renders a voice as excitation (glottal pulses or noise) shaped
// by the parallel resonator bank, then runs the result through the voice's
// spectral enhancer. This is the default method for vowels, consonants and
// drones.
type Formant struct {
	params      Params
	initialized bool
}

// NewFormant creates an uninitialized formant method.
func NewFormant() *Formant { return &Formant{} }

// Name implements Method.
func (f *Formant) Name() string { return "formant" }

// Initialize implements Method.
func (f *Formant) Initialize(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("formant method: %w", err)
	}

	f.params = p
	f.initialized = true

	return nil
}

// SynthesizeVoice implements Method.
func (f *Formant) SynthesizeVoice(v *VoiceState, out []float64) error {
	if !f.initialized {
		return errors.New("formant method not initialized")
	}

	if v == nil {
		return errors.New("formant method: nil voice state")
	}

	if len(out) > f.params.MaxBlockSize {
		return fmt.Errorf("formant method: block of %d exceeds max %d", len(out), f.params.MaxBlockSize)
	}

	voiced := v.Voiced()

	for i := range out {
		var x float64
		if voiced {
			x = v.Glottal.ProcessSample()
		} else {
			x = v.NextNoise() * noiseGain
		}

		out[i] = v.Bank.ProcessSample(x)
	}

	return v.Enhancer.ProcessBlock(out, out)
}

// Reset implements Method. The formant method keeps no state of its own;
// per-voice state is reset through the voice pool.
func (f *Formant) Reset() {}
