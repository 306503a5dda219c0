package synthesis

import (
	"errors"
	"fmt"
	"math"

	"github.com/bretbouchard/choral-v2-sub000/dsp/formant"
)

// diphoneNoiseGain scales the unvoiced excitation of the diphone method.
const diphoneNoiseGain = 0.5

// Diphone renders a voice with gliding formants: each phoneme reassignment
// ramps the resonator targets over the voice's transition time instead of
// jumping, so consecutive phonemes connect the way sung syllables do. The
// resonators run in series, excited by a sawtooth for voiced phonemes and
// shaped noise otherwise.
type Diphone struct {
	params      Params
	initialized bool
}

// NewDiphone creates an uninitialized diphone method.
func NewDiphone() *Diphone { return &Diphone{} }

// Name implements Method.
func (d *Diphone) Name() string { return "diphone" }

// Initialize implements Method.
func (d *Diphone) Initialize(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("diphone method: %w", err)
	}

	d.params = p
	d.initialized = true

	return nil
}

// SynthesizeVoice implements Method.
func (d *Diphone) SynthesizeVoice(v *VoiceState, out []float64) error {
	if !d.initialized {
		return errors.New("diphone method not initialized")
	}

	if v == nil {
		return errors.New("diphone method: nil voice state")
	}

	if len(out) > d.params.MaxBlockSize {
		return fmt.Errorf("diphone method: block of %d exceeds max %d", len(out), d.params.MaxBlockSize)
	}

	voiced := v.Voiced()
	inc := 2 * math.Pi * v.ModulatedPitch() / d.params.SampleRate

	for i := range out {
		gliding := false

		for f := 0; f < formant.NumFormants; f++ {
			if !v.glideFreq[f].Done() || !v.glideBand[f].Done() {
				gliding = true
				break
			}
		}

		if gliding {
			for f := 0; f < formant.NumFormants; f++ {
				freq := v.glideFreq[f].Tick()
				band := v.glideBand[f].Tick()

				if err := v.Bank.Resonator(f).Design(freq, band, d.params.SampleRate); err != nil {
					return fmt.Errorf("diphone method: %w", err)
				}
			}
		}

		var x float64
		if voiced {
			// Sawtooth excitation, richer in harmonics than the glottal
			// pulse so the gliding resonances stay audible.
			x = v.Phase/math.Pi - 1
			v.Phase = wrap2Pi(v.Phase + inc)
		} else {
			x = v.NextNoise() * diphoneNoiseGain
		}

		for f := 0; f < formant.NumFormants; f++ {
			x = v.Bank.Resonator(f).ProcessSample(x)
		}

		out[i] = x
	}

	return nil
}

// Reset implements Method.
func (d *Diphone) Reset() {}
