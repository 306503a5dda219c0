package phoneme

import (
	"fmt"
	"math"
	"time"
)

// VoiceParams is the fully resolved parameter set one voice needs to render
// a phoneme at a concrete pitch: filter design inputs, per-formant gains,
// voicing, and the subharmonic configuration when the record asks for it.
type VoiceParams struct {
	PitchHz float64

	Frequencies  [NumFormants]float64
	Bandwidths   [NumFormants]float64
	FormantGains [NumFormants]float64

	Voiced      bool
	Subharmonic SubharmonicSettings
	Duration    time.Duration
}

// Articulatory adjustments applied by ResolveParams. Nasality couples the
// nasal cavity into the vocal tract, which weakens the second formant;
// rhotic vowels are characterized by a markedly lowered third formant;
// lip rounding lengthens the tract and pulls F2 down slightly.
const (
	nasalF2Gain      = 0.4
	rhoticF3Shift    = 0.85
	roundedF2Shift   = 0.95
	lateralF3Gain    = 0.7
	minResolvedPitch = 20.0
	maxResolvedPitch = 2000.0
)

// ResolveParams turns an immutable record plus a target pitch into the
// concrete per-voice parameters the manager loads into the DSP chain. The
// record is read, never written.
func ResolveParams(rec *Record, pitchHz float64) (VoiceParams, error) {
	if rec == nil {
		return VoiceParams{}, fmt.Errorf("phoneme resolve: nil record")
	}

	if err := rec.Validate(); err != nil {
		return VoiceParams{}, fmt.Errorf("phoneme resolve: %w", err)
	}

	if pitchHz <= 0 || math.IsNaN(pitchHz) || math.IsInf(pitchHz, 0) {
		return VoiceParams{}, fmt.Errorf("phoneme resolve: pitch must be positive and finite: %f", pitchHz)
	}

	if pitchHz < minResolvedPitch || pitchHz > maxResolvedPitch {
		return VoiceParams{}, fmt.Errorf("phoneme resolve: pitch %f Hz outside [%g, %g]",
			pitchHz, minResolvedPitch, maxResolvedPitch)
	}

	p := VoiceParams{
		PitchHz:     pitchHz,
		Frequencies: rec.Frequencies,
		Bandwidths:  rec.Bandwidths,
		Voiced:      rec.Articulation.Voiced,
		Subharmonic: rec.Subharmonic,
		Duration:    rec.Duration.Default,
	}

	for i := range p.FormantGains {
		p.FormantGains[i] = 1
	}

	if rec.Articulation.Nasal {
		p.FormantGains[1] = nasalF2Gain
	}

	if rec.Articulation.Lateral {
		p.FormantGains[2] = lateralF3Gain
	}

	if rec.Articulation.Rhotic {
		p.Frequencies[2] *= rhoticF3Shift
	}

	if rec.Articulation.Rounded {
		p.Frequencies[1] *= roundedF2Shift
	}

	return p, nil
}

// ClampDuration fits a requested duration into the record's allowed range.
// Zero requests resolve to the record default.
func ClampDuration(rec *Record, d time.Duration) time.Duration {
	if d <= 0 {
		return rec.Duration.Default
	}

	if d < rec.Duration.Min {
		return rec.Duration.Min
	}

	if d > rec.Duration.Max {
		return rec.Duration.Max
	}

	return d
}
