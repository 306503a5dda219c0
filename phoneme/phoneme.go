// Package phoneme defines the acoustic description of speech sounds
// consumed by the synthesis engine: formant frequencies and bandwidths,
// articulatory features, duration ranges, and the resolver that turns a
// record plus a target pitch into concrete voice parameters.
//
// The linguistic subsystem that maps text to phonemes lives outside this
// engine; records arrive here already resolved.
package phoneme

import (
	"fmt"
	"math"
	"time"
)

// NumFormants is the size of the formant model (F1-F4).
const NumFormants = 4

// Category classifies a phoneme by how it is synthesized.
type Category int

const (
	// CategoryVowel is a voiced sound shaped by the formant bank.
	CategoryVowel Category = iota
	// CategoryConsonant is a short, often unvoiced sound.
	CategoryConsonant
	// CategoryDrone is a sustained vowel-like sound with no duration cap.
	CategoryDrone
	// CategorySubharmonic is a bass technique rendered by the PLL
	// subharmonic method instead of the formant chain.
	CategorySubharmonic
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryVowel:
		return "vowel"
	case CategoryConsonant:
		return "consonant"
	case CategoryDrone:
		return "drone"
	case CategorySubharmonic:
		return "subharmonic"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Articulation carries the physical articulation flags that color the
// synthesized timbre.
type Articulation struct {
	Nasal   bool
	Rounded bool
	Voiced  bool
	Lateral bool
	Rhotic  bool
}

// Duration bounds how long one phoneme may sound.
type Duration struct {
	Min     time.Duration
	Max     time.Duration
	Default time.Duration
}

// SubharmonicSettings configures subharmonic-category records.
type SubharmonicSettings struct {
	// Ratio is the division ratio fed to the generator: 0.5 is an
	// octave down.
	Ratio float64
	// Amplitude is the sub-tone mix level in [0, 1].
	Amplitude float64
}

// Record is the immutable acoustic description of one phoneme. Many voices
// may reference the same record concurrently, so it is never mutated after
// construction.
type Record struct {
	ID  string
	IPA string

	Category    Category
	Frequencies [NumFormants]float64 // F1-F4 in Hz
	Bandwidths  [NumFormants]float64 // B1-B4 in Hz

	Articulation Articulation
	Duration     Duration
	Subharmonic  SubharmonicSettings
}

// Validate reports whether the record can drive synthesis: all formant
// frequencies and bandwidths positive and finite, duration ordering sane.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("phoneme record has no id")
	}

	for i := 0; i < NumFormants; i++ {
		f := r.Frequencies[i]
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("phoneme %q formant %d frequency must be positive and finite: %f", r.ID, i+1, f)
		}

		bw := r.Bandwidths[i]
		if bw <= 0 || math.IsNaN(bw) || math.IsInf(bw, 0) {
			return fmt.Errorf("phoneme %q formant %d bandwidth must be positive and finite: %f", r.ID, i+1, bw)
		}
	}

	if r.Duration.Min < 0 || r.Duration.Max < r.Duration.Min {
		return fmt.Errorf("phoneme %q duration range invalid: min %v, max %v", r.ID, r.Duration.Min, r.Duration.Max)
	}

	if r.Duration.Default < r.Duration.Min || r.Duration.Default > r.Duration.Max {
		return fmt.Errorf("phoneme %q default duration %v outside [%v, %v]",
			r.ID, r.Duration.Default, r.Duration.Min, r.Duration.Max)
	}

	if r.Category == CategorySubharmonic {
		if r.Subharmonic.Ratio <= 0 || r.Subharmonic.Ratio > 1 {
			return fmt.Errorf("phoneme %q subharmonic ratio must be in (0, 1]: %f", r.ID, r.Subharmonic.Ratio)
		}

		if r.Subharmonic.Amplitude < 0 || r.Subharmonic.Amplitude > 1 {
			return fmt.Errorf("phoneme %q subharmonic amplitude must be in [0, 1]: %f", r.ID, r.Subharmonic.Amplitude)
		}
	}

	return nil
}

// Event is one element of the ordered phoneme stream driving per-voice
// parameter assignment: which sound, at what pitch, for how long.
type Event struct {
	Record   *Record
	PitchHz  float64
	Duration time.Duration
}

// Validate rejects events the engine cannot consume.
func (e Event) Validate() error {
	if e.Record == nil {
		return fmt.Errorf("phoneme event has nil record")
	}

	// A zero pitch is legal and means the consuming voice keeps the pitch
	// of the note that triggered it.
	if e.PitchHz < 0 || math.IsNaN(e.PitchHz) || math.IsInf(e.PitchHz, 0) {
		return fmt.Errorf("phoneme event pitch must be non-negative and finite: %f", e.PitchHz)
	}

	if e.Duration < 0 {
		return fmt.Errorf("phoneme event duration must be non-negative: %v", e.Duration)
	}

	return nil
}
