package phoneme

import "time"

// Standard duration ranges shared by the built-in records.
var (
	vowelDuration = Duration{
		Min:     50 * time.Millisecond,
		Max:     500 * time.Millisecond,
		Default: 200 * time.Millisecond,
	}
	consonantDuration = Duration{
		Min:     30 * time.Millisecond,
		Max:     200 * time.Millisecond,
		Default: 80 * time.Millisecond,
	}
	droneDuration = Duration{
		Min:     200 * time.Millisecond,
		Max:     10 * time.Second,
		Default: 2 * time.Second,
	}
)

var defaultBandwidths = [NumFormants]float64{50, 80, 120, 150}

// DefaultInventory returns the built-in phoneme set: the cardinal vowels
// with formant values from published American English measurement tables,
// a handful of sonorant consonants, and the drone/subharmonic technique
// records. The returned records are freshly allocated on every call so
// callers may extend the slice without affecting other users; the records
// themselves must still be treated as immutable once handed to voices.
func DefaultInventory() []*Record {
	voiced := Articulation{Voiced: true}

	return []*Record{
		{
			ID: "AA", IPA: "ɑ", Category: CategoryVowel,
			Frequencies:  [NumFormants]float64{730, 1090, 2440, 3400},
			Bandwidths:   defaultBandwidths,
			Articulation: voiced,
			Duration:     vowelDuration,
		},
		{
			ID: "IY", IPA: "i", Category: CategoryVowel,
			Frequencies:  [NumFormants]float64{270, 2290, 3010, 3600},
			Bandwidths:   defaultBandwidths,
			Articulation: voiced,
			Duration:     vowelDuration,
		},
		{
			ID: "UW", IPA: "u", Category: CategoryVowel,
			Frequencies:  [NumFormants]float64{300, 870, 2240, 3200},
			Bandwidths:   defaultBandwidths,
			Articulation: Articulation{Voiced: true, Rounded: true},
			Duration:     vowelDuration,
		},
		{
			ID: "EH", IPA: "ɛ", Category: CategoryVowel,
			Frequencies:  [NumFormants]float64{530, 1840, 2480, 3500},
			Bandwidths:   defaultBandwidths,
			Articulation: voiced,
			Duration:     vowelDuration,
		},
		{
			ID: "AO", IPA: "ɔ", Category: CategoryVowel,
			Frequencies:  [NumFormants]float64{570, 840, 2410, 3300},
			Bandwidths:   defaultBandwidths,
			Articulation: Articulation{Voiced: true, Rounded: true},
			Duration:     vowelDuration,
		},
		{
			ID: "ER", IPA: "ɝ", Category: CategoryVowel,
			Frequencies:  [NumFormants]float64{490, 1350, 1690, 3300},
			Bandwidths:   defaultBandwidths,
			Articulation: Articulation{Voiced: true, Rhotic: true},
			Duration:     vowelDuration,
		},
		{
			ID: "M", IPA: "m", Category: CategoryConsonant,
			Frequencies:  [NumFormants]float64{250, 1000, 2200, 3200},
			Bandwidths:   [NumFormants]float64{60, 100, 150, 200},
			Articulation: Articulation{Voiced: true, Nasal: true},
			Duration:     consonantDuration,
		},
		{
			ID: "N", IPA: "n", Category: CategoryConsonant,
			Frequencies:  [NumFormants]float64{250, 1500, 2500, 3300},
			Bandwidths:   [NumFormants]float64{60, 100, 150, 200},
			Articulation: Articulation{Voiced: true, Nasal: true},
			Duration:     consonantDuration,
		},
		{
			ID: "L", IPA: "l", Category: CategoryConsonant,
			Frequencies:  [NumFormants]float64{360, 1300, 2700, 3400},
			Bandwidths:   [NumFormants]float64{60, 100, 150, 200},
			Articulation: Articulation{Voiced: true, Lateral: true},
			Duration:     consonantDuration,
		},
		{
			ID: "S", IPA: "s", Category: CategoryConsonant,
			Frequencies:  [NumFormants]float64{2500, 4000, 5500, 7000},
			Bandwidths:   [NumFormants]float64{200, 300, 400, 500},
			Articulation: Articulation{Voiced: false},
			Duration:     consonantDuration,
		},
		{
			ID: "DRONE", IPA: "ɑː", Category: CategoryDrone,
			Frequencies:  [NumFormants]float64{700, 1100, 2450, 3400},
			Bandwidths:   defaultBandwidths,
			Articulation: voiced,
			Duration:     droneDuration,
		},
		{
			ID: "SUB_OCTAVE", Category: CategorySubharmonic,
			Frequencies:  [NumFormants]float64{500, 1500, 2500, 3500},
			Bandwidths:   defaultBandwidths,
			Articulation: voiced,
			Duration:     droneDuration,
			Subharmonic:  SubharmonicSettings{Ratio: 0.5, Amplitude: 0.5},
		},
		{
			ID: "SUB_TWELFTH", Category: CategorySubharmonic,
			Frequencies:  [NumFormants]float64{500, 1500, 2500, 3500},
			Bandwidths:   defaultBandwidths,
			Articulation: voiced,
			Duration:     droneDuration,
			Subharmonic:  SubharmonicSettings{Ratio: 1.0 / 3.0, Amplitude: 0.4},
		},
	}
}

// Lookup finds a record by ID in a slice of records, returning nil when
// absent.
func Lookup(records []*Record, id string) *Record {
	for _, r := range records {
		if r.ID == id {
			return r
		}
	}

	return nil
}
