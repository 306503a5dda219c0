package synthesis

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/bretbouchard/choral-v2-sub000/dsp/formant"
	"github.com/bretbouchard/choral-v2-sub000/dsp/glottal"
	"github.com/bretbouchard/choral-v2-sub000/dsp/smooth"
	"github.com/bretbouchard/choral-v2-sub000/dsp/spectral"
	"github.com/bretbouchard/choral-v2-sub000/dsp/subharmonic"
	"github.com/bretbouchard/choral-v2-sub000/phoneme"
)

// enhancerFrameSize keeps the per-voice spectral enhancer latency low
// enough that short notes still speak. 256 samples is under 6 ms at
// 44.1 kHz.
const enhancerFrameSize = 256

// noiseGain scales the unvoiced excitation to roughly match the energy of
// a glottal pulse train.
const noiseGain = 0.25

// Formant targets a voice returns to when no phoneme is assigned: a
// neutral schwa-like vocal tract.
var (
	neutralFrequencies = [formant.NumFormants]float64{500, 1500, 2500, 3500}
	neutralBandwidths  = [formant.NumFormants]float64{50, 80, 120, 150}
)

// Transition time bounds for the diphone formant glide.
const (
	minTransitionTime     = 0.01
	maxTransitionTime     = 1.0
	defaultTransitionTime = 0.05
)

// VoiceState is the runtime DSP state of one voice slot: the excitation
// sources, the resonator bank, the subharmonic loop, the spectral enhancer
// and the resolved phoneme parameters. All components are allocated once
// when the pool is prepared and reused across notes.
type VoiceState struct {
	Glottal  *glottal.Source
	Bank     *formant.Bank
	Sub      *subharmonic.Generator
	Enhancer *spectral.Enhancer

	// Record is the phoneme currently assigned to the voice, nil when
	// the voice renders a plain vowel fallback.
	Record *phoneme.Record
	// Resolved holds the parameters derived from Record at the assigned
	// pitch.
	Resolved phoneme.VoiceParams

	// Phase drives the fundamental oscillator of the subharmonic and
	// diphone methods.
	Phase float64
	// PitchHz is the voice fundamental after note derivation.
	PitchHz float64

	// glideFreq and glideBand ramp the formant targets across phoneme
	// reassignments for the diphone method. They snap on the first
	// assignment after a reset and glide on every one after.
	glideFreq [formant.NumFormants]*smooth.Smoother
	glideBand [formant.NumFormants]*smooth.Smoother
	glideSnap bool

	transitionTime float64
	pitchMod       float64
	sampleRate     float64
	noise          *rand.Rand
}

// NewVoiceState allocates the full DSP chain for one voice slot.
func NewVoiceState(sampleRate float64, seed uint64) (*VoiceState, error) {
	src, err := glottal.NewSource(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("voice state: %w", err)
	}

	bank, err := formant.NewBank(neutralFrequencies, neutralBandwidths, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("voice state: %w", err)
	}

	sub, err := subharmonic.NewGenerator(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("voice state: %w", err)
	}

	enh, err := spectral.NewEnhancer(sampleRate, spectral.WithFrameSize(enhancerFrameSize))
	if err != nil {
		return nil, fmt.Errorf("voice state: %w", err)
	}

	v := &VoiceState{
		Glottal:        src,
		Bank:           bank,
		Sub:            sub,
		Enhancer:       enh,
		glideSnap:      true,
		transitionTime: defaultTransitionTime,
		pitchMod:       1,
		sampleRate:     sampleRate,
		noise:          rand.New(rand.NewPCG(seed, 0)),
	}

	for i := 0; i < formant.NumFormants; i++ {
		fs, err := smooth.NewSmoother(defaultTransitionTime, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("voice state: %w", err)
		}

		bs, err := smooth.NewSmoother(defaultTransitionTime, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("voice state: %w", err)
		}

		fs.SetImmediate(neutralFrequencies[i])
		bs.SetImmediate(neutralBandwidths[i])

		v.glideFreq[i] = fs
		v.glideBand[i] = bs
	}

	return v, nil
}

// SampleRate returns the rate the chain was built for.
func (v *VoiceState) SampleRate() float64 { return v.sampleRate }

// AssignPhoneme resolves rec at the given pitch and loads the result into
// the DSP chain. A nil record restores the neutral vowel configuration.
func (v *VoiceState) AssignPhoneme(rec *phoneme.Record, pitchHz float64) error {
	if rec == nil {
		if err := v.Bank.Design(neutralFrequencies, neutralBandwidths, v.sampleRate); err != nil {
			return fmt.Errorf("voice state: %w", err)
		}

		for i := 0; i < formant.NumFormants; i++ {
			if err := v.Bank.SetGain(i, 1); err != nil {
				return fmt.Errorf("voice state: %w", err)
			}
		}

		if err := v.Enhancer.SetTargetFormant(neutralFrequencies[0]); err != nil {
			return fmt.Errorf("voice state: %w", err)
		}

		v.setGlideTargets(neutralFrequencies, neutralBandwidths)

		v.Record = nil
		v.Resolved = phoneme.VoiceParams{}
		v.SetPitch(pitchHz)

		return nil
	}

	resolved, err := phoneme.ResolveParams(rec, pitchHz)
	if err != nil {
		return err
	}

	var freqs, bands [formant.NumFormants]float64
	copy(freqs[:], resolved.Frequencies[:])
	copy(bands[:], resolved.Bandwidths[:])

	if err := v.Bank.Design(freqs, bands, v.sampleRate); err != nil {
		return fmt.Errorf("voice state: %w", err)
	}

	for i, g := range resolved.FormantGains {
		if err := v.Bank.SetGain(i, g); err != nil {
			return fmt.Errorf("voice state: %w", err)
		}
	}

	if rec.Category == phoneme.CategorySubharmonic {
		if err := v.Sub.SetRatio(resolved.Subharmonic.Ratio); err != nil {
			return fmt.Errorf("voice state: %w", err)
		}

		v.Sub.SetMix(resolved.Subharmonic.Amplitude)
	}

	// The enhancer follows the first formant so boosted harmonics fall
	// inside the vowel's main resonance.
	if err := v.Enhancer.SetTargetFormant(resolved.Frequencies[0]); err != nil {
		return fmt.Errorf("voice state: %w", err)
	}

	v.setGlideTargets(freqs, bands)

	v.Record = rec
	v.Resolved = resolved
	v.SetPitch(pitchHz)

	return nil
}

// setGlideTargets aims the diphone formant smoothers at the new phoneme.
// The first assignment after a reset snaps so a fresh note does not glide
// in from whatever the slot sang last.
func (v *VoiceState) setGlideTargets(freqs, bands [formant.NumFormants]float64) {
	for i := 0; i < formant.NumFormants; i++ {
		if v.glideSnap {
			v.glideFreq[i].SetImmediate(freqs[i])
			v.glideBand[i].SetImmediate(bands[i])
		} else {
			v.glideFreq[i].SetTarget(freqs[i])
			v.glideBand[i].SetTarget(bands[i])
		}
	}

	v.glideSnap = false
}

// SetTransitionTime sets the diphone glide duration in seconds, clamped
// to [10 ms, 1 s].
func (v *VoiceState) SetTransitionTime(seconds float64) {
	if math.IsNaN(seconds) {
		return
	}

	if seconds < minTransitionTime {
		seconds = minTransitionTime
	}

	if seconds > maxTransitionTime {
		seconds = maxTransitionTime
	}

	v.transitionTime = seconds

	for i := 0; i < formant.NumFormants; i++ {
		_ = v.glideFreq[i].Configure(seconds, v.sampleRate)
		_ = v.glideBand[i].Configure(seconds, v.sampleRate)
	}
}

// TransitionTime returns the diphone glide duration in seconds.
func (v *VoiceState) TransitionTime() float64 { return v.transitionTime }

// SetPitch retunes the excitation sources without redesigning the filters.
func (v *VoiceState) SetPitch(pitchHz float64) {
	v.PitchHz = pitchHz
	v.Glottal.SetFrequency(pitchHz * v.pitchMod)

	centered := pitchHz
	if centered < subharmonic.MinTrackedFrequency {
		centered = subharmonic.MinTrackedFrequency
	}

	if centered > subharmonic.MaxTrackedFrequency {
		centered = subharmonic.MaxTrackedFrequency
	}

	// The loop free-runs at the note pitch so lock is immediate on the
	// internally generated fundamental.
	_ = v.Sub.SetCenterFrequency(centered)
}

// SetPitchModulation applies a transient pitch factor (vibrato) on top of
// the assigned pitch. 1 means no modulation. All synthesis methods derive
// their fundamental from the modulated pitch.
func (v *VoiceState) SetPitchModulation(factor float64) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		factor = 1
	}

	v.pitchMod = factor
	v.Glottal.SetFrequency(v.PitchHz * factor)
}

// PitchModulation returns the current transient pitch factor.
func (v *VoiceState) PitchModulation() float64 { return v.pitchMod }

// ModulatedPitch returns the fundamental in Hz including vibrato.
func (v *VoiceState) ModulatedPitch() float64 { return v.PitchHz * v.pitchMod }

// Voiced reports whether the assigned phoneme uses the glottal source.
// Unassigned voices default to voiced.
func (v *VoiceState) Voiced() bool {
	if v.Record == nil {
		return true
	}

	return v.Resolved.Voiced
}

// NextNoise returns one sample of white noise in [-1, 1), used as the
// unvoiced excitation.
func (v *VoiceState) NextNoise() float64 {
	return 2*v.noise.Float64() - 1
}

// Reset clears all runtime DSP state while keeping the allocated
// components and the assigned phoneme. The next phoneme assignment snaps
// its formant targets instead of gliding from the previous note.
func (v *VoiceState) Reset() {
	v.Glottal.Reset()
	v.Bank.Reset()
	v.Sub.Reset()
	v.Enhancer.Reset()
	v.Phase = 0
	v.pitchMod = 1
	v.glideSnap = true
}

// wrap2Pi keeps an accumulating oscillator phase bounded.
func wrap2Pi(p float64) float64 {
	if p >= 2*math.Pi {
		p -= 2 * math.Pi
	}

	return p
}
