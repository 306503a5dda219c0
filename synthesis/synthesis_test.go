package synthesis

import (
	"math"
	"testing"

	"github.com/bretbouchard/choral-v2-sub000/phoneme"
)

func newTestVoice(t *testing.T) *VoiceState {
	t.Helper()

	v, err := NewVoiceState(44100, 1)
	if err != nil {
		t.Fatalf("NewVoiceState() error = %v", err)
	}

	return v
}

func rmsOf(buf []float64) float64 {
	var sum float64
	for _, x := range buf {
		sum += x * x
	}

	return math.Sqrt(sum / float64(len(buf)))
}

func TestParamsValidate(t *testing.T) {
	if err := (Params{SampleRate: 44100, MaxBlockSize: 512}).Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	if err := (Params{SampleRate: 0, MaxBlockSize: 512}).Validate(); err == nil {
		t.Fatal("expected error for zero sample rate")
	}

	if err := (Params{SampleRate: 44100, MaxBlockSize: 0}).Validate(); err == nil {
		t.Fatal("expected error for zero block size")
	}
}

func TestVoiceStateAssignPhoneme(t *testing.T) {
	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "AA")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	if v.PitchHz != 220 {
		t.Fatalf("pitch = %g, want 220", v.PitchHz)
	}

	if !v.Voiced() {
		t.Fatal("vowel voice should be voiced")
	}

	if got := v.Bank.Resonator(0).CenterFrequency(); got != rec.Frequencies[0] {
		t.Fatalf("bank F1 = %g, want %g", got, rec.Frequencies[0])
	}

	if err := v.AssignPhoneme(rec, -5); err == nil {
		t.Fatal("expected error for negative pitch")
	}
}

func TestVoiceStateNilRecordFallback(t *testing.T) {
	v := newTestVoice(t)

	if err := v.AssignPhoneme(nil, 220); err != nil {
		t.Fatalf("AssignPhoneme(nil) error = %v", err)
	}

	if !v.Voiced() {
		t.Fatal("unassigned voice should default to voiced")
	}
}

func TestVoiceStateSubharmonicAssignment(t *testing.T) {
	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "SUB_OCTAVE")

	if err := v.AssignPhoneme(rec, 110); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	if got := v.Sub.Ratio(); got != 0.5 {
		t.Fatalf("sub ratio = %g, want 0.5", got)
	}

	if got := v.Sub.Mix(); got != 0.5 {
		t.Fatalf("sub mix = %g, want 0.5", got)
	}

	if got := v.Sub.CenterFrequency(); got != 110 {
		t.Fatalf("sub center = %g, want note pitch 110", got)
	}
}

func TestFormantMethodRequiresInitialize(t *testing.T) {
	m := NewFormant()
	v := newTestVoice(t)

	out := make([]float64, 64)
	if err := m.SynthesizeVoice(v, out); err == nil {
		t.Fatal("expected error before Initialize")
	}

	if err := m.Initialize(Params{SampleRate: 0, MaxBlockSize: 512}); err == nil {
		t.Fatal("expected error for invalid params")
	}
}

func TestFormantMethodRendersVoicedPhoneme(t *testing.T) {
	m := NewFormant()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 512}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "AA")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	out := make([]float64, 4096)
	for i := 0; i < len(out); i += 512 {
		if err := m.SynthesizeVoice(v, out[i:i+512]); err != nil {
			t.Fatalf("SynthesizeVoice() error = %v", err)
		}
	}

	if rms := rmsOf(out); rms == 0 {
		t.Fatal("voiced formant synthesis produced silence")
	}

	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("non-finite sample at %d: %g", i, x)
		}
	}
}

func TestFormantMethodRendersUnvoicedPhoneme(t *testing.T) {
	m := NewFormant()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 512}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "S")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	if v.Voiced() {
		t.Fatal("fricative voice should be unvoiced")
	}

	out := make([]float64, 4096)
	for i := 0; i < len(out); i += 512 {
		if err := m.SynthesizeVoice(v, out[i:i+512]); err != nil {
			t.Fatalf("SynthesizeVoice() error = %v", err)
		}
	}

	if rms := rmsOf(out); rms == 0 {
		t.Fatal("unvoiced formant synthesis produced silence")
	}
}

func TestFormantMethodRefusesOversizeBlock(t *testing.T) {
	m := NewFormant()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 128}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)

	out := make([]float64, 256)
	if err := m.SynthesizeVoice(v, out); err == nil {
		t.Fatal("expected error for block larger than max")
	}
}

func TestSubharmonicMethodRenders(t *testing.T) {
	m := NewSubharmonic()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 512}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "SUB_OCTAVE")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	out := make([]float64, 8192)
	for i := 0; i < len(out); i += 512 {
		if err := m.SynthesizeVoice(v, out[i:i+512]); err != nil {
			t.Fatalf("SynthesizeVoice() error = %v", err)
		}
	}

	if rms := rmsOf(out); rms == 0 {
		t.Fatal("subharmonic synthesis produced silence")
	}

	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("non-finite sample at %d: %g", i, x)
		}
	}
}

func TestVoiceStateReset(t *testing.T) {
	m := NewFormant()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 512}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "AA")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	out := make([]float64, 512)
	if err := m.SynthesizeVoice(v, out); err != nil {
		t.Fatalf("SynthesizeVoice() error = %v", err)
	}

	v.Reset()

	if v.Phase != 0 {
		t.Fatalf("phase after Reset = %g, want 0", v.Phase)
	}

	// The assigned phoneme survives a state reset.
	if v.Record != rec {
		t.Fatal("Reset dropped the assigned phoneme")
	}
}

func TestVoiceStateNilRecordRestoresNeutral(t *testing.T) {
	v := newTestVoice(t)
	// A nasal record also attenuates F2, so the gain reset is observable.
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "M")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	if got := v.Bank.Resonator(0).CenterFrequency(); got != rec.Frequencies[0] {
		t.Fatalf("bank F1 = %g, want %g", got, rec.Frequencies[0])
	}

	if g := v.Bank.Gain(1); g != 0.4 {
		t.Fatalf("nasal F2 gain = %g, want 0.4", g)
	}

	if err := v.AssignPhoneme(nil, 220); err != nil {
		t.Fatalf("AssignPhoneme(nil) error = %v", err)
	}

	// Clearing the record must not leave the previous vowel's filters in
	// place: the slot returns to the neutral design.
	if got := v.Bank.Resonator(0).CenterFrequency(); got != 500 {
		t.Fatalf("neutral bank F1 = %g, want 500", got)
	}

	for i := 0; i < 4; i++ {
		if g := v.Bank.Gain(i); g != 1 {
			t.Fatalf("neutral gain %d = %g, want 1", i, g)
		}
	}
}

func TestVoiceStateTransitionTimeClamp(t *testing.T) {
	v := newTestVoice(t)

	cases := []struct {
		in   float64
		want float64
	}{
		{0.2, 0.2},
		{0.001, 0.01},
		{5, 1},
	}

	for _, tc := range cases {
		v.SetTransitionTime(tc.in)
		if got := v.TransitionTime(); got != tc.want {
			t.Fatalf("TransitionTime after Set(%g) = %g, want %g", tc.in, got, tc.want)
		}
	}

	v.SetTransitionTime(math.NaN())
	if got := v.TransitionTime(); got != 1 {
		t.Fatalf("NaN transition time mutated state: %g", got)
	}
}

func TestDiphoneMethodRendersVoicedPhoneme(t *testing.T) {
	m := NewDiphone()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 512}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "AA")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	out := make([]float64, 4096)
	for i := 0; i < len(out); i += 512 {
		if err := m.SynthesizeVoice(v, out[i:i+512]); err != nil {
			t.Fatalf("SynthesizeVoice() error = %v", err)
		}
	}

	if rms := rmsOf(out); rms == 0 {
		t.Fatal("voiced diphone synthesis produced silence")
	}

	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("non-finite sample at %d: %g", i, x)
		}
	}
}

func TestDiphoneMethodGlidesBetweenPhonemes(t *testing.T) {
	m := NewDiphone()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 512}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)
	inv := phoneme.DefaultInventory()
	aa := phoneme.Lookup(inv, "AA")
	iy := phoneme.Lookup(inv, "IY")

	if err := v.AssignPhoneme(aa, 220); err != nil {
		t.Fatalf("AssignPhoneme(AA) error = %v", err)
	}

	buf := make([]float64, 512)
	if err := m.SynthesizeVoice(v, buf); err != nil {
		t.Fatalf("SynthesizeVoice() error = %v", err)
	}

	// The first assignment snapped, so the resonator sits on AA's F1.
	if got := v.Bank.Resonator(0).CenterFrequency(); got != aa.Frequencies[0] {
		t.Fatalf("F1 before transition = %g, want %g", got, aa.Frequencies[0])
	}

	if err := v.AssignPhoneme(iy, 220); err != nil {
		t.Fatalf("AssignPhoneme(IY) error = %v", err)
	}

	if err := m.SynthesizeVoice(v, buf); err != nil {
		t.Fatalf("SynthesizeVoice() error = %v", err)
	}

	// Mid-transition the resonator must sit strictly between the vowels.
	mid := v.Bank.Resonator(0).CenterFrequency()
	if mid <= iy.Frequencies[0] || mid >= aa.Frequencies[0] {
		t.Fatalf("F1 mid-transition = %g, want inside (%g, %g)",
			mid, iy.Frequencies[0], aa.Frequencies[0])
	}

	// The default 50 ms transition is complete well before 8192 samples.
	for i := 0; i < 16; i++ {
		if err := m.SynthesizeVoice(v, buf); err != nil {
			t.Fatalf("SynthesizeVoice() error = %v", err)
		}
	}

	if got := v.Bank.Resonator(0).CenterFrequency(); got != iy.Frequencies[0] {
		t.Fatalf("F1 after transition = %g, want %g", got, iy.Frequencies[0])
	}
}

func TestDiphoneMethodRendersUnvoicedPhoneme(t *testing.T) {
	m := NewDiphone()
	if err := m.Initialize(Params{SampleRate: 44100, MaxBlockSize: 512}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "S")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	out := make([]float64, 4096)
	for i := 0; i < len(out); i += 512 {
		if err := m.SynthesizeVoice(v, out[i:i+512]); err != nil {
			t.Fatalf("SynthesizeVoice() error = %v", err)
		}
	}

	if rms := rmsOf(out); rms == 0 {
		t.Fatal("unvoiced diphone synthesis produced silence")
	}
}

func TestVoiceStatePitchModulation(t *testing.T) {
	v := newTestVoice(t)
	rec := phoneme.Lookup(phoneme.DefaultInventory(), "AA")

	if err := v.AssignPhoneme(rec, 220); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	v.SetPitchModulation(1.05)

	if got := v.ModulatedPitch(); got != 220*1.05 {
		t.Fatalf("modulated pitch = %g, want %g", got, 220*1.05)
	}

	if got := v.Glottal.Frequency(); got != 220*1.05 {
		t.Fatalf("glottal frequency = %g, want %g", got, 220*1.05)
	}

	// Invalid factors fall back to unity.
	v.SetPitchModulation(math.NaN())
	if got := v.PitchModulation(); got != 1 {
		t.Fatalf("pitch modulation after NaN = %g, want 1", got)
	}

	v.SetPitchModulation(1.05)
	v.Reset()

	if got := v.PitchModulation(); got != 1 {
		t.Fatalf("pitch modulation after Reset = %g, want 1", got)
	}
}
