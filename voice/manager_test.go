package voice

import (
	"math"
	"testing"

	"github.com/bretbouchard/choral-v2-sub000/phoneme"
)

const testSampleRate = 44100

func newTestManager(t *testing.T, maxVoices, maxBlockSize int) *Manager {
	t.Helper()

	m, err := NewManager(testSampleRate, maxVoices, WithManagerSeed(7))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Prepare(testSampleRate, maxBlockSize); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	return m
}

func renderBlocks(t *testing.T, m *Manager, blocks, blockSize int) []float64 {
	t.Helper()

	out := make([]float64, blocks*blockSize)
	right := make([]float64, blockSize)

	for b := 0; b < blocks; b++ {
		left := out[b*blockSize : (b+1)*blockSize]
		if err := m.Render(left, right, blockSize); err != nil {
			t.Fatalf("Render() block %d error = %v", b, err)
		}
	}

	return out
}

func blockRMS(buf []float64) float64 {
	var sum float64
	for _, x := range buf {
		sum += x * x
	}

	return math.Sqrt(sum / float64(len(buf)))
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(0, 8); err == nil {
		t.Fatal("expected error for zero sample rate")
	}

	if _, err := NewManager(testSampleRate, 0); err == nil {
		t.Fatal("expected error for zero pool size")
	}
}

func TestRenderRequiresPrepare(t *testing.T) {
	m, err := NewManager(testSampleRate, 4)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	buf := make([]float64, 64)
	if err := m.Render(buf, buf, 64); err == nil {
		t.Fatal("expected error before Prepare")
	}

	if id := m.NoteOn(60, 100); id != -1 {
		t.Fatalf("NoteOn before Prepare = %d, want -1", id)
	}
}

func TestRenderValidatesArguments(t *testing.T) {
	m := newTestManager(t, 4, 512)

	left := make([]float64, 512)
	right := make([]float64, 512)

	if err := m.Render(left, right, 0); err == nil {
		t.Fatal("expected error for zero samples")
	}

	if err := m.Render(left, right, 1024); err == nil {
		t.Fatal("expected error for block beyond max")
	}

	if err := m.Render(left[:100], right, 512); err == nil {
		t.Fatal("expected error for short left buffer")
	}

	if err := m.Render(left, right[:100], 512); err == nil {
		t.Fatal("expected error for short right buffer")
	}
}

func TestNoteOnRendersAudibleVoice(t *testing.T) {
	m := newTestManager(t, 8, 256)

	id := m.NoteOn(57, 100)
	if id < 0 {
		t.Fatal("NoteOn failed with an empty pool")
	}

	if m.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", m.ActiveCount())
	}

	out := renderBlocks(t, m, 8, 256)

	if rms := blockRMS(out); rms == 0 {
		t.Fatal("sounding voice rendered silence")
	}

	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("non-finite sample at %d: %g", i, x)
		}
	}
}

func TestRenderWhileStealing(t *testing.T) {
	m := newTestManager(t, 8, 512)

	left := make([]float64, 512)
	right := make([]float64, 512)

	for n := 0; n < 12; n++ {
		if id := m.NoteOn(48+n, 100); id < 0 {
			t.Fatalf("NoteOn %d failed", n)
		}

		if err := m.Render(left, right, 512); err != nil {
			t.Fatalf("Render() error = %v", err)
		}

		for i := range left[:512] {
			if math.IsNaN(left[i]) || math.IsInf(left[i], 0) {
				t.Fatalf("non-finite sample during stealing at %d", i)
			}
		}
	}

	stats := m.Snapshot()

	if stats.ActiveVoices != 8 {
		t.Fatalf("active voices = %d, want full pool of 8", stats.ActiveVoices)
	}

	if stats.TotalAllocations != 12 {
		t.Fatalf("total allocations = %d, want 12", stats.TotalAllocations)
	}

	if stats.StolenVoices != 4 {
		t.Fatalf("stolen voices = %d, want 4", stats.StolenVoices)
	}

	if stats.PeakBlockCost == 0 || stats.AvgBlockCost == 0 {
		t.Fatal("block cost diagnostics not recorded")
	}
}

func TestNoteOffReleasesAndFreesVoice(t *testing.T) {
	const blockSize = 512

	m := newTestManager(t, 4, blockSize)

	if id := m.NoteOn(57, 100); id < 0 {
		t.Fatal("NoteOn failed")
	}

	// Let the attack settle and the enhancer warm up before the release.
	renderBlocks(t, m, 12, blockSize)

	m.NoteOff(57, 0)

	left := make([]float64, blockSize)
	right := make([]float64, blockSize)

	prev := math.Inf(1)
	freedAt := -1

	for b := 0; b < 16; b++ {
		if err := m.Render(left, right, blockSize); err != nil {
			t.Fatalf("Render() error = %v", err)
		}

		rms := blockRMS(left)
		if rms > prev {
			t.Fatalf("release block %d rms %g rose above previous %g", b, rms, prev)
		}

		prev = rms

		if freedAt == -1 && m.ActiveCount() == 0 {
			freedAt = b
		}
	}

	if freedAt == -1 {
		t.Fatal("voice never freed after release")
	}

	// The default 100 ms release reaches silence within one block of
	// 100 ms worth of samples.
	releaseBlocks := int(math.Ceil(0.1 * testSampleRate / blockSize))
	if freedAt < releaseBlocks-1 || freedAt > releaseBlocks+1 {
		t.Fatalf("voice freed after block %d, want near %d", freedAt, releaseBlocks)
	}
}

func TestAllNotesOffSilencesImmediately(t *testing.T) {
	m := newTestManager(t, 8, 256)

	for n := 0; n < 5; n++ {
		m.NoteOn(50+n, 100)
	}

	renderBlocks(t, m, 4, 256)

	m.AllNotesOff()

	if m.ActiveCount() != 0 {
		t.Fatalf("active count = %d after AllNotesOff, want 0", m.ActiveCount())
	}

	out := renderBlocks(t, m, 2, 256)
	if rms := blockRMS(out); rms != 0 {
		t.Fatalf("output rms = %g after AllNotesOff, want silence", rms)
	}
}

func TestSmoothedMasterGainReachesTarget(t *testing.T) {
	const blockSize = 512

	m := newTestManager(t, 4, blockSize)

	m.NoteOn(57, 100)
	renderBlocks(t, m, 8, blockSize)

	m.SetMasterGain(0)

	// 50 ms of smoothing is 2205 samples; render past it.
	renderBlocks(t, m, 6, blockSize)

	out := renderBlocks(t, m, 2, blockSize)
	if rms := blockRMS(out); rms != 0 {
		t.Fatalf("output rms = %g after gain ramp to zero, want silence", rms)
	}
}

func TestControlSettersClamp(t *testing.T) {
	m := newTestManager(t, 4, 256)

	m.SetMasterGain(5)
	m.SetAttackTime(-1)
	m.SetReleaseTime(100)
	m.SetVibratoRate(math.NaN())
	m.SetVibratoDepth(2)

	renderBlocks(t, m, 1, 256)

	if got := m.masterGain.Target(); got != 2 {
		t.Fatalf("master gain target = %g, want clamp to 2", got)
	}

	if got := m.attackTime.Target(); got != 0.001 {
		t.Fatalf("attack target = %g, want clamp to 0.001", got)
	}

	if got := m.releaseTime.Target(); got != 2 {
		t.Fatalf("release target = %g, want clamp to 2", got)
	}

	if got := m.vibratoRate.Target(); got != 0 {
		t.Fatalf("vibrato rate target = %g, want NaN mapped to 0", got)
	}

	if got := m.vibratoDepth.Target(); got != 1 {
		t.Fatalf("vibrato depth target = %g, want clamp to 1", got)
	}
}

func TestQueuePhonemesConfiguresNextNote(t *testing.T) {
	m := newTestManager(t, 4, 256)

	inv := phoneme.DefaultInventory()
	sub := phoneme.Lookup(inv, "SUB_OCTAVE")

	err := m.QueuePhonemes([]phoneme.Event{
		{Record: sub, PitchHz: 110},
	})
	if err != nil {
		t.Fatalf("QueuePhonemes() error = %v", err)
	}

	id := m.NoteOn(60, 100)
	if id < 0 {
		t.Fatal("NoteOn failed")
	}

	if m.states[id].Record != sub {
		t.Fatal("queued phoneme not applied to the voice")
	}

	if got := m.states[id].Sub.CenterFrequency(); got != 110 {
		t.Fatalf("event pitch not applied: sub center = %g, want 110", got)
	}

	if m.runtime[id].method != m.subMethod {
		t.Fatal("subharmonic record did not select the subharmonic method")
	}

	// With the queue drained the next note falls back to its own pitch
	// and the formant method.
	id2 := m.NoteOn(64, 100)
	if id2 < 0 {
		t.Fatal("second NoteOn failed")
	}

	if m.runtime[id2].method != m.formantMethod {
		t.Fatal("empty queue should select the formant method")
	}
}

func TestQueuePhonemesRejectsInvalidEvent(t *testing.T) {
	m := newTestManager(t, 4, 256)

	err := m.QueuePhonemes([]phoneme.Event{
		{Record: nil, PitchHz: -3},
	})
	if err == nil {
		t.Fatal("expected error for invalid event")
	}
}

func TestAssignPhonemeOnActiveVoice(t *testing.T) {
	m := newTestManager(t, 4, 256)

	id := m.NoteOn(57, 100)
	if id < 0 {
		t.Fatal("NoteOn failed")
	}

	inv := phoneme.DefaultInventory()
	iy := phoneme.Lookup(inv, "IY")

	if err := m.AssignPhoneme(id, iy); err != nil {
		t.Fatalf("AssignPhoneme() error = %v", err)
	}

	if m.states[id].Record != iy {
		t.Fatal("phoneme not applied to the active voice")
	}

	if err := m.AssignPhoneme(99, iy); err == nil {
		t.Fatal("expected error for unknown voice id")
	}
}

func TestVibratoModulatesPitch(t *testing.T) {
	m := newTestManager(t, 4, 256)

	id := m.NoteOn(57, 100)
	if id < 0 {
		t.Fatal("NoteOn failed")
	}

	m.SetVibratoRate(6)
	m.SetVibratoDepth(1)

	// Ride past the control smoothing, then sample the glottal frequency
	// across blocks; full-depth vibrato must move it off the note pitch.
	renderBlocks(t, m, 12, 256)

	base := m.states[id].PitchHz
	deviated := false

	left := make([]float64, 256)
	right := make([]float64, 256)

	for b := 0; b < 16; b++ {
		if err := m.Render(left, right, 256); err != nil {
			t.Fatalf("Render() error = %v", err)
		}

		if math.Abs(m.states[id].Glottal.Frequency()-base) > 1 {
			deviated = true
		}
	}

	if !deviated {
		t.Fatal("vibrato never moved the voice pitch")
	}
}

func BenchmarkManagerRender(b *testing.B) {
	m, err := NewManager(testSampleRate, 16, WithManagerSeed(7))
	if err != nil {
		b.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Prepare(testSampleRate, 512); err != nil {
		b.Fatalf("Prepare() error = %v", err)
	}

	for n := 0; n < 8; n++ {
		m.NoteOn(48+n, 100)
	}

	left := make([]float64, 512)
	right := make([]float64, 512)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := m.Render(left, right, 512); err != nil {
			b.Fatalf("Render() error = %v", err)
		}
	}
}

func TestReusedSlotRendersNeutralVowel(t *testing.T) {
	m := newTestManager(t, 1, 256)

	inv := phoneme.DefaultInventory()
	iy := phoneme.Lookup(inv, "IY")

	if err := m.QueuePhonemes([]phoneme.Event{{Record: iy}}); err != nil {
		t.Fatalf("QueuePhonemes() error = %v", err)
	}

	id := m.NoteOn(57, 100)
	if id < 0 {
		t.Fatal("NoteOn failed")
	}

	if got := m.states[id].Bank.Resonator(0).CenterFrequency(); got != iy.Frequencies[0] {
		t.Fatalf("assigned F1 = %g, want %g", got, iy.Frequencies[0])
	}

	renderBlocks(t, m, 2, 256)
	m.AllNotesOff()

	// The slot is reused with an empty phoneme queue; it must not keep the
	// previous note's vowel.
	id2 := m.NoteOn(57, 100)
	if id2 != id {
		t.Fatalf("pool of one reused slot %d, want %d", id2, id)
	}

	if m.states[id2].Record != nil {
		t.Fatal("reused slot kept the previous phoneme record")
	}

	if got := m.states[id2].Bank.Resonator(0).CenterFrequency(); got != 500 {
		t.Fatalf("reused slot F1 = %g, want neutral 500", got)
	}
}

func TestVibratoStopsCleanly(t *testing.T) {
	m := newTestManager(t, 4, 256)

	id := m.NoteOn(57, 100)
	if id < 0 {
		t.Fatal("NoteOn failed")
	}

	m.SetVibratoRate(6)
	m.SetVibratoDepth(1)
	renderBlocks(t, m, 12, 256)

	m.SetVibratoDepth(0)
	renderBlocks(t, m, 12, 256)

	state := m.states[id]

	if got := state.PitchModulation(); got != 1 {
		t.Fatalf("pitch modulation after vibrato off = %g, want 1", got)
	}

	if got := state.Glottal.Frequency(); got != state.PitchHz {
		t.Fatalf("glottal frequency = %g, want base pitch %g", got, state.PitchHz)
	}
}

func TestVibratoModulatesSubharmonicVoice(t *testing.T) {
	m := newTestManager(t, 4, 256)

	inv := phoneme.DefaultInventory()
	sub := phoneme.Lookup(inv, "SUB_OCTAVE")

	if err := m.QueuePhonemes([]phoneme.Event{{Record: sub, PitchHz: 110}}); err != nil {
		t.Fatalf("QueuePhonemes() error = %v", err)
	}

	id := m.NoteOn(45, 100)
	if id < 0 {
		t.Fatal("NoteOn failed")
	}

	m.SetVibratoRate(6)
	m.SetVibratoDepth(1)
	renderBlocks(t, m, 12, 256)

	deviated := false

	left := make([]float64, 256)
	right := make([]float64, 256)

	for b := 0; b < 8; b++ {
		if err := m.Render(left, right, 256); err != nil {
			t.Fatalf("Render() error = %v", err)
		}

		if m.states[id].PitchModulation() != 1 {
			deviated = true
		}
	}

	if !deviated {
		t.Fatal("vibrato never modulated the subharmonic voice")
	}
}

func TestSetSynthesisMethod(t *testing.T) {
	m := newTestManager(t, 4, 256)

	if got := m.SynthesisMethod(); got != "formant" {
		t.Fatalf("default method = %q, want formant", got)
	}

	if err := m.SetSynthesisMethod("granular"); err == nil {
		t.Fatal("expected error for unknown method")
	}

	if err := m.SetSynthesisMethod("diphone"); err != nil {
		t.Fatalf("SetSynthesisMethod(diphone) error = %v", err)
	}

	id := m.NoteOn(57, 100)
	if id < 0 {
		t.Fatal("NoteOn failed")
	}

	if m.runtime[id].method != m.diphoneMethod {
		t.Fatal("diphone default did not select the diphone method")
	}

	// Subharmonic-category records still override the default.
	inv := phoneme.DefaultInventory()
	if err := m.QueuePhonemes([]phoneme.Event{
		{Record: phoneme.Lookup(inv, "SUB_OCTAVE"), PitchHz: 110},
	}); err != nil {
		t.Fatalf("QueuePhonemes() error = %v", err)
	}

	id2 := m.NoteOn(45, 100)
	if id2 < 0 {
		t.Fatal("second NoteOn failed")
	}

	if m.runtime[id2].method != m.subMethod {
		t.Fatal("subharmonic record did not override the default method")
	}

	out := renderBlocks(t, m, 8, 256)
	if rms := blockRMS(out); rms == 0 {
		t.Fatal("diphone voices rendered silence")
	}
}

func TestReverbTailRingsAfterNotesEnd(t *testing.T) {
	m := newTestManager(t, 4, 512)

	m.SetReverbEnabled(true)
	m.SetReverbMix(0.5)
	m.SetReverbTime(2)

	if id := m.NoteOn(57, 100); id < 0 {
		t.Fatal("NoteOn failed")
	}

	renderBlocks(t, m, 8, 512)
	m.AllNotesOff()

	tail := renderBlocks(t, m, 2, 512)
	if rms := blockRMS(tail); rms == 0 {
		t.Fatal("reverb produced no tail after notes ended")
	}

	// Bypassing the reverb silences the bus again.
	m.SetReverbEnabled(false)
	out := renderBlocks(t, m, 2, 512)
	if rms := blockRMS(out); rms != 0 {
		t.Fatalf("bypassed reverb output rms = %g, want silence", rms)
	}
}
