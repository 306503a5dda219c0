package voice

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/effects/reverb"
	"github.com/cwbudde/algo-vecmath"

	"github.com/bretbouchard/choral-v2-sub000/dsp/smooth"
	"github.com/bretbouchard/choral-v2-sub000/phoneme"
	"github.com/bretbouchard/choral-v2-sub000/synthesis"
)

const (
	// batchSize is the number of voices rendered per batch. Partitioning
	// keeps per-block work bounded and cache-friendly.
	batchSize = 8

	// controlSmoothingTime is the ramp applied to every smoothed setter.
	controlSmoothingTime = 0.05

	// silenceThreshold frees a releasing voice once its envelope falls
	// below it.
	silenceThreshold = 0.001

	// priorityInterval is the cadence, in seconds, at which slot ages and
	// priorities are refreshed.
	priorityInterval = 0.1

	// envelopeLog1000 rescales envelope time constants so the exponential
	// reaches the silence threshold exactly at the configured time.
	envelopeLog1000 = 6.907755278982137 // ln(1000)

	// vibratoCents is the pitch excursion at full vibrato depth.
	vibratoCents = 50.0

	defaultMasterGain   = 1.0
	defaultAttackTime   = 0.01
	defaultReleaseTime  = 0.1
	defaultVibratoRate  = 5.0
	defaultVibratoDepth = 0.0

	controlQueueCapacity = 1024
)

// Stats is a read-only diagnostics snapshot.
type Stats struct {
	ActiveVoices int
	MaxVoices    int

	TotalAllocations   uint64
	StolenVoices       uint64
	HighPriorityStolen uint64
	LowPriorityStolen  uint64

	// PeakBlockCost and AvgBlockCost estimate render load in
	// voice-samples per block.
	PeakBlockCost float64
	AvgBlockCost  float64
}

// voiceRuntime holds the per-slot envelope and modulation state the
// manager owns (the DSP chain itself lives in synthesis.VoiceState).
type voiceRuntime struct {
	attackGain  float64
	releaseGain float64
	inRelease   bool

	vibratoPhase float64
	method       synthesis.Method
}

// Reverb control bounds.
const (
	minReverbTime = 0.1
	maxReverbTime = 10.0
)

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithManagerRetriggerSameNote forwards the retrigger policy to the
// allocator: a repeated noteOn reuses the sounding slot instead of layering.
func WithManagerRetriggerSameNote(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.allocOpts = append(m.allocOpts, WithRetriggerSameNote(enabled))
	}
}

// WithManagerSeed fixes all randomized behavior (stealing tiebreaks, noise
// excitation), for reproducible tests.
func WithManagerSeed(seed uint64) ManagerOption {
	return func(m *Manager) {
		m.seed = seed
		m.allocOpts = append(m.allocOpts, WithAllocatorSeed(seed))
	}
}

// Manager orchestrates the voice pool: it owns the allocator, the per-voice
// DSP arena, the envelope and vibrato state, the smoothed control surface,
// and the render loop that mixes everything into a stereo block.
//
// Note events and Render must come from one goroutine. The smoothed setters
// are safe from any goroutine; they cross into the render path through a
// lock-free queue drained at the top of each Render call.
type Manager struct {
	sampleRate   float64
	maxBlockSize int
	prepared     bool

	alloc     *Allocator
	allocOpts []AllocatorOption
	seed      uint64

	states  []*synthesis.VoiceState
	runtime []voiceRuntime

	formantMethod *synthesis.Formant
	subMethod     *synthesis.Subharmonic
	diphoneMethod *synthesis.Diphone
	// defaultMethod is assigned to non-subharmonic voices at noteOn.
	defaultMethod synthesis.Method

	reverbLeft    *reverb.FDNReverb
	reverbRight   *reverb.FDNReverb
	reverbEnabled bool

	masterGain   *smooth.Smoother
	attackTime   *smooth.Smoother
	releaseTime  *smooth.Smoother
	vibratoRate  *smooth.Smoother
	vibratoDepth *smooth.Smoother

	controls *controlQueue

	pending      []phoneme.Event
	pendingStart int

	scratch []float64 // per-voice mono block
	panned  []float64 // scaled copy for one output channel

	batch []int // active slot ids for the current block

	samplesSincePriority int

	peakBlockCost  float64
	totalBlockCost float64
	blocksRendered uint64
}

// NewManager creates a manager with a pool of maxVoices slots. Prepare must
// be called before Render.
func NewManager(sampleRate float64, maxVoices int, opts ...ManagerOption) (*Manager, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("voice manager sample rate must be positive and finite: %f", sampleRate)
	}

	if maxVoices <= 0 {
		return nil, fmt.Errorf("voice manager pool size must be positive: %d", maxVoices)
	}

	m := &Manager{
		sampleRate: sampleRate,
		seed:       1,
		controls:   newControlQueue(controlQueueCapacity),
	}

	for _, opt := range opts {
		opt(m)
	}

	alloc, err := NewAllocator(maxVoices, m.allocOpts...)
	if err != nil {
		return nil, err
	}

	m.alloc = alloc

	m.masterGain, err = smooth.NewSmoother(controlSmoothingTime, sampleRate)
	if err != nil {
		return nil, err
	}

	m.attackTime, err = smooth.NewSmoother(controlSmoothingTime, sampleRate)
	if err != nil {
		return nil, err
	}

	m.releaseTime, err = smooth.NewSmoother(controlSmoothingTime, sampleRate)
	if err != nil {
		return nil, err
	}

	m.vibratoRate, err = smooth.NewSmoother(controlSmoothingTime, sampleRate)
	if err != nil {
		return nil, err
	}

	m.vibratoDepth, err = smooth.NewSmoother(controlSmoothingTime, sampleRate)
	if err != nil {
		return nil, err
	}

	m.masterGain.SetImmediate(defaultMasterGain)
	m.attackTime.SetImmediate(defaultAttackTime)
	m.releaseTime.SetImmediate(defaultReleaseTime)
	m.vibratoRate.SetImmediate(defaultVibratoRate)
	m.vibratoDepth.SetImmediate(defaultVibratoDepth)

	m.formantMethod = synthesis.NewFormant()
	m.subMethod = synthesis.NewSubharmonic()
	m.diphoneMethod = synthesis.NewDiphone()
	m.defaultMethod = m.formantMethod

	return m, nil
}

// SetSynthesisMethod selects the strategy assigned to non-subharmonic
// voices at noteOn: "formant" or "diphone". It affects subsequent notes,
// not voices already sounding, and is driven from the note/render thread.
func (m *Manager) SetSynthesisMethod(name string) error {
	switch name {
	case m.formantMethod.Name():
		m.defaultMethod = m.formantMethod
	case m.diphoneMethod.Name():
		m.defaultMethod = m.diphoneMethod
	default:
		return fmt.Errorf("unknown synthesis method: %q", name)
	}

	return nil
}

// SynthesisMethod returns the name of the current default strategy.
func (m *Manager) SynthesisMethod() string { return m.defaultMethod.Name() }

// SampleRate returns the current sample rate in Hz.
func (m *Manager) SampleRate() float64 { return m.sampleRate }

// MaxVoices returns the pool size.
func (m *Manager) MaxVoices() int { return m.alloc.MaxVoices() }

// ActiveCount returns the number of sounding voices.
func (m *Manager) ActiveCount() int { return m.alloc.ActiveCount() }

// Prepare allocates every buffer and DSP component the render path will
// touch. It may be called again to change rates; all voices are silenced.
func (m *Manager) Prepare(sampleRate float64, maxBlockSize int) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("voice manager sample rate must be positive and finite: %f", sampleRate)
	}

	if maxBlockSize <= 0 {
		return fmt.Errorf("voice manager max block size must be positive: %d", maxBlockSize)
	}

	m.sampleRate = sampleRate
	m.maxBlockSize = maxBlockSize

	params := synthesis.Params{SampleRate: sampleRate, MaxBlockSize: maxBlockSize}

	if err := m.formantMethod.Initialize(params); err != nil {
		return err
	}

	if err := m.subMethod.Initialize(params); err != nil {
		return err
	}

	if err := m.diphoneMethod.Initialize(params); err != nil {
		return err
	}

	left, err := reverb.NewFDNReverb(sampleRate)
	if err != nil {
		return err
	}

	right, err := reverb.NewFDNReverb(sampleRate)
	if err != nil {
		return err
	}

	m.reverbLeft = left
	m.reverbRight = right
	m.reverbEnabled = false

	n := m.alloc.MaxVoices()
	m.states = make([]*synthesis.VoiceState, n)
	m.runtime = make([]voiceRuntime, n)

	for i := range m.states {
		state, err := synthesis.NewVoiceState(sampleRate, m.seed+uint64(i))
		if err != nil {
			return err
		}

		m.states[i] = state
	}

	m.scratch = make([]float64, maxBlockSize)
	m.panned = make([]float64, maxBlockSize)
	m.batch = make([]int, 0, n)
	m.pending = m.pending[:0]
	m.pendingStart = 0

	for _, s := range []*smooth.Smoother{
		m.masterGain, m.attackTime, m.releaseTime, m.vibratoRate, m.vibratoDepth,
	} {
		if err := s.Configure(controlSmoothingTime, sampleRate); err != nil {
			return err
		}
	}

	m.alloc.ResetAll()
	m.samplesSincePriority = 0
	m.peakBlockCost = 0
	m.totalBlockCost = 0
	m.blocksRendered = 0
	m.prepared = true

	return nil
}

// NoteOn starts a voice for the note and returns its slot id, or -1 when
// the note is invalid or no slot could be obtained. When phoneme events
// have been queued, the next one is consumed to configure the voice.
func (m *Manager) NoteOn(note int, velocity float64) int {
	if !m.prepared {
		return -1
	}

	result := m.alloc.Allocate(note, velocity)
	if !result.Success {
		return -1
	}

	id := result.VoiceID
	state := m.states[id]
	state.Reset()

	rt := &m.runtime[id]
	rt.attackGain = 0
	rt.releaseGain = 1
	rt.inRelease = false
	rt.vibratoPhase = 0

	// Extreme MIDI notes land outside the singable pitch range; clamp so
	// the voice still speaks at the nearest legal pitch.
	pitch := clampFinite(m.alloc.Voice(id).Frequency, 20, 2000)
	rec, eventPitch := m.nextPhoneme()

	if eventPitch > 0 {
		pitch = clampFinite(eventPitch, 20, 2000)
	}

	if err := state.AssignPhoneme(rec, pitch); err != nil {
		// An unusable record falls back to the neutral vowel; the note
		// still speaks.
		_ = state.AssignPhoneme(nil, pitch)
	}

	rt.method = m.defaultMethod
	if rec != nil && rec.Category == phoneme.CategorySubharmonic {
		rt.method = m.subMethod
	}

	return id
}

// NoteOff puts the voice playing note into its release phase. The slot is
// freed once the release envelope decays to silence.
func (m *Manager) NoteOff(note int, velocity float64) {
	_ = velocity

	if !m.prepared {
		return
	}

	id := m.alloc.FindActiveNote(note)
	if id == -1 {
		return
	}

	rt := &m.runtime[id]
	if rt.inRelease {
		return
	}

	rt.inRelease = true
	rt.releaseGain = 1
}

// AllNotesOff silences and frees every voice immediately, with no release.
func (m *Manager) AllNotesOff() {
	if !m.prepared {
		return
	}

	for id := 0; id < m.alloc.MaxVoices(); id++ {
		if m.alloc.Voice(id).Active {
			m.freeVoice(id)
		}
	}
}

// AssignPhoneme reconfigures a sounding voice for a new phoneme record at
// its current pitch.
func (m *Manager) AssignPhoneme(id int, rec *phoneme.Record) error {
	if !m.prepared {
		return fmt.Errorf("voice manager not prepared")
	}

	slot := m.alloc.Voice(id)
	if slot == nil || !slot.Active {
		return fmt.Errorf("voice %d is not active", id)
	}

	state := m.states[id]

	if err := state.AssignPhoneme(rec, state.PitchHz); err != nil {
		return err
	}

	rt := &m.runtime[id]
	rt.method = m.defaultMethod

	if rec != nil && rec.Category == phoneme.CategorySubharmonic {
		rt.method = m.subMethod
	}

	return nil
}

// QueuePhonemes appends an ordered event stream. Each subsequent NoteOn
// consumes one event to configure its voice. Invalid events are rejected
// as a whole so the stream stays consistent.
func (m *Manager) QueuePhonemes(seq []phoneme.Event) error {
	for i, ev := range seq {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("phoneme event %d: %w", i, err)
		}
	}

	m.pending = append(m.pending, seq...)

	return nil
}

// SetMasterGain targets the output gain, clamped to [0, 2]. Safe from any
// goroutine.
func (m *Manager) SetMasterGain(gain float64) {
	m.pushControl(controlMasterGain, clampFinite(gain, 0, 2))
}

// SetAttackTime targets the attack time in seconds, clamped to [1 ms, 1 s].
// Safe from any goroutine.
func (m *Manager) SetAttackTime(seconds float64) {
	m.pushControl(controlAttackTime, clampFinite(seconds, 0.001, 1))
}

// SetReleaseTime targets the release time in seconds, clamped to
// [1 ms, 2 s]. Safe from any goroutine.
func (m *Manager) SetReleaseTime(seconds float64) {
	m.pushControl(controlReleaseTime, clampFinite(seconds, 0.001, 2))
}

// SetVibratoRate targets the vibrato rate in Hz, clamped to [0, 20]. Safe
// from any goroutine.
func (m *Manager) SetVibratoRate(rate float64) {
	m.pushControl(controlVibratoRate, clampFinite(rate, 0, 20))
}

// SetVibratoDepth targets the vibrato depth in [0, 1], mapped to ±50 cents
// at full depth. Safe from any goroutine.
func (m *Manager) SetVibratoDepth(depth float64) {
	m.pushControl(controlVibratoDepth, clampFinite(depth, 0, 1))
}

// SetReverbEnabled switches the master-bus reverb in or out. Safe from any
// goroutine; takes effect at the next Render.
func (m *Manager) SetReverbEnabled(enabled bool) {
	v := 0.0
	if enabled {
		v = 1
	}

	m.pushControl(controlReverbEnabled, v)
}

// SetReverbMix targets the reverb wet level, clamped to [0, 1]. Safe from
// any goroutine.
func (m *Manager) SetReverbMix(mix float64) {
	m.pushControl(controlReverbMix, clampFinite(mix, 0, 1))
}

// SetReverbTime targets the reverb decay (RT60) in seconds, clamped to
// [0.1 s, 10 s]. Safe from any goroutine.
func (m *Manager) SetReverbTime(seconds float64) {
	m.pushControl(controlReverbTime, clampFinite(seconds, minReverbTime, maxReverbTime))
}

// Snapshot returns current diagnostics. It has no side effects.
func (m *Manager) Snapshot() Stats {
	as := m.alloc.Stats()

	avg := 0.0
	if m.blocksRendered > 0 {
		avg = m.totalBlockCost / float64(m.blocksRendered)
	}

	return Stats{
		ActiveVoices:       m.alloc.ActiveCount(),
		MaxVoices:          m.alloc.MaxVoices(),
		TotalAllocations:   as.TotalAllocations,
		StolenVoices:       as.StolenVoices,
		HighPriorityStolen: as.HighPriorityStolen,
		LowPriorityStolen:  as.LowPriorityStolen,
		PeakBlockCost:      m.peakBlockCost,
		AvgBlockCost:       avg,
	}
}

// Render fills outLeft and outRight with numSamples stereo samples. It
// never blocks, allocates, locks, or performs I/O; all buffers were sized
// in Prepare. numSamples must be in (0, maxBlockSize] and within both
// output buffers.
func (m *Manager) Render(outLeft, outRight []float64, numSamples int) error {
	if !m.prepared {
		return fmt.Errorf("voice manager not prepared")
	}

	if numSamples <= 0 || numSamples > m.maxBlockSize {
		return fmt.Errorf("render size must be in (0, %d]: %d", m.maxBlockSize, numSamples)
	}

	if len(outLeft) < numSamples || len(outRight) < numSamples {
		return fmt.Errorf("render buffers too small: %d and %d, need %d",
			len(outLeft), len(outRight), numSamples)
	}

	left := outLeft[:numSamples]
	right := outRight[:numSamples]

	for i := range left {
		left[i] = 0
		right[i] = 0
	}

	m.drainControls()

	// Smoothing cadence is per sample, independent of polyphony.
	for i := 0; i < numSamples; i++ {
		m.masterGain.Tick()
		m.attackTime.Tick()
		m.releaseTime.Tick()
		m.vibratoRate.Tick()
		m.vibratoDepth.Tick()
	}

	active := m.collectActive()

	for start := 0; start < len(active); start += batchSize {
		end := start + batchSize
		if end > len(active) {
			end = len(active)
		}

		for _, id := range active[start:end] {
			m.renderVoice(id, left, right, numSamples)
		}
	}

	vecmath.ScaleBlockInPlace(left, m.masterGain.Current())
	vecmath.ScaleBlockInPlace(right, m.masterGain.Current())

	if m.reverbEnabled {
		m.reverbLeft.ProcessInPlace(left)
		m.reverbRight.ProcessInPlace(right)
	}

	for i := range left {
		left[i] = core.FlushDenormals(left[i])
		right[i] = core.FlushDenormals(right[i])
	}

	cost := float64(len(active) * numSamples)
	if cost > m.peakBlockCost {
		m.peakBlockCost = cost
	}

	m.totalBlockCost += cost
	m.blocksRendered++

	m.samplesSincePriority += numSamples
	if interval := int(priorityInterval * m.sampleRate); m.samplesSincePriority >= interval {
		m.alloc.UpdatePriorities(float64(m.samplesSincePriority) / m.sampleRate)
		m.samplesSincePriority = 0
	}

	return nil
}

func (m *Manager) renderVoice(id int, left, right []float64, numSamples int) {
	slot := m.alloc.Voice(id)
	rt := &m.runtime[id]
	state := m.states[id]

	m.applyVibrato(rt, state, numSamples)

	buf := m.scratch[:numSamples]

	if err := rt.method.SynthesizeVoice(state, buf); err != nil {
		// A voice that cannot render contributes silence for the block.
		return
	}

	env := rt.attackGain * rt.releaseGain
	gain := slot.Amplitude * env

	theta := (slot.Pan + 1) * math.Pi / 4
	leftGain := math.Cos(theta) * gain
	rightGain := math.Sin(theta) * gain

	panned := m.panned[:numSamples]

	vecmath.ScaleBlock(panned, buf, leftGain)
	vecmath.AddBlockInPlace(left, panned)

	vecmath.ScaleBlock(panned, buf, rightGain)
	vecmath.AddBlockInPlace(right, panned)

	m.updateEnvelope(id, rt, numSamples)
}

// applyVibrato retunes the voice once per block from the smoothed vibrato
// controls.
func (m *Manager) applyVibrato(rt *voiceRuntime, state *synthesis.VoiceState, numSamples int) {
	depth := m.vibratoDepth.Current()
	rate := m.vibratoRate.Current()

	if depth <= 0 || rate <= 0 {
		// Leave no residual detune behind when vibrato is turned off.
		if state.PitchModulation() != 1 {
			state.SetPitchModulation(1)
		}

		return
	}

	mod := math.Sin(rt.vibratoPhase) * depth * vibratoCents
	state.SetPitchModulation(math.Pow(2, mod/1200))

	dt := float64(numSamples) / m.sampleRate

	rt.vibratoPhase += 2 * math.Pi * rate * dt
	if rt.vibratoPhase >= 2*math.Pi {
		rt.vibratoPhase -= 2 * math.Pi
	}
}

// updateEnvelope advances the voice envelope by one block and frees the
// slot once a release decays below the silence threshold. The exponential
// time constants are scaled so the release actually reaches the threshold
// at the configured release time.
func (m *Manager) updateEnvelope(id int, rt *voiceRuntime, numSamples int) {
	dt := float64(numSamples) / m.sampleRate

	if rt.inRelease {
		release := m.releaseTime.Current()
		rt.releaseGain *= math.Exp(-dt * envelopeLog1000 / release)

		if rt.releaseGain < silenceThreshold {
			m.freeVoice(id)
		}

		return
	}

	attack := m.attackTime.Current()
	rt.attackGain += (1 - rt.attackGain) * (1 - math.Exp(-dt/attack))

	if rt.attackGain > 1 {
		rt.attackGain = 1
	}
}

func (m *Manager) freeVoice(id int) {
	m.alloc.Free(id)
	m.states[id].Reset()

	rt := &m.runtime[id]
	rt.attackGain = 0
	rt.releaseGain = 1
	rt.inRelease = false
	rt.vibratoPhase = 0
}

func (m *Manager) collectActive() []int {
	m.batch = m.batch[:0]

	for id := 0; id < m.alloc.MaxVoices(); id++ {
		if m.alloc.Voice(id).Active {
			m.batch = append(m.batch, id)
		}
	}

	return m.batch
}

func (m *Manager) drainControls() {
	for {
		msg, ok := m.controls.pop()
		if !ok {
			return
		}

		switch msg.kind {
		case controlMasterGain:
			m.masterGain.SetTarget(msg.value)
		case controlAttackTime:
			m.attackTime.SetTarget(msg.value)
		case controlReleaseTime:
			m.releaseTime.SetTarget(msg.value)
		case controlVibratoRate:
			m.vibratoRate.SetTarget(msg.value)
		case controlVibratoDepth:
			m.vibratoDepth.SetTarget(msg.value)
		case controlReverbEnabled:
			enabled := msg.value >= 0.5
			if enabled && !m.reverbEnabled {
				// A stale tail from an earlier session must not ring in.
				m.reverbLeft.Reset()
				m.reverbRight.Reset()
			}

			m.reverbEnabled = enabled
		case controlReverbMix:
			_ = m.reverbLeft.SetWet(msg.value)
			_ = m.reverbRight.SetWet(msg.value)
		case controlReverbTime:
			_ = m.reverbLeft.SetRT60(msg.value)
			_ = m.reverbRight.SetRT60(msg.value)
		}
	}
}

func (m *Manager) pushControl(kind controlKind, value float64) {
	m.controls.push(controlMsg{kind: kind, value: value})
}

// nextPhoneme pops the oldest queued event, returning a nil record when
// the queue is empty.
func (m *Manager) nextPhoneme() (*phoneme.Record, float64) {
	if m.pendingStart >= len(m.pending) {
		if len(m.pending) > 0 {
			m.pending = m.pending[:0]
			m.pendingStart = 0
		}

		return nil, 0
	}

	ev := m.pending[m.pendingStart]
	m.pendingStart++

	return ev.Record, ev.PitchHz
}

func clampFinite(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}

	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
