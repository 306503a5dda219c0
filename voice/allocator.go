// Package voice owns the polyphony machinery: the fixed slot pool with
// priority-based stealing, the per-voice runtime DSP state, the lock-free
// control queue, and the manager that renders all active voices into a
// stereo block.
package voice

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// SlotRecord is the allocator-owned bookkeeping for one pool slot. It is
// created once at startup and mutated only by the allocator.
type SlotRecord struct {
	ID       int
	Note     int
	Velocity float64 // MIDI velocity, 0-127
	Active   bool

	// Priority in [0, 100]; higher survives stealing longer. Recomputed
	// at allocation and by UpdatePriorities, never per sample.
	Priority int
	// Age counts UpdatePriorities ticks since allocation.
	Age int

	Frequency float64 // derived from Note, Hz
	Amplitude float64 // Velocity / 127
	Pan       float64 // -1 left .. +1 right
}

// StealingStats counts allocator activity since the last reset.
type StealingStats struct {
	TotalAllocations   uint64
	StolenVoices       uint64
	HighPriorityStolen uint64 // stolen slots with priority > 50
	LowPriorityStolen  uint64
}

// Result reports one allocation attempt.
type Result struct {
	VoiceID      int
	Success      bool
	Stolen       bool
	StolenFromID int
}

// AllocatorOption configures an Allocator at construction time.
type AllocatorOption func(*Allocator)

// WithRetriggerSameNote makes a second noteOn for an already-sounding pitch
// reuse that slot instead of layering a new one.
func WithRetriggerSameNote(enabled bool) AllocatorOption {
	return func(a *Allocator) {
		a.retriggerSameNote = enabled
	}
}

// WithAllocatorSeed fixes the random tiebreaker seed, for reproducible
// stealing decisions in tests.
func WithAllocatorSeed(seed uint64) AllocatorOption {
	return func(a *Allocator) {
		a.rng = rand.New(rand.NewPCG(seed, 0))
	}
}

// Allocator assigns a fixed pool of voice slots to incoming notes and
// steals the least important slot when the pool is exhausted. It owns no
// audio state, only bookkeeping.
//
// The allocator is not thread-safe; it is driven from the same call path
// as the render loop.
type Allocator struct {
	slots []SlotRecord
	free  []int

	stats StealingStats
	rng   *rand.Rand

	retriggerSameNote bool
}

// NewAllocator creates a pool of maxVoices slots. A zero-size pool is
// legal; every allocation against it fails.
func NewAllocator(maxVoices int, opts ...AllocatorOption) (*Allocator, error) {
	if maxVoices < 0 {
		return nil, fmt.Errorf("voice pool size must be non-negative: %d", maxVoices)
	}

	a := &Allocator{
		slots: make([]SlotRecord, maxVoices),
		free:  make([]int, 0, maxVoices),
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}

	for i := range a.slots {
		a.slots[i].ID = i
		a.free = append(a.free, i)
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// MaxVoices returns the pool size.
func (a *Allocator) MaxVoices() int { return len(a.slots) }

// ActiveCount returns the number of sounding slots.
func (a *Allocator) ActiveCount() int {
	return len(a.slots) - len(a.free)
}

// Stats returns a copy of the stealing counters.
func (a *Allocator) Stats() StealingStats { return a.stats }

// Voice returns the slot record for id, or nil for an invalid id.
func (a *Allocator) Voice(id int) *SlotRecord {
	if id < 0 || id >= len(a.slots) {
		return nil
	}

	return &a.slots[id]
}

// Allocate assigns a slot to the note. Out-of-range note or velocity fails
// with no state mutated. When the pool is full the lowest-priority slot is
// stolen, ties broken toward the newest voice.
func (a *Allocator) Allocate(note int, velocity float64) Result {
	if note < 0 || note > 127 {
		return Result{StolenFromID: -1}
	}

	if velocity < 0 || velocity > 127 || math.IsNaN(velocity) {
		return Result{StolenFromID: -1}
	}

	result := Result{StolenFromID: -1}

	id := -1

	if a.retriggerSameNote {
		id = a.findActiveNote(note)
	}

	if id == -1 {
		id = a.popFree()
	}

	if id == -1 {
		id = a.findVoiceToSteal()
		if id == -1 {
			return result // zero-size pool
		}

		result.Stolen = true
		result.StolenFromID = id
		a.stats.StolenVoices++

		if a.slots[id].Priority > 50 {
			a.stats.HighPriorityStolen++
		} else {
			a.stats.LowPriorityStolen++
		}
	}

	slot := &a.slots[id]
	slot.Note = note
	slot.Velocity = velocity
	slot.Active = true
	slot.Age = 0
	slot.Frequency = NoteToFrequency(note)
	slot.Amplitude = velocity / 127
	slot.Pan = 0
	slot.Priority = a.calculatePriority(slot)

	result.VoiceID = id
	result.Success = true
	a.stats.TotalAllocations++

	return result
}

// Free returns a slot to the pool. Invalid or already-idle ids are ignored.
func (a *Allocator) Free(id int) {
	if id < 0 || id >= len(a.slots) {
		return
	}

	slot := &a.slots[id]
	if !slot.Active {
		return
	}

	*slot = SlotRecord{ID: id}
	a.free = append(a.free, id)
}

// FindActiveNote returns the id of the first sounding slot playing note,
// or -1 when none does.
func (a *Allocator) FindActiveNote(note int) int {
	return a.findActiveNote(note)
}

// UpdatePriorities ages all active slots and recomputes their priorities.
// Call it at a coarse cadence (around 10 Hz), never per sample.
func (a *Allocator) UpdatePriorities(dt float64) {
	_ = dt

	for i := range a.slots {
		if !a.slots[i].Active {
			continue
		}

		a.slots[i].Age++
		a.slots[i].Priority = a.calculatePriority(&a.slots[i])
	}
}

// ResetAll frees every slot and clears the stats.
func (a *Allocator) ResetAll() {
	a.free = a.free[:0]

	for i := range a.slots {
		a.slots[i] = SlotRecord{ID: i}
		a.free = append(a.free, i)
	}

	a.stats = StealingStats{}
}

// NoteToFrequency converts a MIDI note number to Hz with A4 = 440.
func NoteToFrequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func (a *Allocator) popFree() int {
	if len(a.free) == 0 {
		return -1
	}

	id := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	return id
}

func (a *Allocator) findActiveNote(note int) int {
	for i := range a.slots {
		if a.slots[i].Active && a.slots[i].Note == note {
			return i
		}
	}

	return -1
}

// findVoiceToSteal picks the active slot with the lowest priority; among
// equals the newest (lowest age) is sacrificed, keeping established voices
// sounding.
func (a *Allocator) findVoiceToSteal() int {
	best := -1
	bestPriority := 101
	bestAge := math.MaxInt

	for i := range a.slots {
		slot := &a.slots[i]
		if !slot.Active {
			continue
		}

		if slot.Priority < bestPriority ||
			(slot.Priority == bestPriority && slot.Age < bestAge) {
			best = i
			bestPriority = slot.Priority
			bestAge = slot.Age
		}
	}

	return best
}

// calculatePriority scores a slot: 50% velocity, 30% age (capped), 20%
// random tiebreaker so equal voices are not always stolen in slot order.
func (a *Allocator) calculatePriority(slot *SlotRecord) int {
	velocityScore := slot.Velocity / 127 * 50

	cappedAge := slot.Age
	if cappedAge > 100 {
		cappedAge = 100
	}

	ageScore := float64(cappedAge) / 100 * 30
	randomScore := a.rng.IntN(21)

	p := int(velocityScore+ageScore) + randomScore
	if p < 0 {
		p = 0
	}

	if p > 100 {
		p = 100
	}

	return p
}
