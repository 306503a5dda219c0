package voice

import "sync/atomic"

// controlKind identifies which smoothed parameter a control message sets.
type controlKind uint8

const (
	controlMasterGain controlKind = iota
	controlAttackTime
	controlReleaseTime
	controlVibratoRate
	controlVibratoDepth
	controlReverbEnabled
	controlReverbMix
	controlReverbTime
)

type controlMsg struct {
	kind  controlKind
	value float64
}

// controlCell pairs a message slot with a sequence number that publishes
// the write: a producer claims the slot by advancing tail, fills it, then
// bumps the sequence so the consumer never observes a half-written cell.
type controlCell struct {
	seq atomic.Uint64
	msg controlMsg
}

// controlQueue is a bounded multi-producer single-consumer ring. Any
// goroutine may push; only the render call pops, draining everything at
// the top of each block. Neither side takes a lock; a full queue drops the
// message so a producer can never stall the audio thread's cadence.
type controlQueue struct {
	cells []controlCell
	mask  uint64

	head atomic.Uint64 // consumer position
	tail atomic.Uint64 // producer position
}

// newControlQueue creates a queue with capacity rounded up to a power of
// two, minimum 16.
func newControlQueue(capacity int) *controlQueue {
	n := 16
	for n < capacity {
		n <<= 1
	}

	q := &controlQueue{
		cells: make([]controlCell, n),
		mask:  uint64(n - 1),
	}

	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}

	return q
}

// push appends a message. It reports false when the queue is full.
func (q *controlQueue) push(m controlMsg) bool {
	for {
		tail := q.tail.Load()
		cell := &q.cells[tail&q.mask]
		seq := cell.seq.Load()

		if seq == tail {
			if q.tail.CompareAndSwap(tail, tail+1) {
				cell.msg = m
				cell.seq.Store(tail + 1)

				return true
			}

			continue
		}

		if seq < tail {
			// The cell has not been consumed since the ring last wrapped.
			return false
		}
	}
}

// pop removes the oldest message. It reports false when the queue is empty
// or the oldest cell is still being written.
func (q *controlQueue) pop() (controlMsg, bool) {
	head := q.head.Load()
	cell := &q.cells[head&q.mask]

	if cell.seq.Load() != head+1 {
		return controlMsg{}, false
	}

	m := cell.msg
	cell.seq.Store(head + uint64(len(q.cells)))
	q.head.Store(head + 1)

	return m, true
}
