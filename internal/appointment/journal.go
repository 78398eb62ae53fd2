package appointment

import "sync"

// Journal is the ordered queue of committed changes waiting to be persisted.
// The scheduler appends while still holding the doctor's lock, so two changes
// to the same doctor's calendar are always queued in the order they happened.
type Journal struct {
	mu      sync.Mutex
	seq     uint64
	pending []Change
	ready   chan struct{}
}

func NewJournal() *Journal {
	return &Journal{ready: make(chan struct{}, 1)}
}

func (j *Journal) append(c Change) {
	j.mu.Lock()
	j.seq++
	c.Seq = j.seq
	j.pending = append(j.pending, c)
	j.mu.Unlock()

	select {
	case j.ready <- struct{}{}:
	default:
	}
}

// Ready fires at least once after changes have been appended.
func (j *Journal) Ready() <-chan struct{} {
	return j.ready
}

// Drain removes and returns every pending change in sequence order.
func (j *Journal) Drain() []Change {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.pending
	j.pending = nil
	return out
}

// requeue puts changes that could not be persisted back in front of anything
// appended since they were drained.
func (j *Journal) requeue(changes []Change) {
	if len(changes) == 0 {
		return
	}
	j.mu.Lock()
	j.pending = append(append(make([]Change, 0, len(changes)+len(j.pending)), changes...), j.pending...)
	j.mu.Unlock()
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}
