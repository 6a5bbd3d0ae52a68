package metrics

import "sync"

// Ring is a fixed-capacity record history. Once full, every Add evicts
// exactly the oldest record.
type Ring struct {
	mu      sync.Mutex
	records []Record
	maxSize int
}

// NewRing creates a ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		records: make([]Record, 0, capacity),
		maxSize: capacity,
	}
}

// Add records a new entry
func (r *Ring) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) >= r.maxSize {
		// Remove oldest record in place so the backing array never grows
		copy(r.records, r.records[1:])
		r.records[len(r.records)-1] = rec
		return
	}
	r.records = append(r.records, rec)
}

// Snapshot returns a copy of the history in insertion order.
func (r *Ring) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Ring) Cap() int { return r.maxSize }
