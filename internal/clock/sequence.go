package clock

import "sync/atomic"

// Sequence hands out strictly increasing int64 ids.
//
// Ids are never reused: eviction or compression of the records they name does
// not rewind the sequence. Restoring from a snapshot resumes at the persisted
// position via NewSequenceAt or Reset.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	last atomic.Int64
}

// NewSequence creates a sequence whose first id is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence whose next id is last+1.
func NewSequenceAt(last int64) *Sequence {
	s := &Sequence{}
	s.last.Store(last)
	return s
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}

// Current returns the last id handed out, or 0 if none.
func (s *Sequence) Current() int64 {
	return s.last.Load()
}

// Reset repositions the sequence so the next id is last+1.
func (s *Sequence) Reset(last int64) {
	s.last.Store(last)
}
