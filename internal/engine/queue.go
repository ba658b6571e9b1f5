package engine

import "sync"

// ingestQueue is a thread-safe FIFO of pending ingest requests.
//
// It is unbounded: producers never block on Submit. Back-pressure is applied
// downstream by the memory store's eviction, not here.
//
// The signal channel lets Run wait on the queue and ctx.Done together.
type ingestQueue struct {
	mu      sync.Mutex
	pending []Ingest
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newIngestQueue() *ingestQueue {
	return &ingestQueue{
		pending: make([]Ingest, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds in to the back of the queue. Safe from any goroutine.
// Returns false if the queue is closed.
func (q *ingestQueue) Enqueue(in Ingest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, in)

	// Non-blocking; the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front request without blocking.
// Returns (Ingest{}, false) if the queue is empty.
func (q *ingestQueue) TryDequeue() (Ingest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Ingest{}, false
	}

	in := q.pending[0]
	// Drop the slot's payload and tag references so the backing array does
	// not pin them under steady load.
	q.pending[0] = Ingest{}
	if len(q.pending) == 1 {
		q.pending = q.pending[:0]
	} else {
		q.pending = q.pending[1:]
	}
	return in, true
}

// Wait returns a channel that fires when requests may be available. It is
// closed by Close.
func (q *ingestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending requests.
func (q *ingestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops further enqueues and wakes waiters. Pending requests can still
// be dequeued.
func (q *ingestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *ingestQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
