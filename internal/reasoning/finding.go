package reasoning

import (
	"slices"
	"time"
)

// DefaultFindingCapacity bounds the findings log.
const DefaultFindingCapacity = 5000

// Finding is the output of one Analyze call.
type Finding struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	TraceIDs       []string  `json:"trace_ids"`
	Severity       Severity  `json:"severity"`
	Tags           []string  `json:"tags"`
	SourceEventIDs []int64   `json:"source_event_ids"`
	// Detector names the detector that produced the finding; empty for the
	// "System Normal" finding.
	Detector string `json:"detector,omitempty"`
}

// HasTag reports whether tag is among the finding's tags.
func (f Finding) HasTag(tag string) bool {
	return slices.Contains(f.Tags, tag)
}

// FindingsSnapshot is the persisted findings log plus its id counter.
type FindingsSnapshot struct {
	Findings []Finding `json:"findings"`
	LastID   int64     `json:"last_id"`
}

// findingLog is a FIFO-evicted log of findings in production order.
type findingLog struct {
	items    []Finding
	capacity int
}

func newFindingLog(capacity int) *findingLog {
	if capacity <= 0 {
		capacity = DefaultFindingCapacity
	}
	return &findingLog{capacity: capacity}
}

func (l *findingLog) append(f Finding) {
	l.items = append(l.items, f)
	if over := len(l.items) - l.capacity; over > 0 {
		clear(l.items[:over])
		l.items = l.items[over:]
	}
}

// newestFirst returns findings matching keep, most recent first.
func (l *findingLog) newestFirst(keep func(Finding) bool) []Finding {
	out := []Finding{}
	for i := len(l.items) - 1; i >= 0; i-- {
		if keep(l.items[i]) {
			out = append(out, l.items[i])
		}
	}
	return out
}
