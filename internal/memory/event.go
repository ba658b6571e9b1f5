package memory

import "time"

// Event is one entry in the memory store.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	TraceID   string    `json:"trace_id,omitempty"`
	Summary   string    `json:"summary"`
	Payload   []byte    `json:"payload,omitempty"`
}

// HasTrace reports whether the event carries a trace id.
func (e Event) HasTrace() bool {
	return e.TraceID != ""
}

// before orders events by timestamp, then id.
func (e Event) before(o Event) bool {
	if e.Timestamp.Equal(o.Timestamp) {
		return e.ID < o.ID
	}
	return e.Timestamp.Before(o.Timestamp)
}

// Summary aggregates the current contents of a store.
type Summary struct {
	TotalEvents         int            `json:"total_events"`
	Categories          map[string]int `json:"categories"`
	Oldest              time.Time      `json:"oldest,omitempty"`
	Newest              time.Time      `json:"newest,omitempty"`
	TotalPayloadBytes   int            `json:"total_payload_bytes"`
	AveragePayloadBytes float64        `json:"average_payload_bytes"`
	// MemoryEfficiency is current size divided by capacity.
	MemoryEfficiency float64 `json:"memory_efficiency"`
}

// CompressionResult reports what a Compress call did.
type CompressionResult struct {
	// Compressed is the number of original events removed.
	Compressed int `json:"compressed"`
	// SummariesCreated is the number of synthetic summary events added.
	SummariesCreated int `json:"summaries_created"`
	// Kept is the number of old events left verbatim because their group
	// was at or below the compression threshold.
	Kept int `json:"kept"`
}

// Snapshot is the persisted form of a store: the full event list in
// chronological order and the last id handed out.
type Snapshot struct {
	Events []Event `json:"events"`
	LastID int64   `json:"last_id"`
}

// compressionRecord is the payload of a synthetic summary event.
type compressionRecord struct {
	Category  string    `json:"category"`
	Count     int       `json:"count"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
	SourceIDs []int64   `json:"source_ids"`
}
