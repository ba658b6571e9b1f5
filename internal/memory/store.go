package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/insight/internal/clock"
	"github.com/roach88/insight/internal/metrics"
)

const (
	// DefaultMaxEvents is the store capacity before FIFO eviction starts.
	DefaultMaxEvents = 25000

	// DefaultCompressThreshold is the group size a category must exceed
	// before Compress folds it into a summary event.
	DefaultCompressThreshold = 5

	// SummarySuffix is appended to the category of compression summaries.
	SummarySuffix = "_summary"
)

// ErrInvalidSnapshot is returned by Restore for inconsistent snapshots.
var ErrInvalidSnapshot = errors.New("invalid memory snapshot")

// Store is the bounded event log.
type Store struct {
	mu     sync.RWMutex
	events []Event // sorted by (Timestamp, ID)

	seq               *clock.Sequence
	clock             clock.Clock
	maxEvents         int
	compressThreshold int
	metrics           *metrics.Metrics
	logger            *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEvents sets the capacity. Values below 1 are ignored.
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// WithCompressThreshold sets the group size Compress must exceed.
func WithCompressThreshold(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.compressThreshold = n
		}
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		events:            make([]Event, 0, 256),
		seq:               clock.NewSequence(),
		clock:             clock.System{},
		maxEvents:         DefaultMaxEvents,
		compressThreshold: DefaultCompressThreshold,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores a new event stamped with the next id and the current time,
// then evicts the oldest events if the store is over capacity.
func (s *Store) Append(category, traceID, summary string, payload []byte) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{
		ID:        s.seq.Next(),
		Timestamp: s.clock.Now(),
		Category:  category,
		TraceID:   traceID,
		Summary:   summary,
	}
	if len(payload) > 0 {
		ev.Payload = append([]byte(nil), payload...)
	}

	s.insertLocked(ev)
	s.metrics.EventAppended(len(s.events))

	if evicted := s.evictLocked(); evicted > 0 {
		s.logger.Debug("evicted events over capacity", "count", evicted, "capacity", s.maxEvents)
		s.metrics.EventsRemoved("evicted", evicted, len(s.events))
	}

	return ev
}

// insertLocked places ev at its (timestamp, id) position. Appends in clock
// order hit the fast path at the tail.
func (s *Store) insertLocked(ev Event) {
	i := len(s.events)
	for i > 0 && ev.before(s.events[i-1]) {
		i--
	}
	s.events = append(s.events, Event{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = ev
}

// evictLocked drops the oldest events until the store fits its capacity.
func (s *Store) evictLocked() int {
	over := len(s.events) - s.maxEvents
	if over <= 0 {
		return 0
	}
	// Clear evicted slots so payloads can be collected.
	for i := 0; i < over; i++ {
		s.events[i] = Event{}
	}
	s.events = s.events[over:]
	return over
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Capacity returns the configured maximum size.
func (s *Store) Capacity() int {
	return s.maxEvents
}

// LastID returns the last id handed out.
func (s *Store) LastID() int64 {
	return s.seq.Current()
}

// Get returns the event with the given id.
func (s *Store) Get(id int64) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID == id {
			return s.events[i], true
		}
	}
	return Event{}, false
}

// QueryAll returns every event, most recent first.
func (s *Store) QueryAll() []Event {
	return s.newestFirst(func(Event) bool { return true })
}

// QueryByCategory returns events with the given category, most recent first.
func (s *Store) QueryByCategory(category string) []Event {
	return s.newestFirst(func(e Event) bool { return e.Category == category })
}

// QueryByTrace returns events carrying traceID in chronological order.
func (s *Store) QueryByTrace(traceID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	if traceID == "" {
		return out
	}
	for _, e := range s.events {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out
}

// QueryByTimeRange returns events with start <= timestamp <= end, most recent
// first. An inverted range yields no events.
func (s *Store) QueryByTimeRange(start, end time.Time) []Event {
	if end.Before(start) {
		return []Event{}
	}
	return s.newestFirst(func(e Event) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	})
}

// QueryLastN returns the n most recent events, most recent first.
func (s *Store) QueryLastN(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []Event{}
	}
	if n > len(s.events) {
		n = len(s.events)
	}
	out := make([]Event, 0, n)
	for i := len(s.events) - 1; i >= len(s.events)-n; i-- {
		out = append(out, s.events[i])
	}
	return out
}

// SearchBySummary returns events whose summary contains query, ignoring case,
// most recent first. Both sides are NFC-normalized and case-folded so
// composed and decomposed forms match.
func (s *Store) SearchBySummary(query string) []Event {
	// Casers are stateful; one per call.
	fold := cases.Fold()
	needle := fold.String(norm.NFC.String(query))
	return s.newestFirst(func(e Event) bool {
		return strings.Contains(fold.String(norm.NFC.String(e.Summary)), needle)
	})
}

func (s *Store) newestFirst(keep func(Event) bool) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	for i := len(s.events) - 1; i >= 0; i-- {
		if keep(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out
}

// Summarize returns aggregate statistics over the current contents.
func (s *Store) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		TotalEvents: len(s.events),
		Categories:  make(map[string]int),
	}
	if len(s.events) == 0 {
		return sum
	}

	sum.Oldest = s.events[0].Timestamp
	sum.Newest = s.events[len(s.events)-1].Timestamp
	for _, e := range s.events {
		sum.Categories[e.Category]++
		sum.TotalPayloadBytes += len(e.Payload)
	}
	sum.AveragePayloadBytes = float64(sum.TotalPayloadBytes) / float64(len(s.events))
	sum.MemoryEfficiency = float64(len(s.events)) / float64(s.maxEvents)
	return sum
}

// Compress folds old events into per-category summary events.
//
// Events older than now-olderThan are grouped by category. A group with more
// than the compression threshold members is replaced by one summary event
// tagged "<category>_summary", stamped with the newest member's timestamp and
// a fresh id. Smaller groups, and groups that are already summaries, are kept.
func (s *Store) Compress(olderThan time.Duration) (CompressionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-olderThan)

	groups := make(map[string][]Event)
	var recent []Event
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) && !strings.HasSuffix(e.Category, SummarySuffix) {
			groups[e.Category] = append(groups[e.Category], e)
			continue
		}
		recent = append(recent, e)
	}

	// Deterministic id assignment across categories.
	categories := make([]string, 0, len(groups))
	for c := range groups {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var res CompressionResult
	kept := recent
	for _, c := range categories {
		members := groups[c]
		if len(members) <= s.compressThreshold {
			kept = append(kept, members...)
			res.Kept += len(members)
			continue
		}
		summary, err := s.summaryEvent(c, members)
		if err != nil {
			return CompressionResult{}, err
		}
		kept = append(kept, summary)
		res.Compressed += len(members)
		res.SummariesCreated++
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].before(kept[j]) })
	s.events = kept

	if res.Compressed > 0 {
		s.logger.Info("compressed memory",
			"cutoff", cutoff,
			"compressed", res.Compressed,
			"summaries", res.SummariesCreated,
		)
		s.metrics.EventsRemoved("compressed", res.Compressed, len(s.events))
	}
	return res, nil
}

func (s *Store) summaryEvent(category string, members []Event) (Event, error) {
	rec := compressionRecord{
		Category:  category,
		Count:     len(members),
		First:     members[0].Timestamp,
		Last:      members[len(members)-1].Timestamp,
		SourceIDs: make([]int64, len(members)),
	}
	for i, m := range members {
		rec.SourceIDs[i] = m.ID
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Event{}, fmt.Errorf("compress %s: %w", category, err)
	}
	return Event{
		ID:        s.seq.Next(),
		Timestamp: rec.Last,
		Category:  category + SummarySuffix,
		Summary:   fmt.Sprintf("compressed %d %s events", len(members), category),
		Payload:   payload,
	}, nil
}

// PruneBefore deletes every event with a timestamp before cutoff and returns
// how many were removed. Unlike Compress there is no group threshold.
func (s *Store) PruneBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].Timestamp.Before(cutoff)
	})
	if i == 0 {
		return 0
	}
	s.events = append([]Event(nil), s.events[i:]...)
	s.metrics.EventsRemoved("pruned", i, len(s.events))
	return i
}

// Snapshot returns the store contents for persistence.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Events: append([]Event{}, s.events...),
		LastID: s.seq.Current(),
	}
}

// Restore replaces the store contents with snap. The id sequence resumes
// after snap.LastID so restored ids are never reissued.
func (s *Store) Restore(snap Snapshot) error {
	events := append([]Event{}, snap.Events...)
	seen := make(map[int64]bool, len(events))
	for _, e := range events {
		if e.ID <= 0 || e.ID > snap.LastID {
			return fmt.Errorf("%w: event id %d outside (0, %d]", ErrInvalidSnapshot, e.ID, snap.LastID)
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: duplicate event id %d", ErrInvalidSnapshot, e.ID)
		}
		seen[e.ID] = true
	}
	sort.Slice(events, func(i, j int) bool { return events[i].before(events[j]) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	s.seq.Reset(snap.LastID)
	s.evictLocked()
	return nil
}
