package reasoning

import (
	"sort"
	"strings"
	"time"

	"github.com/roach88/insight/internal/memory"
)

// Category tags the detectors key on.
const (
	CategoryFinancial   = "financial"
	CategoryEscrow      = "escrow"
	CategoryGovernance  = "governance"
	CategoryPerformance = "performance"
	CategoryLatency     = "latency"
	CategoryTimeout     = "timeout"
)

var (
	errorMarkers         = []string{"error", "fail"}
	escrowFailureMarkers = []string{"error", "fail", "cancel"}
	latencyMarkers       = []string{"latency", "timeout"}
	latencyCategories    = []string{CategoryPerformance, CategoryLatency, CategoryTimeout}
)

// AnalyzeOptions selects the event window for Analyze.
//
//   - Since and Max set: events at or after Since, most recent Max of them.
//   - Since only: events at or after Since.
//   - Max only: the most recent Max events.
//   - Neither: every stored event.
type AnalyzeOptions struct {
	Since *time.Time
	Max   int
}

// window is the event set one analysis pass runs over.
type window struct {
	events []memory.Event // most recent first
	now    time.Time
}

// within returns the window events with now-d <= timestamp <= now.
func (w *window) within(d time.Duration, keep func(memory.Event) bool) []memory.Event {
	from := w.now.Add(-d)
	var out []memory.Event
	for _, e := range w.events {
		if e.Timestamp.Before(from) || e.Timestamp.After(w.now) {
			continue
		}
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (w *window) filter(keep func(memory.Event) bool) []memory.Event {
	var out []memory.Event
	for _, e := range w.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// byTrace groups traced events by trace id, each group chronological.
func (w *window) byTrace(keep func(memory.Event) bool) map[string][]memory.Event {
	groups := make(map[string][]memory.Event)
	for _, e := range w.events {
		if e.HasTrace() && keep(e) {
			groups[e.TraceID] = append(groups[e.TraceID], e)
		}
	}
	for _, g := range groups {
		chronological(g)
	}
	return groups
}

func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func inCategory(e memory.Event, categories ...string) bool {
	for _, c := range categories {
		if strings.EqualFold(e.Category, c) {
			return true
		}
	}
	return false
}

// isErrorMarked reports whether an event reads as an error or failure.
func isErrorMarked(e memory.Event) bool {
	return containsAny(e.Summary, errorMarkers) || containsAny(e.Category, errorMarkers)
}

func isFinancial(e memory.Event) bool { return inCategory(e, CategoryFinancial) }

func isLatency(e memory.Event) bool {
	return inCategory(e, latencyCategories...) || containsAny(e.Summary, latencyMarkers)
}

func chronological(events []memory.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// sourceIDs returns the ids of events in ascending order.
func sourceIDs(events []memory.Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// traceIDs returns the distinct non-empty trace ids of events, sorted.
func traceIDs(events []memory.Event) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, e := range events {
		if e.HasTrace() && !seen[e.TraceID] {
			seen[e.TraceID] = true
			out = append(out, e.TraceID)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
