package trace

import (
	"fmt"
	"sort"
	"time"
)

// TracesByPrincipal returns the ids of traces with a link by principal.
func (e *Engine) TracesByPrincipal(principal string) []string {
	return e.lookup(func() map[string]struct{} { return e.byPrincipal[principal] })
}

// TracesByTag returns the ids of traces with a link carrying tag.
func (e *Engine) TracesByTag(tag string) []string {
	return e.lookup(func() map[string]struct{} { return e.byTag[tag] })
}

// TracesBySource returns the ids of traces with a link from source.
func (e *Engine) TracesBySource(source string) []string {
	return e.lookup(func() map[string]struct{} { return e.bySource[source] })
}

func (e *Engine) lookup(set func() map[string]struct{}) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedKeys(set())
}

// TracesByTimeRange returns the ids of traces with at least one link in
// [start, end].
func (e *Engine) TracesByTimeRange(start, end time.Time) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []string{}
	for _, id := range sortedKeys(e.traces) {
		if linkInRange(e.traces[id].links, &start, &end) {
			out = append(out, id)
		}
	}
	return out
}

func linkInRange(links []Link, since, until *time.Time) bool {
	for _, l := range links {
		if since != nil && l.Timestamp.Before(*since) {
			continue
		}
		if until != nil && l.Timestamp.After(*until) {
			continue
		}
		return true
	}
	return false
}

// SearchTraces returns summaries of traces matching every set predicate of
// q, ordered by start time then id.
func (e *Engine) SearchTraces(q Query) []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := []Summary{}
	for _, id := range sortedKeys(e.traces) {
		rec := e.traces[id]
		if len(rec.links) == 0 || !matches(rec, q) {
			continue
		}
		s := e.summaryLocked(id)
		if q.MinSeverity != "" && s.Severity.rank() < q.MinSeverity.rank() {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func matches(rec *record, q Query) bool {
	var principal, source, tag bool
	for _, l := range rec.links {
		principal = principal || l.Principal == q.Principal
		source = source || l.Source == q.Source
		for _, t := range l.Tags {
			for _, want := range q.Tags {
				tag = tag || t == want
			}
		}
	}
	if q.Principal != "" && !principal {
		return false
	}
	if q.Source != "" && !source {
		return false
	}
	if len(q.Tags) > 0 && !tag {
		return false
	}
	if (q.Since != nil || q.Until != nil) && !linkInRange(rec.links, q.Since, q.Until) {
		return false
	}
	return true
}

// Timeline returns the links of traceID in chronological order with their
// offset from the first link and the causal edges pointing at each.
func (e *Engine) Timeline(traceID string) []TimelineEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := []TimelineEntry{}
	rec := e.traces[traceID]
	if rec == nil || len(rec.links) == 0 {
		return out
	}
	links := chronological(rec.links)
	start := links[0].Timestamp
	for _, l := range links {
		entry := TimelineEntry{Offset: l.Timestamp.Sub(start), Link: l}
		for _, c := range rec.causal {
			if c.ToEntryID == l.EntryID {
				entry.CausedBy = append(entry.CausedBy, c)
			}
		}
		out = append(out, entry)
	}
	return out
}

var errorTagMarkers = []string{"error", "failure", "critical", "fail"}

// Analytics aggregates every trace.
func (e *Engine) Analytics() Analytics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a := Analytics{
		TagFrequency:      make(map[string]int),
		ErrorTraces:       []string{},
		PrincipalActivity: make(map[string]int),
	}
	modules := make(map[string]int)
	for _, id := range sortedKeys(e.traces) {
		rec := e.traces[id]
		if len(rec.links) == 0 {
			continue
		}
		a.TraceCount++
		a.LinkCount += len(rec.links)
		a.CausalLinkCount += len(rec.causal)
		errorTrace := false
		for _, l := range rec.links {
			modules[l.Source]++
			if l.Principal != "" {
				a.PrincipalActivity[l.Principal]++
			}
			for _, t := range l.Tags {
				a.TagFrequency[t]++
			}
			errorTrace = errorTrace || anyTagContains(l.Tags, errorTagMarkers)
		}
		if errorTrace {
			a.ErrorTraces = append(a.ErrorTraces, id)
		}
	}
	if a.TraceCount > 0 {
		a.AverageTraceLength = float64(a.LinkCount) / float64(a.TraceCount)
	}
	a.MostActiveModule = mostFrequent(modules)
	return a
}

// ClearAll drops every trace, edge, summary, and index entry.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.traces)
	e.reset()
	e.logger.Info("traces cleared", "traces", n)
}

// PruneBefore removes links older than cutoff together with any causal edge
// touching them, drops traces left with neither links nor edges, and
// rebuilds the indices. Traces with no pruned links are untouched. It returns
// the number of links removed.
func (e *Engine) PruneBefore(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, rec := range e.traces {
		gone := make(map[string]bool)
		kept := rec.links[:0]
		for _, l := range rec.links {
			if l.Timestamp.Before(cutoff) {
				gone[l.EntryID] = true
				continue
			}
			kept = append(kept, l)
		}
		if len(gone) == 0 {
			continue
		}
		clear(rec.links[len(kept):])
		rec.links = kept
		removed += len(gone)

		causal := rec.causal[:0]
		for _, c := range rec.causal {
			if !gone[c.FromEntryID] && !gone[c.ToEntryID] {
				causal = append(causal, c)
			}
		}
		rec.causal = causal
		delete(e.summaries, id)
		if len(rec.links) == 0 && len(rec.causal) == 0 {
			delete(e.traces, id)
		}
	}
	e.rebuildIndicesLocked()
	e.logger.Info("traces pruned", "cutoff", cutoff, "links_removed", removed)
	return removed
}

// Snapshot returns the link log, causal-link log, and summary cache. Traces
// are ordered by id; links keep registration order.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{Links: []Link{}, CausalLinks: []CausalLink{}, Summaries: []Summary{}}
	for _, id := range sortedKeys(e.traces) {
		rec := e.traces[id]
		for _, l := range rec.links {
			snap.Links = append(snap.Links, cloneLink(l))
		}
		snap.CausalLinks = append(snap.CausalLinks, rec.causal...)
	}
	for _, id := range sortedKeys(e.summaries) {
		snap.Summaries = append(snap.Summaries, cloneSummary(e.summaries[id]))
	}
	return snap
}

// Restore replaces all state with snap. Links are validated but no causal
// inference runs; edges come from the snapshot as recorded. Cached summaries
// for traces that have no links are discarded.
func (e *Engine) Restore(snap Snapshot) error {
	traces := make(map[string]*record)
	seen := make(map[string]bool)
	for _, l := range snap.Links {
		if err := validateStruct(e.validate, l); err != nil {
			return fmt.Errorf("restore link %s/%s: %w", l.TraceID, l.EntryID, err)
		}
		if seen[l.key()] {
			return fmt.Errorf("restore link %s/%s: %w", l.TraceID, l.EntryID,
				&ValidationError{Code: CodeDuplicateEntry, Field: "entry_id", Message: "entry linked twice"})
		}
		seen[l.key()] = true
		rec := traces[l.TraceID]
		if rec == nil {
			rec = &record{}
			traces[l.TraceID] = rec
		}
		rec.links = append(rec.links, cloneLink(l))
	}
	for _, c := range snap.CausalLinks {
		if err := validateStruct(e.validate, c); err != nil {
			return fmt.Errorf("restore causal link %s->%s: %w", c.FromEntryID, c.ToEntryID, err)
		}
		rec := traces[c.TraceID]
		if rec == nil {
			rec = &record{}
			traces[c.TraceID] = rec
		}
		rec.causal = append(rec.causal, c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
	e.traces = traces
	for _, s := range snap.Summaries {
		if rec := traces[s.TraceID]; rec != nil && len(rec.links) > 0 {
			e.summaries[s.TraceID] = cloneSummary(s)
		}
	}
	e.rebuildIndicesLocked()
	return nil
}
