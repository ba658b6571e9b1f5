package trace

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/insight/internal/metrics"
)

// record is the state of one trace. links keeps registration order.
type record struct {
	links  []Link
	causal []CausalLink
}

func (r *record) link(entryID string) (Link, bool) {
	for _, l := range r.links {
		if l.EntryID == entryID {
			return l, true
		}
	}
	return Link{}, false
}

// Engine is the trace correlation engine.
//
// Thread-safety: all methods are safe for concurrent use. Mutations and
// Summarize (which fills the cache) take the write lock.
type Engine struct {
	mu        sync.RWMutex
	traces    map[string]*record
	summaries map[string]Summary

	byPrincipal map[string]map[string]struct{}
	byTag       map[string]map[string]struct{}
	bySource    map[string]map[string]struct{}

	policy   Policy
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces the causal scoring policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records link registrations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		policy:   DefaultPolicy(),
		validate: newValidator(),
		logger:   slog.Default(),
	}
	e.reset()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) reset() {
	e.traces = make(map[string]*record)
	e.summaries = make(map[string]Summary)
	e.byPrincipal = make(map[string]map[string]struct{})
	e.byTag = make(map[string]map[string]struct{})
	e.bySource = make(map[string]map[string]struct{})
}

// Policy returns the active causal scoring policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// RegisterLink validates l, appends it to its trace, updates the indices,
// drops the trace's cached summary, and infers causal edges against every
// link already in the trace. It returns the inferred edges.
func (e *Engine) RegisterLink(l Link) ([]CausalLink, error) {
	if err := validateStruct(e.validate, l); err != nil {
		e.reject(err)
		return nil, fmt.Errorf("register link %s/%s: %w", l.TraceID, l.EntryID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.traces[l.TraceID]
	if rec == nil {
		rec = &record{}
		e.traces[l.TraceID] = rec
	} else if _, dup := rec.link(l.EntryID); dup {
		err := &ValidationError{
			Code:    CodeDuplicateEntry,
			Field:   "entry_id",
			Message: fmt.Sprintf("entry %s already linked", l.EntryID),
		}
		e.reject(err)
		return nil, fmt.Errorf("register link %s/%s: %w", l.TraceID, l.EntryID, err)
	}

	l = cloneLink(l)
	inferred := []CausalLink{}
	for _, other := range rec.links {
		if c, ok := e.policy.infer(other, l); ok {
			inferred = append(inferred, c)
		}
	}
	rec.links = append(rec.links, l)
	rec.causal = append(rec.causal, inferred...)
	e.indexLocked(l)
	delete(e.summaries, l.TraceID)

	e.metrics.LinkRegistered()
	for _, c := range inferred {
		e.metrics.CausalLinkRecorded(string(c.Relationship))
	}
	e.logger.Debug("trace link registered",
		"trace_id", l.TraceID,
		"entry_id", l.EntryID,
		"source", l.Source,
		"causal_links", len(inferred),
	)
	return inferred, nil
}

// RegisterLinks registers each link in order. Invalid links are skipped and
// their errors joined; the count of accepted links is returned.
func (e *Engine) RegisterLinks(links []Link) (int, error) {
	var errs []error
	accepted := 0
	for _, l := range links {
		if _, err := e.RegisterLink(l); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted++
	}
	return accepted, errors.Join(errs...)
}

// RegisterCausalLink records a manually asserted edge. An empty relationship
// defaults to related_to. When both entries are linked to the trace, the
// from entry must not be later than the to entry; the time gap is then
// filled in from their timestamps.
func (e *Engine) RegisterCausalLink(c CausalLink) error {
	if c.Relationship == "" {
		c.Relationship = RelRelatedTo
	}
	if err := validateStruct(e.validate, c); err != nil {
		e.reject(err)
		return fmt.Errorf("register causal link %s->%s: %w", c.FromEntryID, c.ToEntryID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.traces[c.TraceID]
	if rec == nil {
		rec = &record{}
		e.traces[c.TraceID] = rec
	}
	from, okFrom := rec.link(c.FromEntryID)
	to, okTo := rec.link(c.ToEntryID)
	if okFrom && okTo {
		if from.Timestamp.After(to.Timestamp) {
			err := &ValidationError{
				Code:    CodeCausalOrder,
				Field:   "from_entry_id",
				Message: fmt.Sprintf("entry %s is later than %s", c.FromEntryID, c.ToEntryID),
			}
			e.reject(err)
			return fmt.Errorf("register causal link %s->%s: %w", c.FromEntryID, c.ToEntryID, err)
		}
		c.TimeGap = to.Timestamp.Sub(from.Timestamp)
	}

	rec.causal = append(rec.causal, c)
	delete(e.summaries, c.TraceID)
	e.metrics.CausalLinkRecorded(string(c.Relationship))
	e.logger.Debug("causal link registered",
		"trace_id", c.TraceID,
		"from", c.FromEntryID,
		"to", c.ToEntryID,
		"relationship", string(c.Relationship),
	)
	return nil
}

func (e *Engine) reject(err error) {
	code := ValidationCodeOf(err)
	e.metrics.LinkRejected(string(code))
	e.logger.Warn("trace link rejected", "code", string(code), "error", err)
}

func (e *Engine) indexLocked(l Link) {
	if l.Principal != "" {
		addIndex(e.byPrincipal, l.Principal, l.TraceID)
	}
	for _, t := range l.Tags {
		addIndex(e.byTag, t, l.TraceID)
	}
	addIndex(e.bySource, l.Source, l.TraceID)
}

func addIndex(idx map[string]map[string]struct{}, key, traceID string) {
	set := idx[key]
	if set == nil {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[traceID] = struct{}{}
}

// RebuildIndices recomputes the principal, tag, and source indices from the
// link log. It is O(links) and meant for maintenance, not the hot path.
func (e *Engine) RebuildIndices() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rebuildIndicesLocked()
}

func (e *Engine) rebuildIndicesLocked() {
	e.byPrincipal = make(map[string]map[string]struct{})
	e.byTag = make(map[string]map[string]struct{})
	e.bySource = make(map[string]map[string]struct{})
	for _, rec := range e.traces {
		for _, l := range rec.links {
			e.indexLocked(l)
		}
	}
}

// Trace returns the links of traceID in chronological order and its causal
// edges.
func (e *Engine) Trace(traceID string) (Trace, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.traces[traceID]
	if !ok {
		return Trace{}, false
	}
	return Trace{
		ID:          traceID,
		Links:       chronological(rec.links),
		CausalLinks: append([]CausalLink{}, rec.causal...),
	}, true
}

// Summarize returns the cached summary of traceID, computing and caching it
// when absent. A trace with no links yields a summary of severity unknown,
// which is not cached.
func (e *Engine) Summarize(traceID string) Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summaryLocked(traceID)
}

func (e *Engine) summaryLocked(traceID string) Summary {
	if s, ok := e.summaries[traceID]; ok {
		return cloneSummary(s)
	}
	rec := e.traces[traceID]
	if rec == nil || len(rec.links) == 0 {
		return emptySummary(traceID)
	}
	s := summarize(traceID, rec)
	e.summaries[traceID] = s
	return cloneSummary(s)
}

func emptySummary(traceID string) Summary {
	return Summary{
		TraceID:          traceID,
		Modules:          []string{},
		Principals:       []string{},
		Tags:             []string{},
		Severity:         SeverityUnknown,
		CausalConfidence: DefaultConfidence,
	}
}

func summarize(traceID string, rec *record) Summary {
	s := Summary{
		TraceID:         traceID,
		Start:           rec.links[0].Timestamp,
		End:             rec.links[0].Timestamp,
		LinkCount:       len(rec.links),
		CausalLinkCount: len(rec.causal),
	}

	modules := make(map[string]int)
	principals := make(map[string]bool)
	tags := make(map[string]bool)
	for _, l := range rec.links {
		if l.Timestamp.Before(s.Start) {
			s.Start = l.Timestamp
		}
		if l.Timestamp.After(s.End) {
			s.End = l.Timestamp
		}
		modules[l.Source]++
		if l.Principal != "" {
			principals[l.Principal] = true
		}
		for _, t := range l.Tags {
			tags[t] = true
		}
	}
	s.Duration = s.End.Sub(s.Start)
	s.Modules = sortedKeys(modules)
	s.Principals = sortedKeys(principals)
	s.Tags = sortedKeys(tags)
	s.DominantModule = mostFrequent(modules)
	s.Severity = severityFromTags(s.Tags)

	s.CausalConfidence = DefaultConfidence
	if len(rec.causal) > 0 {
		sum := 0.0
		for _, c := range rec.causal {
			sum += c.Confidence
		}
		s.CausalConfidence = sum / float64(len(rec.causal))
	}
	return s
}

var (
	criticalTagMarkers = []string{"critical", "failure", "error"}
	warningTagMarkers  = []string{"warning", "suspicious", "anomaly"}
)

// severityFromTags derives a trace severity from tag keywords.
func severityFromTags(tags []string) Severity {
	if anyTagContains(tags, criticalTagMarkers) {
		return SeverityCritical
	}
	if anyTagContains(tags, warningTagMarkers) {
		return SeverityWarning
	}
	return SeverityInfo
}

func anyTagContains(tags, markers []string) bool {
	for _, t := range tags {
		t = strings.ToLower(t)
		for _, m := range markers {
			if strings.Contains(t, m) {
				return true
			}
		}
	}
	return false
}

// mostFrequent returns the key with the highest count, ties broken by name.
func mostFrequent(counts map[string]int) string {
	best, bestN := "", 0
	for _, k := range sortedKeys(counts) {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

func chronological(links []Link) []Link {
	out := make([]Link, len(links))
	for i, l := range links {
		out[i] = cloneLink(l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func cloneLink(l Link) Link {
	l.Tags = slices.Clone(l.Tags)
	if l.Tags == nil {
		l.Tags = []string{}
	}
	l.Metadata = maps.Clone(l.Metadata)
	return l
}

func cloneSummary(s Summary) Summary {
	s.Modules = slices.Clone(s.Modules)
	s.Principals = slices.Clone(s.Principals)
	s.Tags = slices.Clone(s.Tags)
	return s
}

// sortedKeys returns the keys of m in order, never nil.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
