package reasoning

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/insight/internal/clock"
	"github.com/roach88/insight/internal/memory"
	"github.com/roach88/insight/internal/metrics"
)

// EventSource is the read side of the event memory the engine analyses.
// *memory.Store implements it. Every call returns copies.
type EventSource interface {
	QueryAll() []memory.Event
	QueryByTimeRange(start, end time.Time) []memory.Event
	QueryLastN(n int) []memory.Event
}

// Engine runs batch detectors over an EventSource and, when enabled,
// streaming analysis over a live queue.
//
// Thread-safety model:
//   - Analyze, SetBaseline, RestoreFindings: serialized by mu
//   - ProcessEvent, RunSlidingWindowAnalysis, alert transitions: serialized by smu
//   - Queries take read locks and return copies
type Engine struct {
	mu         sync.RWMutex
	source     EventSource
	clock      clock.Clock
	policy     Policy
	logger     *slog.Logger
	metrics    *metrics.Metrics
	findings   *findingLog
	findingSeq *clock.Sequence
	baselines  map[string]Baseline
	trend      *trendTracker

	smu      sync.RWMutex
	stream   *streamState
	sinks    []AlertSink
	alertIDs IDGenerator
	queueCap int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Default: clock.System.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPolicy replaces the detector thresholds.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records findings and alerts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFindingCapacity bounds the findings log. Values below 1 are ignored.
func WithFindingCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.findings = newFindingLog(n)
		}
	}
}

// WithAlertSinks adds sinks that receive every raised alert.
func WithAlertSinks(sinks ...AlertSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithAlertIDGenerator sets the alert id source. Default: UUIDv7Generator.
func WithAlertIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.alertIDs = g }
}

// WithStreamQueueCapacity bounds the live event queue. Values below 1 are
// ignored.
func WithStreamQueueCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueCap = n
		}
	}
}

// New creates an Engine reading from source.
func New(source EventSource, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		clock:      clock.System{},
		policy:     DefaultPolicy(),
		logger:     slog.Default(),
		findings:   newFindingLog(DefaultFindingCapacity),
		findingSeq: clock.NewSequence(),
		baselines:  make(map[string]Baseline),
		trend:      newTrendTracker(),
		alertIDs:   UUIDv7Generator{},
		queueCap:   DefaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stream = newStreamState(e.queueCap)
	return e
}

// Policy returns the active detector thresholds.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Analyze runs the detector battery over the selected window and records the
// winning finding. With no detector firing it records a "System Normal" info
// finding that cites no events.
func (e *Engine) Analyze(ctx context.Context, opts AnalyzeOptions) Finding {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	w := &window{events: e.resolveWindow(opts, now), now: now}

	var cands []candidate
	for _, k := range DetectorOrder {
		if c, ok := e.detect(k, w); ok {
			e.logger.DebugContext(ctx, "detector fired",
				"detector", k.String(),
				"severity", c.severity.String(),
			)
			cands = append(cands, c)
		}
	}

	f := Finding{
		ID:        e.findingSeq.Next(),
		Timestamp: now,
	}
	if best, ok := selectCandidate(cands); ok {
		f.Title = best.title
		f.Description = best.description
		f.Severity = best.severity
		f.TraceIDs = best.traceIDs
		f.Tags = best.tags
		f.SourceEventIDs = best.sources
		f.Detector = best.detector.String()
	} else {
		f.Title = "System Normal"
		f.Description = "no detector fired over the analysed window"
		f.Severity = SeverityInfo
		f.TraceIDs = []string{}
		f.Tags = []string{"normal"}
		f.SourceEventIDs = []int64{}
	}

	e.findings.append(f)
	e.metrics.FindingProduced(f.Severity.String())
	e.logger.InfoContext(ctx, "analysis complete",
		"finding_id", f.ID,
		"title", f.Title,
		"severity", f.Severity.String(),
		"window", len(w.events),
		"candidates", len(cands),
	)
	return cloneFinding(f)
}

// resolveWindow picks the events to analyse, most recent first.
func (e *Engine) resolveWindow(opts AnalyzeOptions, now time.Time) []memory.Event {
	switch {
	case opts.Since != nil:
		events := e.source.QueryByTimeRange(*opts.Since, now)
		if opts.Max > 0 && len(events) > opts.Max {
			events = events[:opts.Max]
		}
		return events
	case opts.Max > 0:
		return e.source.QueryLastN(opts.Max)
	default:
		return e.source.QueryAll()
	}
}

// AllFindings returns every retained finding, most recent first.
func (e *Engine) AllFindings() []Finding {
	return e.queryFindings(func(Finding) bool { return true })
}

// FindingsByTag returns findings carrying tag, most recent first.
func (e *Engine) FindingsByTag(tag string) []Finding {
	return e.queryFindings(func(f Finding) bool { return f.HasTag(tag) })
}

// FindingsBySeverity returns findings of severity s, most recent first.
func (e *Engine) FindingsBySeverity(s Severity) []Finding {
	return e.queryFindings(func(f Finding) bool { return f.Severity == s })
}

// RecentFindings returns at most n findings, most recent first.
func (e *Engine) RecentFindings(n int) []Finding {
	all := e.AllFindings()
	if n < 0 {
		n = 0
	}
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (e *Engine) queryFindings(keep func(Finding) bool) []Finding {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := e.findings.newestFirst(keep)
	for i := range out {
		out[i] = cloneFinding(out[i])
	}
	return out
}

// FindingsSnapshot returns the findings log in production order with the id
// counter.
func (e *Engine) FindingsSnapshot() FindingsSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Finding, len(e.findings.items))
	for i, f := range e.findings.items {
		out[i] = cloneFinding(f)
	}
	return FindingsSnapshot{Findings: out, LastID: e.findingSeq.Current()}
}

// RestoreFindings replaces the findings log. Findings must be in production
// order with ids no greater than LastID.
func (e *Engine) RestoreFindings(snap FindingsSnapshot) error {
	var prev int64
	for _, f := range snap.Findings {
		if f.ID <= prev || f.ID > snap.LastID {
			return ErrInvalidSnapshot
		}
		prev = f.ID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	log := newFindingLog(e.findings.capacity)
	for _, f := range snap.Findings {
		log.append(cloneFinding(f))
	}
	e.findings = log
	e.findingSeq.Reset(snap.LastID)
	return nil
}

func cloneFinding(f Finding) Finding {
	f.TraceIDs = slices.Clone(f.TraceIDs)
	f.Tags = slices.Clone(f.Tags)
	f.SourceEventIDs = slices.Clone(f.SourceEventIDs)
	if f.TraceIDs == nil {
		f.TraceIDs = []string{}
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	if f.SourceEventIDs == nil {
		f.SourceEventIDs = []int64{}
	}
	return f
}
