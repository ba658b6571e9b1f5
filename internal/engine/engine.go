package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/insight/internal/clock"
	"github.com/roach88/insight/internal/memory"
	"github.com/roach88/insight/internal/metrics"
	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

// Source modules the host links its own entries under.
const (
	SourceMemory    = "memory"
	SourceReasoning = "reasoning"
)

// Ingest is one event submitted by a producer module.
type Ingest struct {
	Category string `json:"category" yaml:"category"`
	TraceID  string `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	Summary  string `json:"summary" yaml:"summary"`
	Payload  []byte `json:"payload,omitempty" yaml:"payload,omitempty"`

	// Source, Principal, and Tags describe the event for trace correlation.
	// A memory link is registered only when both TraceID and Source are set.
	Source    string   `json:"source,omitempty" yaml:"source,omitempty"`
	Principal string   `json:"principal,omitempty" yaml:"principal,omitempty"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// IngestResult is what one ingest produced across the three engines.
type IngestResult struct {
	Event       memory.Event       `json:"event"`
	Alerts      []reasoning.Alert  `json:"alerts"`
	CausalLinks []trace.CausalLink `json:"causal_links"`
}

// Snapshot is the complete persisted state of a host.
type Snapshot struct {
	Memory   memory.Snapshot            `json:"memory"`
	Findings reasoning.FindingsSnapshot `json:"findings"`
	Traces   trace.Snapshot             `json:"traces"`
}

// MemoryEntryID is the trace entry id of a memory event.
func MemoryEntryID(id int64) string {
	return "mem-" + strconv.FormatInt(id, 10)
}

// FindingEntryID is the trace entry id of a finding.
func FindingEntryID(id int64) string {
	return "finding-" + strconv.FormatInt(id, 10)
}

// Engine owns one memory store, one reasoning engine, and one trace engine
// and serializes every mutation across them.
//
// Producers may call Submit from any goroutine; Run is the single writer
// that drains the queue. Ingest and the other mutating methods may also be
// called directly and are serialized with Run.
type Engine struct {
	mu sync.Mutex // serializes writers across the three engines

	memory    *memory.Store
	reasoning *reasoning.Engine
	traces    *trace.Engine

	queue  *ingestQueue
	logger *slog.Logger
}

type settings struct {
	clock             clock.Clock
	logger            *slog.Logger
	metrics           *metrics.Metrics
	maxEvents         int
	compressThreshold int
	maxFindings       int
	streamQueue       int
	policy            *reasoning.Policy
	tracePolicy       *trace.Policy
	sinks             []reasoning.AlertSink
	alertIDs          reasoning.IDGenerator
}

// Option configures an Engine.
type Option func(*settings)

// WithClock sets the time source shared by all three engines.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger shared by all three engines.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics attaches Prometheus instrumentation to all three engines.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithMaxEvents sets the memory store capacity.
func WithMaxEvents(n int) Option {
	return func(s *settings) { s.maxEvents = n }
}

// WithCompressThreshold sets the memory store compression threshold.
func WithCompressThreshold(n int) Option {
	return func(s *settings) { s.compressThreshold = n }
}

// WithMaxFindings sets the findings log capacity.
func WithMaxFindings(n int) Option {
	return func(s *settings) { s.maxFindings = n }
}

// WithStreamQueueCapacity sets the streaming analysis queue capacity.
func WithStreamQueueCapacity(n int) Option {
	return func(s *settings) { s.streamQueue = n }
}

// WithPolicy sets the detector thresholds.
func WithPolicy(p reasoning.Policy) Option {
	return func(s *settings) { s.policy = &p }
}

// WithTracePolicy sets the causal scoring policy.
func WithTracePolicy(p trace.Policy) Option {
	return func(s *settings) { s.tracePolicy = &p }
}

// WithAlertSinks registers sinks that receive every raised alert.
func WithAlertSinks(sinks ...reasoning.AlertSink) Option {
	return func(s *settings) { s.sinks = append(s.sinks, sinks...) }
}

// WithAlertIDGenerator sets the alert id source.
func WithAlertIDGenerator(g reasoning.IDGenerator) Option {
	return func(s *settings) { s.alertIDs = g }
}

// New creates a host with empty engines.
func New(opts ...Option) *Engine {
	s := settings{
		clock:             clock.System{},
		logger:            slog.Default(),
		compressThreshold: -1,
	}
	for _, opt := range opts {
		opt(&s)
	}

	mem := memory.New(
		memory.WithClock(s.clock),
		memory.WithLogger(s.logger),
		memory.WithMetrics(s.metrics),
		memory.WithMaxEvents(s.maxEvents),
		memory.WithCompressThreshold(s.compressThreshold),
	)

	ropts := []reasoning.Option{
		reasoning.WithClock(s.clock),
		reasoning.WithLogger(s.logger),
		reasoning.WithMetrics(s.metrics),
		reasoning.WithFindingCapacity(s.maxFindings),
		reasoning.WithStreamQueueCapacity(s.streamQueue),
		reasoning.WithAlertSinks(s.sinks...),
	}
	if s.policy != nil {
		ropts = append(ropts, reasoning.WithPolicy(*s.policy))
	}
	if s.alertIDs != nil {
		ropts = append(ropts, reasoning.WithAlertIDGenerator(s.alertIDs))
	}

	topts := []trace.Option{
		trace.WithLogger(s.logger),
		trace.WithMetrics(s.metrics),
	}
	if s.tracePolicy != nil {
		topts = append(topts, trace.WithPolicy(*s.tracePolicy))
	}

	return &Engine{
		memory:    mem,
		reasoning: reasoning.New(mem, ropts...),
		traces:    trace.New(topts...),
		queue:     newIngestQueue(),
		logger:    s.logger,
	}
}

// Memory returns the event memory store. Writes through it bypass the
// host's serialization.
func (e *Engine) Memory() *memory.Store { return e.memory }

// Reasoning returns the reasoning engine.
func (e *Engine) Reasoning() *reasoning.Engine { return e.reasoning }

// Traces returns the trace correlation engine.
func (e *Engine) Traces() *trace.Engine { return e.traces }

// Submit queues in for Run. Safe from any goroutine. Returns false once the
// host is stopped.
func (e *Engine) Submit(in Ingest) bool {
	return e.queue.Enqueue(in)
}

// Pending returns the number of submitted requests not yet ingested.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Run ingests submitted requests until ctx is cancelled or Stop is called
// and the queue is drained. Ingest errors are logged and processing
// continues.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		in, ok := e.queue.TryDequeue()
		if ok {
			if _, err := e.Ingest(ctx, in); err != nil {
				logIngestError(e.logger, in, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// Stop closes the signal channel, so a wake with an empty closed
			// queue means shutdown. A stale signal just loops.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the remaining requests are
// ingested.
func (e *Engine) Stop() {
	e.queue.Close()
}

func logIngestError(logger *slog.Logger, in Ingest, err error) {
	logger.Error("ingest failed",
		"error", err,
		"category", in.Category,
		"trace_id", in.TraceID,
		"source", in.Source,
	)
}

// Ingest stores in as a memory event, feeds it to streaming analysis, and,
// when it names a trace and a source module, links it to that trace.
//
// A rejected trace link does not undo the first two steps: the result is
// returned together with an IngestError of code TRACE_LINK.
func (e *Engine) Ingest(ctx context.Context, in Ingest) (IngestResult, error) {
	if in.Category == "" {
		return IngestResult{}, &IngestError{
			Code:    ErrCodeEmptyCategory,
			Message: "event category must not be empty",
			TraceID: in.TraceID,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ev := e.memory.Append(in.Category, in.TraceID, in.Summary, in.Payload)
	res := IngestResult{
		Event:       ev,
		Alerts:      e.reasoning.ProcessEvent(ctx, ev),
		CausalLinks: []trace.CausalLink{},
	}

	if ev.HasTrace() && in.Source != "" {
		causal, err := e.traces.RegisterLink(trace.Link{
			TraceID:   ev.TraceID,
			EntryID:   MemoryEntryID(ev.ID),
			EntryType: trace.EntryMemory,
			Timestamp: ev.Timestamp,
			Source:    in.Source,
			Principal: in.Principal,
			Tags:      in.Tags,
			Metadata:  map[string]string{"category": ev.Category},
		})
		if err != nil {
			return res, &IngestError{
				Code:    ErrCodeTraceLink,
				Message: "trace link rejected",
				EventID: ev.ID,
				TraceID: ev.TraceID,
				Err:     err,
			}
		}
		res.CausalLinks = causal
	}

	e.logger.DebugContext(ctx, "event ingested",
		"event_id", ev.ID,
		"category", ev.Category,
		"trace_id", ev.TraceID,
		"alerts", len(res.Alerts),
	)
	return res, nil
}

// Analyze runs the batch detectors and links the finding to every trace it
// cites, so trace summaries include the reasoning that concerned them.
func (e *Engine) Analyze(ctx context.Context, opts reasoning.AnalyzeOptions) reasoning.Finding {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.reasoning.Analyze(ctx, opts)
	for _, traceID := range f.TraceIDs {
		_, err := e.traces.RegisterLink(trace.Link{
			TraceID:   traceID,
			EntryID:   FindingEntryID(f.ID),
			EntryType: trace.EntryReasoning,
			Timestamp: f.Timestamp,
			Source:    SourceReasoning,
			Tags:      f.Tags,
			Metadata: map[string]string{
				"title":    f.Title,
				"severity": f.Severity.String(),
				"detector": f.Detector,
			},
		})
		if err != nil {
			e.logger.WarnContext(ctx, "finding trace link rejected",
				"finding_id", f.ID,
				"trace_id", traceID,
				"error", err,
			)
		}
	}
	return f
}

// RunSlidingWindowAnalysis evaluates the streaming sliding windows now.
func (e *Engine) RunSlidingWindowAnalysis(ctx context.Context) []reasoning.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reasoning.RunSlidingWindowAnalysis(ctx)
}

// RegisterLink links an entry from another subsystem to a trace.
func (e *Engine) RegisterLink(l trace.Link) ([]trace.CausalLink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.traces.RegisterLink(l)
}

// RegisterCausalLink records a manually asserted causal edge.
func (e *Engine) RegisterCausalLink(c trace.CausalLink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.traces.RegisterCausalLink(c)
}

// Compress folds memory events older than olderThan into summary events.
func (e *Engine) Compress(olderThan time.Duration) (memory.CompressionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memory.Compress(olderThan)
}

// PruneResult counts what PruneBefore removed.
type PruneResult struct {
	Events int `json:"events"`
	Links  int `json:"links"`
}

// PruneBefore drops memory events and trace links older than cutoff.
// Findings and alerts are kept; they are bounded by their own logs.
func (e *Engine) PruneBefore(cutoff time.Time) PruneResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PruneResult{
		Events: e.memory.PruneBefore(cutoff),
		Links:  e.traces.PruneBefore(cutoff),
	}
}

// Snapshot captures the memory, findings, and trace state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Memory:   e.memory.Snapshot(),
		Findings: e.reasoning.FindingsSnapshot(),
		Traces:   e.traces.Snapshot(),
	}
}

// Restore replaces the memory, findings, and trace state with snap.
// Alerts and streaming state are not part of a snapshot.
func (e *Engine) Restore(snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.snapshotLocked()
	if err := e.restoreLocked(snap); err != nil {
		// Each engine validates before mutating, so only the engines that
		// accepted snap need rolling back; prev always restores cleanly.
		_ = e.restoreLocked(prev)
		return err
	}
	e.logger.Info("engine state restored",
		"events", len(snap.Memory.Events),
		"findings", len(snap.Findings.Findings),
		"links", len(snap.Traces.Links),
	)
	return nil
}

func (e *Engine) restoreLocked(snap Snapshot) error {
	if err := e.memory.Restore(snap.Memory); err != nil {
		return fmt.Errorf("restore memory: %w", err)
	}
	if err := e.reasoning.RestoreFindings(snap.Findings); err != nil {
		return fmt.Errorf("restore findings: %w", err)
	}
	if err := e.traces.Restore(snap.Traces); err != nil {
		return fmt.Errorf("restore traces: %w", err)
	}
	return nil
}
