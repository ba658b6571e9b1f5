package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/insight/internal/clock"
	"github.com/roach88/insight/internal/config"
	"github.com/roach88/insight/internal/engine"
	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

// Harness replays one scenario against a fresh host engine.
// Time comes from a manual clock so every run of a scenario produces the
// same findings, alerts, and causal links.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	clock    *clock.Manual
	policies config.Policies
	logger   *slog.Logger
}

type options struct {
	policies config.Policies
	logger   *slog.Logger
	sinks    []reasoning.AlertSink
	extra    []engine.Option
}

// Option configures a Harness.
type Option func(*options)

// WithPolicies overrides the detector, causal, and streaming settings.
func WithPolicies(p config.Policies) Option {
	return func(o *options) { o.policies = p }
}

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAlertSinks delivers streaming alerts to sinks as they are raised.
func WithAlertSinks(sinks ...reasoning.AlertSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithEngineOptions passes further options to the host engine, such as
// capacities or metrics. They are applied after the harness defaults.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.extra = append(o.extra, opts...) }
}

// New builds a harness for scenario. The host engine is created immediately
// so callers can inspect it after Execute.
func New(scenario *Scenario, opts ...Option) *Harness {
	o := options{
		policies: config.DefaultPolicies(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	clk := clock.NewManual(scenario.Start)
	host := engine.New(append([]engine.Option{
		engine.WithClock(clk),
		engine.WithLogger(o.logger),
		engine.WithPolicy(o.policies.Detectors),
		engine.WithTracePolicy(o.policies.Causal),
		engine.WithAlertSinks(o.sinks...),
		engine.WithAlertIDGenerator(reasoning.NewCountingGenerator("alert")),
	}, o.extra...)...)
	return &Harness{
		scenario: scenario,
		engine:   host,
		clock:    clk,
		policies: o.policies,
		logger:   o.logger,
	}
}

// Engine returns the host engine the scenario runs against.
func (h *Harness) Engine() *engine.Engine {
	return h.engine
}

// Run executes a scenario on a fresh harness and returns the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return New(scenario, opts...).Execute(context.Background())
}

// Execute runs the scenario:
//  1. enable streaming analysis if requested
//  2. ingest each event at its offset
//  3. register extra links and causal links
//  4. at the analysis offset, tick the sliding windows and run the detectors
//  5. collect the end state and evaluate assertions
//
// Errors are returned for inputs the engines reject; assertion failures are
// reported in the result.
func (h *Harness) Execute(ctx context.Context) (*Result, error) {
	s := h.scenario
	if s.Streaming {
		h.engine.Reasoning().EnableStreaming(h.policies.Streaming)
	}

	for i, step := range s.Events {
		h.clock.Set(s.Start.Add(step.At))
		in := engine.Ingest{
			Category:  step.Category,
			TraceID:   step.Trace,
			Summary:   step.Summary,
			Source:    step.Source,
			Principal: step.Principal,
			Tags:      step.Tags,
		}
		if step.Payload != "" {
			in.Payload = []byte(step.Payload)
		}
		if _, err := h.engine.Ingest(ctx, in); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}

	for i, step := range s.Links {
		_, err := h.engine.RegisterLink(trace.Link{
			TraceID:   step.Trace,
			EntryID:   step.Entry,
			EntryType: trace.EntryType(step.Type),
			Timestamp: s.Start.Add(step.At),
			Source:    step.Source,
			Principal: step.Principal,
			Tags:      step.Tags,
		})
		if err != nil {
			return nil, fmt.Errorf("link %d: %w", i, err)
		}
	}

	for i, step := range s.CausalLinks {
		rel := trace.Relationship(step.Relationship)
		if rel == "" {
			rel = trace.RelRelatedTo
		}
		err := h.engine.RegisterCausalLink(trace.CausalLink{
			FromEntryID:  step.From,
			ToEntryID:    step.To,
			TraceID:      step.Trace,
			Relationship: rel,
			Confidence:   step.Confidence,
			Description:  step.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("causal link %d: %w", i, err)
		}
	}

	h.clock.Set(s.Start.Add(max(s.lastOffset(), s.AnalyzeAt)))
	if s.Streaming {
		h.engine.RunSlidingWindowAnalysis(ctx)
	}
	finding := h.engine.Analyze(ctx, reasoning.AnalyzeOptions{})

	result := h.collect(finding)
	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	h.logger.Info("scenario complete",
		"scenario", s.Name,
		"pass", result.Pass,
		"finding", finding.Title,
		"alerts", len(result.Alerts),
	)
	return result, nil
}

// collect gathers the end state of every engine into a result.
func (h *Harness) collect(finding reasoning.Finding) *Result {
	r := NewResult(h.scenario.Name)
	r.Events = h.engine.Memory().Len()
	r.Finding = finding

	alerts := h.engine.Reasoning().Alerts()
	for i := len(alerts) - 1; i >= 0; i-- {
		r.Alerts = append(r.Alerts, alerts[i])
	}

	traces := h.engine.Traces()
	for _, id := range h.traceIDs(finding) {
		tr, _ := traces.Trace(id)
		edges := tr.CausalLinks
		if edges == nil {
			edges = []trace.CausalLink{}
		}
		r.Traces = append(r.Traces, TraceResult{
			Summary:     traces.Summarize(id),
			CausalLinks: edges,
		})
	}
	return r
}

// traceIDs returns every trace the scenario or its finding names, sorted.
func (h *Harness) traceIDs(finding reasoning.Finding) []string {
	seen := make(map[string]bool)
	for _, ev := range h.scenario.Events {
		if ev.Trace != "" {
			seen[ev.Trace] = true
		}
	}
	for _, l := range h.scenario.Links {
		seen[l.Trace] = true
	}
	for _, c := range h.scenario.CausalLinks {
		seen[c.Trace] = true
	}
	for _, id := range finding.TraceIDs {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
