package harness

import (
	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

// TraceResult is the end state of one trace touched by a scenario.
type TraceResult struct {
	Summary     trace.Summary      `json:"summary"`
	CausalLinks []trace.CausalLink `json:"causal_links"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Scenario string `json:"scenario"`

	// Pass indicates overall success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Events is the number of events held by the memory store after the run.
	Events int `json:"events"`

	// Finding is the batch analysis result.
	Finding reasoning.Finding `json:"finding"`

	// Alerts raised by streaming analysis, oldest first.
	Alerts []reasoning.Alert `json:"alerts"`

	// Traces holds every trace the scenario touched, by id.
	Traces []TraceResult `json:"traces"`

	// Errors contains assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Scenario: name,
		Pass:     true,
		Alerts:   []reasoning.Alert{},
		Traces:   []TraceResult{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// trace returns the result for traceID.
func (r *Result) trace(traceID string) (TraceResult, bool) {
	for _, t := range r.Traces {
		if t.Summary.TraceID == traceID {
			return t, true
		}
	}
	return TraceResult{}, false
}
