package harness

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

func sampleResult() *Result {
	r := NewResult("sample")
	r.Events = 4
	r.Finding = reasoning.Finding{
		ID:             1,
		Title:          "Latency Spike Detected",
		Severity:       reasoning.SeverityWarning,
		Detector:       "latency_spike",
		TraceIDs:       []string{"T9"},
		SourceEventIDs: []int64{2, 3, 4},
	}
	r.Alerts = []reasoning.Alert{
		{ID: "alert-1", Type: reasoning.AlertThreshold, Severity: reasoning.SeverityWarning, SourcePattern: "burst-1m", Message: "burst"},
		{ID: "alert-2", Type: reasoning.AlertPattern, Severity: reasoning.SeverityCritical, SourcePattern: "error-keyword", Message: "errors"},
	}
	r.Traces = []TraceResult{{
		Summary: trace.Summary{
			TraceID:          "T9",
			LinkCount:        3,
			Modules:          []string{"gateway", "reasoning"},
			Severity:         trace.SeverityWarning,
			CausalConfidence: 0.5,
		},
		CausalLinks: []trace.CausalLink{
			{FromEntryID: "mem-2", ToEntryID: "mem-3", TraceID: "T9", Relationship: trace.RelRelatedTo, Confidence: 0.71},
		},
	}}
	return r
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"finding title", Assertion{Type: AssertFinding, Title: "Latency Spike Detected"}, ""},
		{"finding full", Assertion{Type: AssertFinding, Title: "Latency Spike Detected", Severity: "warning", Detector: "latency_spike"}, ""},
		{"finding wrong severity", Assertion{Type: AssertFinding, Title: "Latency Spike Detected", Severity: "critical"}, `Actual: "Latency Spike Detected" severity warning`},
		{"finding wrong title", Assertion{Type: AssertFinding, Title: "System Normal"}, `Expected: "System Normal"`},
		{"alerts any", Assertion{Type: AssertAlertCount, Min: 2}, ""},
		{"alerts by severity", Assertion{Type: AssertAlertCount, Min: 1, Severity: "critical"}, ""},
		{"too few alerts", Assertion{Type: AssertAlertCount, Min: 3}, "Actual: 2 alerts"},
		{"too few critical", Assertion{Type: AssertAlertCount, Min: 2, Severity: "critical"}, "Actual: 1 critical alerts"},
		{"trace links", Assertion{Type: AssertTraceLinks, Trace: "T9", Count: 3}, ""},
		{"trace links wrong", Assertion{Type: AssertTraceLinks, Trace: "T9", Count: 1}, "Actual: 3 links"},
		{"absent trace has no links", Assertion{Type: AssertTraceLinks, Trace: "T0", Count: 0}, ""},
		{"causal link", Assertion{Type: AssertCausalLink, Trace: "T9", From: "mem-2", To: "mem-3"}, ""},
		{"causal link relationship", Assertion{Type: AssertCausalLink, Trace: "T9", From: "mem-2", To: "mem-3", Relationship: "triggered"}, "mem-2 -related_to-> mem-3 (0.71)"},
		{"causal link on absent trace", Assertion{Type: AssertCausalLink, Trace: "T0", From: "a", To: "b"}, "Actual: no causal links"},
		{"trace severity", Assertion{Type: AssertTraceSeverity, Trace: "T9", Severity: "warning"}, ""},
		{"trace severity absent", Assertion{Type: AssertTraceSeverity, Trace: "T0", Severity: "info"}, "Actual: absent"},
		{"unknown type", Assertion{Type: "final_state"}, `unknown assertion type "final_state"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "assertion 0: ")
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: AssertTraceLinks, Expected: "2 links on trace T1", Actual: "1 links"}
	assert.Equal(t, "Assertion failed: trace_links\n  Expected: 2 links on trace T1\n  Actual: 1 links", err.Error())
}

func TestResult_AddError(t *testing.T) {
	r := NewResult("x")
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestWriteReport(t *testing.T) {
	r := sampleResult()
	r.AddError("assertion 0: Assertion failed: finding\n  Expected: x\n  Actual: y")

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, r))
	assert.Equal(t, `scenario: sample
pass: false
events: 4
finding: Latency Spike Detected
  severity: warning
  detector: latency_spike
  traces: T9
  source events: 2 3 4
alerts: 2
  alert-1 threshold warning burst-1m: burst
  alert-2 pattern critical error-keyword: errors
trace T9
  links: 3
  modules: gateway reasoning
  severity: warning
  causal confidence: 0.50
  mem-2 -related_to-> mem-3 (0.71)
error: assertion 0: Assertion failed: finding
    Expected: x
    Actual: y
`, buf.String())
}
