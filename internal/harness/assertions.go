package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// assertFinding checks the batch finding's title and, when given, its
// severity and detector.
func assertFinding(r *Result, a Assertion) error {
	f := r.Finding
	if f.Title != a.Title ||
		(a.Severity != "" && f.Severity.String() != a.Severity) ||
		(a.Detector != "" && f.Detector != a.Detector) {
		return &AssertionError{
			Type:     AssertFinding,
			Expected: describeFinding(a.Title, a.Severity, a.Detector),
			Actual:   describeFinding(f.Title, f.Severity.String(), f.Detector),
		}
	}
	return nil
}

func describeFinding(title, severity, detector string) string {
	s := fmt.Sprintf("%q", title)
	if severity != "" {
		s += " severity " + severity
	}
	if detector != "" {
		s += " detector " + detector
	}
	return s
}

// assertAlertCount checks that at least Min alerts were raised, counting only
// alerts of Severity when set.
func assertAlertCount(r *Result, a Assertion) error {
	n := 0
	for _, alert := range r.Alerts {
		if a.Severity == "" || alert.Severity.String() == a.Severity {
			n++
		}
	}
	if n < a.Min {
		what := "alerts"
		if a.Severity != "" {
			what = a.Severity + " alerts"
		}
		return &AssertionError{
			Type:     AssertAlertCount,
			Expected: fmt.Sprintf("at least %d %s", a.Min, what),
			Actual:   fmt.Sprintf("%d %s", n, what),
		}
	}
	return nil
}

// assertTraceLinks checks the exact link count of a trace.
func assertTraceLinks(r *Result, a Assertion) error {
	got := 0
	if t, ok := r.trace(a.Trace); ok {
		got = t.Summary.LinkCount
	}
	if got != a.Count {
		return &AssertionError{
			Type:     AssertTraceLinks,
			Expected: fmt.Sprintf("%d links on trace %s", a.Count, a.Trace),
			Actual:   fmt.Sprintf("%d links", got),
		}
	}
	return nil
}

// assertCausalLink checks that a trace holds an edge From -> To.
func assertCausalLink(r *Result, a Assertion) error {
	t, _ := r.trace(a.Trace)
	var edges []string
	for _, c := range t.CausalLinks {
		if c.FromEntryID == a.From && c.ToEntryID == a.To &&
			(a.Relationship == "" || string(c.Relationship) == a.Relationship) {
			return nil
		}
		edges = append(edges, c.String())
	}

	expected := fmt.Sprintf("edge %s -> %s on trace %s", a.From, a.To, a.Trace)
	if a.Relationship != "" {
		expected += " (" + a.Relationship + ")"
	}
	actual := "no causal links"
	if len(edges) > 0 {
		actual = strings.Join(edges, "; ")
	}
	return &AssertionError{Type: AssertCausalLink, Expected: expected, Actual: actual}
}

// assertTraceSeverity checks the derived severity of a trace summary.
func assertTraceSeverity(r *Result, a Assertion) error {
	got := "absent"
	if t, ok := r.trace(a.Trace); ok {
		got = string(t.Summary.Severity)
	}
	if got != a.Severity {
		return &AssertionError{
			Type:     AssertTraceSeverity,
			Expected: fmt.Sprintf("trace %s severity %s", a.Trace, a.Severity),
			Actual:   got,
		}
	}
	return nil
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinding:
			err = assertFinding(result, a)
		case AssertAlertCount:
			err = assertAlertCount(result, a)
		case AssertTraceLinks:
			err = assertTraceLinks(result, a)
		case AssertCausalLink:
			err = assertCausalLink(result, a)
		case AssertTraceSeverity:
			err = assertTraceSeverity(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}
