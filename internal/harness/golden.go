package harness

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// WriteReport renders a result as plain text. The layout only contains
// values a scenario fully determines, so reports can be compared byte for
// byte across runs.
func WriteReport(w io.Writer, r *Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", r.Scenario)
	fmt.Fprintf(&b, "pass: %t\n", r.Pass)
	fmt.Fprintf(&b, "events: %d\n", r.Events)

	f := r.Finding
	fmt.Fprintf(&b, "finding: %s\n", f.Title)
	fmt.Fprintf(&b, "  severity: %s\n", f.Severity)
	if f.Detector != "" {
		fmt.Fprintf(&b, "  detector: %s\n", f.Detector)
	}
	if len(f.TraceIDs) > 0 {
		fmt.Fprintf(&b, "  traces: %s\n", strings.Join(f.TraceIDs, " "))
	}
	if len(f.SourceEventIDs) > 0 {
		ids := make([]string, len(f.SourceEventIDs))
		for i, id := range f.SourceEventIDs {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(&b, "  source events: %s\n", strings.Join(ids, " "))
	}

	fmt.Fprintf(&b, "alerts: %d\n", len(r.Alerts))
	for _, a := range r.Alerts {
		fmt.Fprintf(&b, "  %s %s %s %s: %s\n", a.ID, a.Type, a.Severity, a.SourcePattern, a.Message)
	}

	for _, t := range r.Traces {
		s := t.Summary
		fmt.Fprintf(&b, "trace %s\n", s.TraceID)
		fmt.Fprintf(&b, "  links: %d\n", s.LinkCount)
		fmt.Fprintf(&b, "  modules: %s\n", strings.Join(s.Modules, " "))
		fmt.Fprintf(&b, "  severity: %s\n", s.Severity)
		fmt.Fprintf(&b, "  causal confidence: %.2f\n", s.CausalConfidence)
		for _, c := range t.CausalLinks {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}

	for _, e := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", strings.ReplaceAll(e, "\n", "\n  "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RunWithGolden executes a scenario and compares its report against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's report against the golden file
// for name.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	var buf bytes.Buffer
	if err := WriteReport(&buf, result); err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
	return nil
}
