package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/insight/internal/trace"
)

// DefaultStart is the scenario clock origin when a scenario omits start.
var DefaultStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a scripted run of the intelligence layer: a timed event feed,
// optional extra trace links, and assertions on what the engines concluded.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Start is the clock origin; every offset is relative to it.
	Start time.Time `yaml:"start,omitempty"`

	// Streaming enables streaming analysis with the policy's triggers and
	// windows before the first event.
	Streaming bool `yaml:"streaming,omitempty"`

	// Events are ingested in order. Offsets must not decrease.
	Events []EventStep `yaml:"events"`

	// Links are registered after the events, in order.
	Links []LinkStep `yaml:"links,omitempty"`

	// CausalLinks are recorded after the links, in order.
	CausalLinks []CausalStep `yaml:"causal_links,omitempty"`

	// AnalyzeAt is the offset of the batch analysis. It defaults to the
	// offset of the last event and may not precede it.
	AnalyzeAt time.Duration `yaml:"analyze_at,omitempty"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one ingested event.
type EventStep struct {
	At        time.Duration `yaml:"at"`
	Category  string        `yaml:"category"`
	Trace     string        `yaml:"trace,omitempty"`
	Source    string        `yaml:"source,omitempty"`
	Principal string        `yaml:"principal,omitempty"`
	Tags      []string      `yaml:"tags,omitempty"`
	Summary   string        `yaml:"summary"`
	Payload   string        `yaml:"payload,omitempty"`
}

// LinkStep attaches an entry from another subsystem to a trace.
type LinkStep struct {
	At        time.Duration `yaml:"at"`
	Trace     string        `yaml:"trace"`
	Entry     string        `yaml:"entry"`
	Type      string        `yaml:"type"`
	Source    string        `yaml:"source"`
	Principal string        `yaml:"principal,omitempty"`
	Tags      []string      `yaml:"tags,omitempty"`
}

// CausalStep records a manual causal edge.
type CausalStep struct {
	Trace        string  `yaml:"trace"`
	From         string  `yaml:"from"`
	To           string  `yaml:"to"`
	Relationship string  `yaml:"relationship"`
	Confidence   float64 `yaml:"confidence"`
	Description  string  `yaml:"description,omitempty"`
}

// Assertion validates one aspect of a run.
type Assertion struct {
	// Type selects the check:
	// - "finding": the analysis finding has Title (and Severity, Detector if set)
	// - "alert_count": at least Min alerts were raised (of Severity if set)
	// - "trace_links": trace Trace holds exactly Count links
	// - "causal_link": trace Trace has an edge From -> To (of Relationship if set)
	// - "trace_severity": trace Trace summarizes to Severity
	Type string `yaml:"type"`

	Title        string `yaml:"title,omitempty"`
	Severity     string `yaml:"severity,omitempty"`
	Detector     string `yaml:"detector,omitempty"`
	Min          int    `yaml:"min,omitempty"`
	Count        int    `yaml:"count,omitempty"`
	Trace        string `yaml:"trace,omitempty"`
	From         string `yaml:"from,omitempty"`
	To           string `yaml:"to,omitempty"`
	Relationship string `yaml:"relationship,omitempty"`
}

// Assertion type constants.
const (
	AssertFinding       = "finding"
	AssertAlertCount    = "alert_count"
	AssertTraceLinks    = "trace_links"
	AssertCausalLink    = "causal_link"
	AssertTraceSeverity = "trace_severity"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Start.IsZero() {
		scenario.Start = DefaultStart
	}
	return &scenario, nil
}

// lastOffset returns the offset of the final event.
func (s *Scenario) lastOffset() time.Duration {
	if len(s.Events) == 0 {
		return 0
	}
	return s.Events[len(s.Events)-1].At
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	var prev time.Duration
	for i, ev := range s.Events {
		if ev.Category == "" {
			return fmt.Errorf("events[%d]: category is required", i)
		}
		if ev.At < 0 {
			return fmt.Errorf("events[%d]: at must not be negative", i)
		}
		if ev.At < prev {
			return fmt.Errorf("events[%d]: at %s precedes previous event at %s", i, ev.At, prev)
		}
		prev = ev.At
	}
	if s.AnalyzeAt != 0 && s.AnalyzeAt < prev {
		return fmt.Errorf("analyze_at %s precedes the last event at %s", s.AnalyzeAt, prev)
	}

	for i, l := range s.Links {
		if l.Trace == "" || l.Entry == "" || l.Source == "" {
			return fmt.Errorf("links[%d]: trace, entry, and source are required", i)
		}
		if !trace.EntryType(l.Type).Valid() {
			return fmt.Errorf("links[%d]: unknown entry type %q", i, l.Type)
		}
	}
	for i, c := range s.CausalLinks {
		if c.Trace == "" || c.From == "" || c.To == "" {
			return fmt.Errorf("causal_links[%d]: trace, from, and to are required", i)
		}
		if c.Relationship != "" && !trace.Relationship(c.Relationship).Valid() {
			return fmt.Errorf("causal_links[%d]: unknown relationship %q", i, c.Relationship)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinding:
		if a.Title == "" {
			return fmt.Errorf("assertions[%d]: title is required for finding", index)
		}
	case AssertAlertCount:
		if a.Min < 0 {
			return fmt.Errorf("assertions[%d]: min must be non-negative for alert_count", index)
		}
	case AssertTraceLinks:
		if a.Trace == "" {
			return fmt.Errorf("assertions[%d]: trace is required for trace_links", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_links", index)
		}
	case AssertCausalLink:
		if a.Trace == "" || a.From == "" || a.To == "" {
			return fmt.Errorf("assertions[%d]: trace, from, and to are required for causal_link", index)
		}
	case AssertTraceSeverity:
		if a.Trace == "" || a.Severity == "" {
			return fmt.Errorf("assertions[%d]: trace and severity are required for trace_severity", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
