package trace

import (
	"fmt"
	"time"
)

// EntryType names the subsystem a linked entry lives in.
type EntryType string

const (
	EntryMemory    EntryType = "memory"
	EntryAudit     EntryType = "audit"
	EntryReasoning EntryType = "reasoning"
	EntryInsight   EntryType = "insight"
)

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	switch t {
	case EntryMemory, EntryAudit, EntryReasoning, EntryInsight:
		return true
	default:
		return false
	}
}

// Relationship is the kind of a causal edge.
type Relationship string

const (
	RelCausedBy  Relationship = "caused_by"
	RelTriggered Relationship = "triggered"
	RelRelatedTo Relationship = "related_to"
)

// Valid reports whether r is one of the known relationships.
func (r Relationship) Valid() bool {
	switch r {
	case RelCausedBy, RelTriggered, RelRelatedTo:
		return true
	default:
		return false
	}
}

// Severity is the severity derived for a trace summary.
type Severity string

const (
	SeverityUnknown  Severity = "unknown"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank orders severities for filtering; unknown sorts lowest.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Link attaches one entry from some subsystem to a trace.
type Link struct {
	TraceID   string            `json:"trace_id" yaml:"trace_id" validate:"required"`
	EntryID   string            `json:"entry_id" yaml:"entry_id" validate:"required"`
	EntryType EntryType         `json:"entry_type" yaml:"entry_type" validate:"required,oneof=memory audit reasoning insight"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp" validate:"required"`
	Source    string            `json:"source" yaml:"source" validate:"required"`
	Principal string            `json:"principal,omitempty" yaml:"principal,omitempty"`
	Tags      []string          `json:"tags" yaml:"tags"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (l Link) key() string {
	return l.TraceID + "\x00" + l.EntryID
}

// CausalLink is a directed edge between two entries of one trace. From is
// never later than To.
type CausalLink struct {
	FromEntryID  string        `json:"from_entry_id" yaml:"from" validate:"required"`
	ToEntryID    string        `json:"to_entry_id" yaml:"to" validate:"required,nefield=FromEntryID"`
	TraceID      string        `json:"trace_id" yaml:"trace_id" validate:"required"`
	Relationship Relationship  `json:"relationship" yaml:"relationship" validate:"required,oneof=caused_by triggered related_to"`
	Confidence   float64       `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
	TimeGap      time.Duration `json:"time_gap" yaml:"time_gap"`
	Description  string        `json:"description" yaml:"description"`
}

// Summary is the derived aggregate of one trace.
type Summary struct {
	TraceID          string        `json:"trace_id"`
	Start            time.Time     `json:"start"`
	End              time.Time     `json:"end"`
	Duration         time.Duration `json:"duration"`
	LinkCount        int           `json:"link_count"`
	CausalLinkCount  int           `json:"causal_link_count"`
	Modules          []string      `json:"modules"`
	Principals       []string      `json:"principals"`
	Tags             []string      `json:"tags"`
	DominantModule   string        `json:"dominant_module"`
	Severity         Severity      `json:"severity"`
	CausalConfidence float64       `json:"causal_confidence"`
}

// Trace is the full record of one trace: links in chronological order and
// causal edges in the order they were recorded.
type Trace struct {
	ID          string       `json:"id"`
	Links       []Link       `json:"links"`
	CausalLinks []CausalLink `json:"causal_links"`
}

// TimelineEntry is one link of a trace placed on its timeline.
type TimelineEntry struct {
	Offset   time.Duration `json:"offset"`
	Link     Link          `json:"link"`
	CausedBy []CausalLink  `json:"caused_by,omitempty"`
}

// Query is a multi-predicate trace search. Zero fields are ignored; set
// fields are AND'ed. Tags match when any requested tag is present.
type Query struct {
	Principal   string     `json:"principal,omitempty"`
	Source      string     `json:"source,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
	MinSeverity Severity   `json:"min_severity,omitempty"`
}

// Analytics aggregates every trace the engine holds.
type Analytics struct {
	TraceCount         int            `json:"trace_count"`
	LinkCount          int            `json:"link_count"`
	CausalLinkCount    int            `json:"causal_link_count"`
	AverageTraceLength float64        `json:"average_trace_length"`
	MostActiveModule   string         `json:"most_active_module"`
	TagFrequency       map[string]int `json:"tag_frequency"`
	ErrorTraces        []string       `json:"error_traces"`
	PrincipalActivity  map[string]int `json:"principal_activity"`
}

// Snapshot is the persisted state of the engine.
type Snapshot struct {
	Links       []Link       `json:"links"`
	CausalLinks []CausalLink `json:"causal_links"`
	Summaries   []Summary    `json:"summaries"`
}

func (c CausalLink) String() string {
	return fmt.Sprintf("%s -%s-> %s (%.2f)", c.FromEntryID, c.Relationship, c.ToEntryID, c.Confidence)
}
