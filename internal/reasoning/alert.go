package reasoning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertType classifies a realtime alert.
type AlertType int

const (
	AlertThreshold AlertType = iota + 1
	AlertPattern
	AlertAnomaly
	AlertCascade
	AlertPrediction
)

func (t AlertType) String() string {
	switch t {
	case AlertThreshold:
		return "threshold"
	case AlertPattern:
		return "pattern"
	case AlertAnomaly:
		return "anomaly"
	case AlertCascade:
		return "cascade"
	case AlertPrediction:
		return "prediction"
	default:
		return fmt.Sprintf("alert_type(%d)", int(t))
	}
}

// ParseAlertType converts an alert type name back to its value.
func ParseAlertType(s string) (AlertType, error) {
	for _, t := range []AlertType{AlertThreshold, AlertPattern, AlertAnomaly, AlertCascade, AlertPrediction} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown alert type %q", s)
}

// MarshalText encodes the alert type by name.
func (t AlertType) MarshalText() ([]byte, error) {
	if _, err := ParseAlertType(t.String()); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes an alert type name.
func (t *AlertType) UnmarshalText(b []byte) error {
	v, err := ParseAlertType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Alert is a realtime alert raised by streaming analysis. Only the
// acknowledge and resolve transitions mutate it after creation.
type Alert struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	Type          AlertType  `json:"alert_type"`
	Severity      Severity   `json:"severity"`
	Message       string     `json:"message"`
	SourcePattern string     `json:"source_pattern"`
	AutoEscalated bool       `json:"auto_escalated"`
	Acknowledged  bool       `json:"acknowledged"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Active reports whether the alert still needs attention.
func (a Alert) Active() bool {
	return !a.Acknowledged && a.ResolvedAt == nil
}

func cloneAlert(a Alert) Alert {
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}

// AlertSink receives alerts as they are raised. Publish errors are logged
// by the engine and never block analysis.
type AlertSink interface {
	Publish(ctx context.Context, a Alert) error
}

// IDGenerator generates alert ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 alert ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	prefix string
	ids    []string
	idx    int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("alert-1", "alert-2")
//	gen.Generate() // "alert-1"
//	gen.Generate() // "alert-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewCountingGenerator returns a generator producing prefix-1, prefix-2, ...
// without limit. Scenario runs use it for stable alert ids.
func NewCountingGenerator(prefix string) *FixedGenerator {
	return &FixedGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// A fixed list panics once exhausted, catching tests that raise more alerts
// than expected.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.prefix != "" {
		g.idx++
		return fmt.Sprintf("%s-%d", g.prefix, g.idx)
	}
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
