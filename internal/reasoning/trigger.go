package reasoning

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/insight/internal/memory"
)

// TriggerType selects how a trigger's condition is matched.
type TriggerType int

const (
	// TriggerKeyword matches Condition as a case-insensitive substring of the
	// event summary or category.
	TriggerKeyword TriggerType = iota + 1
	// TriggerFrequency matches when the live queue holds at least Threshold
	// events of category Condition ("*" for any) in the last minute.
	TriggerFrequency
	// TriggerSeverity matches when the summary carries one of the
	// comma-separated markers in Condition.
	TriggerSeverity
)

// frequencyWindow is the look-back of frequency triggers.
const frequencyWindow = time.Minute

// defaultSeverityMarkers applies when a severity trigger has no condition.
const defaultSeverityMarkers = "critical,emergency"

func (t TriggerType) String() string {
	switch t {
	case TriggerKeyword:
		return "keyword"
	case TriggerFrequency:
		return "frequency"
	case TriggerSeverity:
		return "severity"
	default:
		return fmt.Sprintf("trigger_type(%d)", int(t))
	}
}

// ParseTriggerType converts a trigger type name back to its value.
func ParseTriggerType(s string) (TriggerType, error) {
	switch s {
	case "keyword":
		return TriggerKeyword, nil
	case "frequency":
		return TriggerFrequency, nil
	case "severity":
		return TriggerSeverity, nil
	default:
		return 0, fmt.Errorf("unknown trigger type %q", s)
	}
}

// MarshalText encodes the trigger type by name.
func (t TriggerType) MarshalText() ([]byte, error) {
	if _, err := ParseTriggerType(t.String()); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a trigger type name.
func (t *TriggerType) UnmarshalText(b []byte) error {
	v, err := ParseTriggerType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Trigger is a per-event rule evaluated by ProcessEvent.
type Trigger struct {
	Name      string        `json:"name" yaml:"name"`
	Type      TriggerType   `json:"type" yaml:"type"`
	Condition string        `json:"condition" yaml:"condition"`
	Threshold float64       `json:"threshold" yaml:"threshold"`
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Cooldown  time.Duration `json:"cooldown" yaml:"cooldown"`
}

// SlidingWindow counts live-queue events over Size every Slide and alerts
// when the count exceeds Threshold.
type SlidingWindow struct {
	Name      string        `json:"name" yaml:"name"`
	Size      time.Duration `json:"size" yaml:"size"`
	Slide     time.Duration `json:"slide" yaml:"slide"`
	Threshold int           `json:"threshold" yaml:"threshold"`
}

// triggerState pairs a trigger with its cooldown gate.
type triggerState struct {
	Trigger
	gate *rate.Limiter
}

func newTriggerState(t Trigger) *triggerState {
	limit := rate.Inf
	if t.Cooldown > 0 {
		limit = rate.Every(t.Cooldown)
	}
	return &triggerState{Trigger: t, gate: rate.NewLimiter(limit, 1)}
}

// matches evaluates the trigger condition for ev, which is already queued.
func (t *triggerState) matches(ev memory.Event, q *liveQueue, now time.Time) bool {
	switch t.Type {
	case TriggerKeyword:
		if t.Condition == "" {
			return false
		}
		kw := []string{strings.ToLower(t.Condition)}
		return containsAny(ev.Summary, kw) || containsAny(ev.Category, kw)
	case TriggerFrequency:
		n := q.count(now.Add(-frequencyWindow), now, func(e memory.Event) bool {
			return t.Condition == "" || t.Condition == "*" || inCategory(e, t.Condition)
		})
		return float64(n) >= t.Threshold
	case TriggerSeverity:
		cond := t.Condition
		if strings.TrimSpace(cond) == "" {
			cond = defaultSeverityMarkers
		}
		var markers []string
		for _, m := range strings.Split(cond, ",") {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				markers = append(markers, m)
			}
		}
		return containsAny(ev.Summary, markers)
	default:
		return false
	}
}

// quickPattern looks for a burst behind a fired trigger: rapid errors first,
// then a financial activity spike, both within the trigger's cooldown.
func (t *triggerState) quickPattern(q *liveQueue, now time.Time) (AlertType, Severity, bool, string, bool) {
	span := t.Cooldown
	if span <= 0 {
		span = frequencyWindow
	}
	from := now.Add(-span)

	errs := q.count(from, now, isErrorMarked)
	if errs >= rapidErrorMin {
		sev, escalated := SeverityWarning, false
		if errs >= 2*rapidErrorMin {
			sev, escalated = SeverityCritical, true
		}
		msg := fmt.Sprintf("trigger %s: %d errors within %s", t.Name, errs, span)
		return AlertPattern, sev, escalated, msg, true
	}

	fin := q.count(from, now, isFinancial)
	if fin > financialSpikeMin {
		msg := fmt.Sprintf("trigger %s: %d financial events within %s", t.Name, fin, span)
		return AlertAnomaly, SeverityWarning, false, msg, true
	}
	return 0, 0, false, "", false
}

const (
	rapidErrorMin     = 3
	financialSpikeMin = 10
)

// windowState tracks when a sliding window last ticked.
type windowState struct {
	SlidingWindow
	lastProcessed time.Time
}

// due reports whether the window should tick at now.
func (w *windowState) due(now time.Time) bool {
	return w.lastProcessed.IsZero() || now.Sub(w.lastProcessed) >= w.Slide
}
