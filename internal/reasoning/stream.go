package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/insight/internal/memory"
)

// DefaultQueueCapacity bounds the live event queue.
const DefaultQueueCapacity = 1000

// StreamingConfig is the trigger and window set installed by
// EnableStreaming.
type StreamingConfig struct {
	Triggers []Trigger       `json:"triggers" yaml:"triggers"`
	Windows  []SlidingWindow `json:"windows" yaml:"windows"`
}

// DefaultStreamingConfig returns the stock triggers and windows.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		Triggers: []Trigger{
			{Name: "error-keyword", Type: TriggerKeyword, Condition: "error", Threshold: 1, Enabled: true, Cooldown: 30 * time.Second},
			{Name: "critical-severity", Type: TriggerSeverity, Condition: defaultSeverityMarkers, Threshold: 1, Enabled: true, Cooldown: time.Minute},
			{Name: "financial-burst", Type: TriggerFrequency, Condition: CategoryFinancial, Threshold: 10, Enabled: true, Cooldown: time.Minute},
		},
		Windows: []SlidingWindow{
			{Name: "burst-1m", Size: time.Minute, Slide: 10 * time.Second, Threshold: 100},
			{Name: "sustained-5m", Size: 5 * time.Minute, Slide: time.Minute, Threshold: 300},
		},
	}
}

// StreamingStatus reports the state of streaming analysis.
type StreamingStatus struct {
	Enabled        bool      `json:"enabled"`
	TotalAlerts    int       `json:"total_alerts"`
	ActiveAlerts   int       `json:"active_alerts"`
	CriticalAlerts int       `json:"critical_alerts"`
	LastProcessed  time.Time `json:"last_processed"`
	QueueDepth     int       `json:"queue_depth"`
}

// liveQueue is a fixed-capacity ring of recent events; pushing onto a full
// ring overwrites the oldest.
type liveQueue struct {
	buf  []memory.Event
	head int // index of the oldest event
	size int
}

func newLiveQueue(capacity int) *liveQueue {
	return &liveQueue{buf: make([]memory.Event, capacity)}
}

func (q *liveQueue) push(e memory.Event) {
	if q.size < len(q.buf) {
		q.buf[(q.head+q.size)%len(q.buf)] = e
		q.size++
		return
	}
	q.buf[q.head] = e
	q.head = (q.head + 1) % len(q.buf)
}

func (q *liveQueue) len() int { return q.size }

// count returns the number of queued events with from < timestamp <= to
// that satisfy keep.
func (q *liveQueue) count(from, to time.Time, keep func(memory.Event) bool) int {
	n := 0
	for i := 0; i < q.size; i++ {
		e := q.buf[(q.head+i)%len(q.buf)]
		if e.Timestamp.After(from) && !e.Timestamp.After(to) && keep(e) {
			n++
		}
	}
	return n
}

type streamState struct {
	enabled       bool
	queue         *liveQueue
	triggers      []*triggerState
	windows       []*windowState
	alerts        []Alert
	alertIndex    map[string]int
	lastProcessed time.Time
}

func newStreamState(queueCap int) *streamState {
	return &streamState{
		queue:      newLiveQueue(queueCap),
		alertIndex: make(map[string]int),
	}
}

// EnableStreaming installs cfg and starts accepting events. Cooldowns and
// window markers start fresh; the queue and alert log are kept.
func (e *Engine) EnableStreaming(cfg StreamingConfig) {
	e.smu.Lock()
	defer e.smu.Unlock()

	s := e.stream
	s.triggers = s.triggers[:0]
	for _, t := range cfg.Triggers {
		s.triggers = append(s.triggers, newTriggerState(t))
	}
	s.windows = s.windows[:0]
	for _, w := range cfg.Windows {
		s.windows = append(s.windows, &windowState{SlidingWindow: w})
	}
	s.enabled = true
	e.logger.Info("streaming enabled", "triggers", len(s.triggers), "windows", len(s.windows))
}

// DisableStreaming stops processing. Subsequent ProcessEvent calls are no-ops.
func (e *Engine) DisableStreaming() {
	e.smu.Lock()
	defer e.smu.Unlock()
	e.stream.enabled = false
	e.logger.Info("streaming disabled")
}

// StreamingEnabled reports whether ProcessEvent is active.
func (e *Engine) StreamingEnabled() bool {
	e.smu.RLock()
	defer e.smu.RUnlock()
	return e.stream.enabled
}

// ProcessEvent queues ev, evaluates every enabled trigger, and ticks the
// sliding windows. It returns the alerts raised, which are also delivered to
// the configured sinks. With streaming disabled it does nothing.
//
// Trigger conditions count queued events in the span ending at ev's own
// timestamp (the engine clock when unset), so backfilled events are judged
// against their neighbours. Cooldowns, window ticks and alert timestamps
// follow the engine clock.
func (e *Engine) ProcessEvent(ctx context.Context, ev memory.Event) []Alert {
	e.smu.Lock()
	s := e.stream
	if !s.enabled {
		e.smu.Unlock()
		return []Alert{}
	}

	now := e.clock.Now()
	s.queue.push(ev)
	s.lastProcessed = now

	at := ev.Timestamp
	if at.IsZero() {
		at = now
	}

	raised := []Alert{}
	for _, t := range s.triggers {
		if !t.Enabled || !t.matches(ev, s.queue, at) {
			continue
		}
		if !t.gate.AllowN(now, 1) {
			e.logger.Debug("trigger in cooldown", "trigger", t.Name)
			continue
		}
		typ, sev, escalated, msg, ok := t.quickPattern(s.queue, at)
		if !ok {
			continue
		}
		raised = append(raised, e.raiseLocked(now, typ, sev, msg, t.Name, escalated))
	}
	raised = append(raised, e.tickWindowsLocked(now)...)
	e.smu.Unlock()

	e.publish(ctx, raised)
	return raised
}

// RunSlidingWindowAnalysis ticks every due sliding window without queueing
// an event. Hosts call it on a timer so quiet periods still advance windows.
func (e *Engine) RunSlidingWindowAnalysis(ctx context.Context) []Alert {
	e.smu.Lock()
	if !e.stream.enabled {
		e.smu.Unlock()
		return []Alert{}
	}
	now := e.clock.Now()
	raised := e.tickWindowsLocked(now)
	e.stream.lastProcessed = now
	e.smu.Unlock()

	e.publish(ctx, raised)
	return raised
}

func (e *Engine) tickWindowsLocked(now time.Time) []Alert {
	raised := []Alert{}
	for _, w := range e.stream.windows {
		if !w.due(now) {
			continue
		}
		n := e.stream.queue.count(now.Add(-w.Size), now, func(memory.Event) bool { return true })
		w.lastProcessed = now
		if n <= w.Threshold {
			continue
		}
		sev, escalated := SeverityWarning, false
		if n > 2*w.Threshold {
			sev, escalated = SeverityCritical, true
		}
		msg := fmt.Sprintf("window %s: %d events in %s exceeds threshold %d", w.Name, n, w.Size, w.Threshold)
		raised = append(raised, e.raiseLocked(now, AlertThreshold, sev, msg, w.Name, escalated))
	}
	return raised
}

func (e *Engine) raiseLocked(now time.Time, typ AlertType, sev Severity, msg, pattern string, escalated bool) Alert {
	a := Alert{
		ID:            e.alertIDs.Generate(),
		Timestamp:     now,
		Type:          typ,
		Severity:      sev,
		Message:       msg,
		SourcePattern: pattern,
		AutoEscalated: escalated,
	}
	e.stream.alertIndex[a.ID] = len(e.stream.alerts)
	e.stream.alerts = append(e.stream.alerts, a)
	e.metrics.AlertRaised(typ.String(), sev.String())
	e.logger.Warn("alert raised",
		"alert_id", a.ID,
		"type", typ.String(),
		"severity", sev.String(),
		"pattern", pattern,
	)
	return a
}

func (e *Engine) publish(ctx context.Context, alerts []Alert) {
	for _, a := range alerts {
		for _, sink := range e.sinks {
			if err := sink.Publish(ctx, a); err != nil {
				e.logger.Error("alert sink failed", "alert_id", a.ID, "error", err)
			}
		}
	}
}

// AcknowledgeAlert marks the alert acknowledged and, if not yet resolved,
// stamps its resolution time.
func (e *Engine) AcknowledgeAlert(id string) error {
	return e.transition(id, true)
}

// ResolveAlert stamps the alert's resolution time without acknowledging it.
func (e *Engine) ResolveAlert(id string) error {
	return e.transition(id, false)
}

func (e *Engine) transition(id string, ack bool) error {
	e.smu.Lock()
	defer e.smu.Unlock()

	i, ok := e.stream.alertIndex[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, ErrAlertNotFound)
	}
	a := &e.stream.alerts[i]
	if ack {
		a.Acknowledged = true
	}
	if a.ResolvedAt == nil {
		now := e.clock.Now()
		a.ResolvedAt = &now
	}
	return nil
}

// Alerts returns every alert, most recent first.
func (e *Engine) Alerts() []Alert {
	return e.queryAlerts(func(Alert) bool { return true })
}

// ActiveAlerts returns alerts that are neither acknowledged nor resolved,
// most recent first.
func (e *Engine) ActiveAlerts() []Alert {
	return e.queryAlerts(Alert.Active)
}

func (e *Engine) queryAlerts(keep func(Alert) bool) []Alert {
	e.smu.RLock()
	defer e.smu.RUnlock()
	out := []Alert{}
	for i := len(e.stream.alerts) - 1; i >= 0; i-- {
		if a := e.stream.alerts[i]; keep(a) {
			out = append(out, cloneAlert(a))
		}
	}
	return out
}

// StreamingStatus summarizes streaming state. CriticalAlerts counts active
// critical alerts.
func (e *Engine) StreamingStatus() StreamingStatus {
	e.smu.RLock()
	defer e.smu.RUnlock()

	st := StreamingStatus{
		Enabled:       e.stream.enabled,
		TotalAlerts:   len(e.stream.alerts),
		LastProcessed: e.stream.lastProcessed,
		QueueDepth:    e.stream.queue.len(),
	}
	for _, a := range e.stream.alerts {
		if !a.Active() {
			continue
		}
		st.ActiveAlerts++
		if a.Severity == SeverityCritical {
			st.CriticalAlerts++
		}
	}
	return st
}
