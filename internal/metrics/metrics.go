// Package metrics instruments the intelligence engines with Prometheus.
//
// A nil *Metrics is valid and records nothing, so engines can be built
// without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "insight"

// Metrics holds all Prometheus collectors for the engines.
type Metrics struct {
	EventsAppended   prometheus.Counter
	EventsEvicted    prometheus.Counter
	EventsCompressed prometheus.Counter
	EventsPruned     prometheus.Counter
	MemoryEvents     prometheus.Gauge
	Findings         *prometheus.CounterVec
	Alerts           *prometheus.CounterVec
	LinksRegistered  prometheus.Counter
	LinksRejected    *prometheus.CounterVec
	CausalLinks      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// Pass prometheus.NewRegistry() in tests to keep instances isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "events_appended_total",
			Help:      "Total number of events appended to the memory store.",
		}),
		EventsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "events_evicted_total",
			Help:      "Total number of events evicted on capacity overflow.",
		}),
		EventsCompressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "events_compressed_total",
			Help:      "Total number of events folded into summary events.",
		}),
		EventsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "events_pruned_total",
			Help:      "Total number of events removed by time-based pruning.",
		}),
		MemoryEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "events",
			Help:      "Current number of events held in the memory store.",
		}),
		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "findings_total",
			Help:      "Total number of findings produced by batch analysis.",
		}, []string{"severity"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "alerts_total",
			Help:      "Total number of real-time alerts raised.",
		}, []string{"type", "severity"}),
		LinksRegistered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "links_registered_total",
			Help:      "Total number of trace links accepted.",
		}),
		LinksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "links_rejected_total",
			Help:      "Total number of trace or causal links rejected by validation.",
		}, []string{"code"}),
		CausalLinks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "causal_links_total",
			Help:      "Total number of causal links recorded.",
		}, []string{"relationship"}),
	}
}

// EventAppended records one append and the resulting store size.
func (m *Metrics) EventAppended(size int) {
	if m == nil {
		return
	}
	m.EventsAppended.Inc()
	m.MemoryEvents.Set(float64(size))
}

// EventsRemoved records events leaving the store. reason is one of
// "evicted", "compressed" or "pruned".
func (m *Metrics) EventsRemoved(reason string, n, size int) {
	if m == nil {
		return
	}
	switch reason {
	case "evicted":
		m.EventsEvicted.Add(float64(n))
	case "compressed":
		m.EventsCompressed.Add(float64(n))
	case "pruned":
		m.EventsPruned.Add(float64(n))
	}
	m.MemoryEvents.Set(float64(size))
}

// FindingProduced records a finding by severity.
func (m *Metrics) FindingProduced(severity string) {
	if m == nil {
		return
	}
	m.Findings.WithLabelValues(severity).Inc()
}

// AlertRaised records a real-time alert.
func (m *Metrics) AlertRaised(alertType, severity string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(alertType, severity).Inc()
}

// LinkRegistered records an accepted trace link.
func (m *Metrics) LinkRegistered() {
	if m == nil {
		return
	}
	m.LinksRegistered.Inc()
}

// LinkRejected records a validation failure by error code.
func (m *Metrics) LinkRejected(code string) {
	if m == nil {
		return
	}
	m.LinksRejected.WithLabelValues(code).Inc()
}

// CausalLinkRecorded records an inferred or registered causal edge.
func (m *Metrics) CausalLinkRecorded(relationship string) {
	if m == nil {
		return
	}
	m.CausalLinks.WithLabelValues(relationship).Inc()
}
