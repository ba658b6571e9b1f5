package reasoning

import (
	"fmt"
	"math"

	"github.com/roach88/insight/internal/memory"
)

// DetectorKind identifies one detector in the batch battery.
type DetectorKind int

const (
	DetectWalletDrain DetectorKind = iota + 1
	DetectEscrowFailures
	DetectGovernanceInactivity
	DetectLatencySpike
	DetectErrorCluster
	DetectCrossModule
	DetectStatisticalAnomaly
	DetectTrendPrediction
)

// DetectorOrder is the fixed evaluation order of the battery. When several
// detectors fire with the same severity, the one listed first here wins.
// This ordering is part of the engine's contract; do not reorder casually.
var DetectorOrder = []DetectorKind{
	DetectWalletDrain,
	DetectEscrowFailures,
	DetectGovernanceInactivity,
	DetectLatencySpike,
	DetectErrorCluster,
	DetectCrossModule,
	DetectStatisticalAnomaly,
	DetectTrendPrediction,
}

func (k DetectorKind) String() string {
	switch k {
	case DetectWalletDrain:
		return "wallet_drain"
	case DetectEscrowFailures:
		return "escrow_failure_cluster"
	case DetectGovernanceInactivity:
		return "governance_inactivity"
	case DetectLatencySpike:
		return "latency_spike"
	case DetectErrorCluster:
		return "repeated_error_cluster"
	case DetectCrossModule:
		return "cross_module_correlation"
	case DetectStatisticalAnomaly:
		return "statistical_anomaly"
	case DetectTrendPrediction:
		return "trend_prediction"
	default:
		return fmt.Sprintf("detector(%d)", int(k))
	}
}

// candidate is a detector's proposed finding before id and time are assigned.
type candidate struct {
	detector    DetectorKind
	title       string
	description string
	severity    Severity
	traceIDs    []string
	tags        []string
	sources     []int64
}

// detect dispatches one detector. Callers hold e.mu.
func (e *Engine) detect(k DetectorKind, w *window) (candidate, bool) {
	switch k {
	case DetectWalletDrain:
		return detectWalletDrain(w, e.policy)
	case DetectEscrowFailures:
		return detectEscrowFailures(w, e.policy)
	case DetectGovernanceInactivity:
		return detectGovernanceInactivity(w, e.policy)
	case DetectLatencySpike:
		return detectLatencySpike(w, e.policy)
	case DetectErrorCluster:
		return detectErrorCluster(w, e.policy)
	case DetectCrossModule:
		return detectCrossModule(w, e.policy)
	case DetectStatisticalAnomaly:
		return e.detectStatisticalAnomaly(w)
	case DetectTrendPrediction:
		return e.detectTrend(w)
	default:
		return candidate{}, false
	}
}

// selectCandidate returns the highest-priority candidate. A later candidate
// replaces the current best only with strictly greater priority, so ties go
// to the earlier entry in DetectorOrder.
func selectCandidate(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.severity.Priority() > best.severity.Priority() {
			best = c
		}
	}
	return best, true
}

// detectWalletDrain looks for the largest cluster of financial events on one
// trace that fits inside the drain window.
func detectWalletDrain(w *window, p Policy) (candidate, bool) {
	groups := w.byTrace(isFinancial)

	var bestTrace string
	var best []memory.Event
	for _, trace := range sortedKeys(groups) {
		events := groups[trace]
		lo := 0
		for hi := range events {
			for events[hi].Timestamp.Sub(events[lo].Timestamp) > p.DrainWindow {
				lo++
			}
			if n := hi - lo + 1; n > len(best) {
				best = events[lo : hi+1]
				bestTrace = trace
			}
		}
	}
	if len(best) < p.DrainMinEvents {
		return candidate{}, false
	}

	span := best[len(best)-1].Timestamp.Sub(best[0].Timestamp)
	return candidate{
		detector: DetectWalletDrain,
		title:    "Potential Wallet Drain Detected",
		description: fmt.Sprintf("%d financial events on trace %s within %s",
			len(best), bestTrace, span),
		severity: SeverityCritical,
		traceIDs: []string{bestTrace},
		tags:     []string{CategoryFinancial, "wallet_drain", "security"},
		sources:  sourceIDs(best),
	}, true
}

func detectEscrowFailures(w *window, p Policy) (candidate, bool) {
	escrow := w.filter(func(e memory.Event) bool { return inCategory(e, CategoryEscrow) })
	if len(escrow) < p.EscrowMinEvents {
		return candidate{}, false
	}
	failures := w.within(p.EscrowWindow, func(e memory.Event) bool {
		return inCategory(e, CategoryEscrow) && containsAny(e.Summary, escrowFailureMarkers)
	})
	if len(failures) < p.EscrowMinFailures {
		return candidate{}, false
	}
	return candidate{
		detector: DetectEscrowFailures,
		title:    "Escrow Failure Cluster",
		description: fmt.Sprintf("%d of %d escrow events failed or were cancelled in the last %s",
			len(failures), len(escrow), p.EscrowWindow),
		severity: SeverityWarning,
		traceIDs: traceIDs(failures),
		tags:     []string{CategoryEscrow, "failure_cluster"},
		sources:  sourceIDs(failures),
	}, true
}

func detectGovernanceInactivity(w *window, p Policy) (candidate, bool) {
	gov := w.filter(func(e memory.Event) bool { return inCategory(e, CategoryGovernance) })
	if len(gov) == 0 {
		return candidate{}, false
	}
	cutoff := w.now.Add(-p.GovernanceInactivity)
	oldest := gov[0]
	for _, e := range gov {
		if e.Timestamp.After(cutoff) {
			return candidate{}, false
		}
		if e.Timestamp.Before(oldest.Timestamp) {
			oldest = e
		}
	}
	hours := w.now.Sub(oldest.Timestamp).Hours()
	return candidate{
		detector: DetectGovernanceInactivity,
		title:    "Governance Inactivity Detected",
		description: fmt.Sprintf("no governance activity in the last %s; oldest stale event is %.1f hours old",
			p.GovernanceInactivity, hours),
		severity: SeverityWarning,
		traceIDs: traceIDs(gov),
		tags:     []string{CategoryGovernance, "inactivity"},
		sources:  sourceIDs(gov),
	}, true
}

func detectLatencySpike(w *window, p Policy) (candidate, bool) {
	slow := w.within(p.LatencyWindow, isLatency)
	if len(slow) < p.LatencyMinEvents {
		return candidate{}, false
	}
	return candidate{
		detector:    DetectLatencySpike,
		title:       "Latency Spike Detected",
		description: fmt.Sprintf("%d latency or timeout events in the last %s", len(slow), p.LatencyWindow),
		severity:    SeverityWarning,
		traceIDs:    traceIDs(slow),
		tags:        []string{CategoryPerformance, "latency"},
		sources:     sourceIDs(slow),
	}, true
}

func detectErrorCluster(w *window, p Policy) (candidate, bool) {
	byCategory := make(map[string][]memory.Event)
	for _, e := range w.within(p.ErrorClusterWindow, isErrorMarked) {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	var cat string
	var best []memory.Event
	for _, c := range sortedKeys(byCategory) {
		if len(byCategory[c]) > len(best) {
			cat, best = c, byCategory[c]
		}
	}
	if len(best) < p.ErrorClusterMin {
		return candidate{}, false
	}
	return candidate{
		detector: DetectErrorCluster,
		title:    "Repeated Error Cluster",
		description: fmt.Sprintf("%d errors in category %s within %s",
			len(best), cat, p.ErrorClusterWindow),
		severity: SeverityCritical,
		traceIDs: traceIDs(best),
		tags:     []string{"error_cluster", cat},
		sources:  sourceIDs(best),
	}, true
}

func detectCrossModule(w *window, p Policy) (candidate, bool) {
	groups := w.byTrace(func(memory.Event) bool { return true })

	var bestTrace string
	var bestErrors []memory.Event
	var bestCategories int
	for _, trace := range sortedKeys(groups) {
		categories := make(map[string]bool)
		var errs []memory.Event
		for _, e := range groups[trace] {
			categories[e.Category] = true
			if isErrorMarked(e) {
				errs = append(errs, e)
			}
		}
		if len(categories) < p.CrossModuleMinCategories || len(errs) < p.CrossModuleMinErrors {
			continue
		}
		if len(errs) > len(bestErrors) {
			bestTrace, bestErrors, bestCategories = trace, errs, len(categories)
		}
	}
	if bestTrace == "" {
		return candidate{}, false
	}
	return candidate{
		detector: DetectCrossModule,
		title:    "Cross-Module Failure Correlation",
		description: fmt.Sprintf("trace %s spans %d modules with %d error events",
			bestTrace, bestCategories, len(bestErrors)),
		severity: SeverityWarning,
		traceIDs: []string{bestTrace},
		tags:     []string{"cross_module", "correlation"},
		sources:  sourceIDs(groups[bestTrace]),
	}, true
}

// detectStatisticalAnomaly compares each category's last-hour count with its
// baseline. Categories need AnomalyMinHistory stored events and a baseline
// with a non-zero deviation to be scored.
func (e *Engine) detectStatisticalAnomaly(w *window) (candidate, bool) {
	history := make(map[string][]memory.Event)
	for _, ev := range e.source.QueryAll() {
		history[ev.Category] = append(history[ev.Category], ev)
	}

	var best candidate
	bestZ := 0.0
	found := false
	for _, cat := range sortedKeys(history) {
		events := history[cat]
		if len(events) < e.policy.AnomalyMinHistory {
			continue
		}
		b := e.baselineLocked(cat, events, w.now)
		if b.SampleSize < 2 || b.StdDeviation == 0 {
			continue
		}

		from := w.now.Add(-bucketWidth)
		var current []memory.Event
		for _, ev := range events {
			if ev.Timestamp.After(from) && !ev.Timestamp.After(w.now) {
				current = append(current, ev)
			}
		}

		z := (float64(len(current)) - b.MeanFrequency) / b.StdDeviation
		if math.Abs(z) < e.policy.AnomalyWarningZ || math.Abs(z) <= bestZ {
			continue
		}

		direction := "spike"
		if z < 0 {
			direction = "drop"
		}
		sev := SeverityWarning
		if math.Abs(z) >= e.policy.AnomalyCriticalZ {
			sev = SeverityCritical
		}
		best = candidate{
			detector: DetectStatisticalAnomaly,
			title:    "Statistical Anomaly Detected",
			description: fmt.Sprintf("%s activity %s: %d events in the last hour vs baseline %.2f±%.2f (z=%.2f)",
				cat, direction, len(current), b.MeanFrequency, b.StdDeviation, z),
			severity: sev,
			traceIDs: traceIDs(current),
			tags:     []string{"anomaly", direction, cat},
			sources:  sourceIDs(current),
		}
		bestZ = math.Abs(z)
		found = true
	}
	return best, found
}
