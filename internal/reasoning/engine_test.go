package reasoning

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/insight/internal/clock"
	"github.com/roach88/insight/internal/memory"
	"github.com/roach88/insight/internal/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	engine *Engine
	clock  *clock.Manual
}

// newFixture wires a memory store and an engine to one manual clock.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	s := memory.New(memory.WithClock(clk))
	e := New(s, append([]Option{WithClock(clk)}, opts...)...)
	return &fixture{store: s, engine: e, clock: clk}
}

func (f *fixture) append(category, trace, summary string) memory.Event {
	return f.store.Append(category, trace, summary, nil)
}

func (f *fixture) analyze() Finding {
	return f.engine.Analyze(context.Background(), AnalyzeOptions{})
}

func TestAnalyze_WalletDrainEndToEnd(t *testing.T) {
	f := newFixture(t)

	f.append(CategoryFinancial, "T1", "transfer 100 XRP")
	f.clock.Advance(20 * time.Second)
	f.append(CategoryFinancial, "T1", "transfer 250 XRP")
	f.clock.Advance(25 * time.Second)
	f.append(CategoryFinancial, "T1", "transfer 900 XRP")

	got := f.analyze()

	assert.Equal(t, "Potential Wallet Drain Detected", got.Title)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, []int64{1, 2, 3}, got.SourceEventIDs)
	assert.Equal(t, []string{"T1"}, got.TraceIDs)
	assert.Equal(t, "wallet_drain", got.Detector)
	assert.True(t, got.HasTag("security"))
}

func TestAnalyze_WalletDrainNeedsOneMinuteSpan(t *testing.T) {
	f := newFixture(t)

	f.append(CategoryFinancial, "T1", "transfer")
	f.clock.Advance(40 * time.Second)
	f.append(CategoryFinancial, "T1", "transfer")
	f.clock.Advance(40 * time.Second)
	f.append(CategoryFinancial, "T1", "transfer")
	f.append(CategoryFinancial, "T2", "transfer")

	got := f.analyze()
	assert.Equal(t, "System Normal", got.Title)
	assert.Empty(t, got.SourceEventIDs)
}

func TestAnalyze_ErrorClusterBoundary(t *testing.T) {
	tests := []struct {
		name  string
		count int
		title string
		sev   Severity
		cites int
	}{
		{"four does not fire", 4, "System Normal", SeverityInfo, 0},
		{"five fires critical", 5, "Repeated Error Cluster", SeverityCritical, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for i := 0; i < tt.count; i++ {
				f.append("payments", "", "payment error")
				f.clock.Advance(time.Minute)
			}

			got := f.analyze()
			assert.Equal(t, tt.title, got.Title)
			assert.Equal(t, tt.sev, got.Severity)
			assert.Len(t, got.SourceEventIDs, tt.cites)
		})
	}
}

func TestAnalyze_ErrorClusterIgnoresOldErrors(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.append("payments", "", "payment error")
	}
	f.clock.Advance(10 * time.Minute)

	got := f.analyze()
	assert.NotEqual(t, "Repeated Error Cluster", got.Title)
}

func TestAnalyze_ZScoreBoundary(t *testing.T) {
	tests := []struct {
		name  string
		count int
		sev   Severity
	}{
		{"z 2.5 is warning", 15, SeverityWarning},
		{"z 3.0 is critical", 16, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for i := 0; i < tt.count; i++ {
				f.append("payments", "", "payment processed")
				f.clock.Advance(time.Minute)
			}
			f.engine.SetBaseline(Baseline{
				Category:      "payments",
				MeanFrequency: 10,
				StdDeviation:  2,
				SampleSize:    24,
				LastComputed:  f.clock.Now(),
			})

			got := f.analyze()
			assert.Equal(t, "Statistical Anomaly Detected", got.Title)
			assert.Equal(t, tt.sev, got.Severity)
			assert.True(t, got.HasTag("spike"))
			assert.Len(t, got.SourceEventIDs, tt.count)
		})
	}
}

func TestAnalyze_AnomalyNeedsHistoryAndSpread(t *testing.T) {
	t.Run("too few events", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 9; i++ {
			f.append("payments", "", "payment processed")
		}
		f.engine.SetBaseline(Baseline{Category: "payments", MeanFrequency: 1, StdDeviation: 1, SampleSize: 24, LastComputed: f.clock.Now()})
		assert.Equal(t, "System Normal", f.analyze().Title)
	})

	t.Run("zero deviation", func(t *testing.T) {
		f := newFixture(t)
		for i := 0; i < 12; i++ {
			f.append("payments", "", "payment processed")
		}
		f.engine.SetBaseline(Baseline{Category: "payments", MeanFrequency: 1, StdDeviation: 0, SampleSize: 24, LastComputed: f.clock.Now()})
		assert.Equal(t, "System Normal", f.analyze().Title)
	})
}

func TestAnalyze_StaleBaselineIsRebuilt(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.append("payments", "", "payment processed")
	}
	f.clock.Advance(3 * time.Hour)
	f.engine.SetBaseline(Baseline{Category: "payments", MeanFrequency: 99, StdDeviation: 1, SampleSize: 5, LastComputed: t0})

	f.analyze()

	b, ok := f.engine.Baseline("payments")
	require.True(t, ok)
	assert.Equal(t, f.clock.Now(), b.LastComputed)
	assert.Equal(t, 3, b.SampleSize)
	assert.InDelta(t, 10.0/3, b.MeanFrequency, 1e-9)
}

func TestComputeBaseline_IncludesEmptyHours(t *testing.T) {
	at := func(h, m int) memory.Event {
		return memory.Event{Category: "c", Timestamp: t0.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)}
	}
	events := []memory.Event{at(0, 1), at(0, 30), at(2, 5), at(2, 6), at(2, 7), at(2, 8), at(3, 1)}
	now := t0.Add(3*time.Hour + 10*time.Minute)

	b := computeBaseline("c", events, now)

	// Buckets end at 2:10: (1:10,2:10]=4, (0:10,1:10]=1, (-0:50,0:10]=1.
	assert.Equal(t, 3, b.SampleSize)
	assert.InDelta(t, 2.0, b.MeanFrequency, 1e-9)
	assert.InDelta(t, math.Sqrt(2.0), b.StdDeviation, 1e-9)
	assert.Equal(t, now, b.LastComputed)
}

func TestComputeBaseline_ExcludesScoredHour(t *testing.T) {
	var events []memory.Event
	// One event per hour for five hours, then a burst of 20 starting at 4:40.
	for h := 0; h < 5; h++ {
		events = append(events, memory.Event{Category: "c", Timestamp: t0.Add(time.Duration(h) * time.Hour)})
	}
	for i := 0; i < 20; i++ {
		events = append(events, memory.Event{Category: "c", Timestamp: t0.Add(4*time.Hour + 40*time.Minute + time.Duration(i)*time.Minute)})
	}
	// The burst shares clock hour 4 with a baseline event but lies inside
	// the scored span (4:30, 5:30].
	now := t0.Add(5*time.Hour + 30*time.Minute)

	b := computeBaseline("c", events, now)

	assert.Equal(t, 5, b.SampleSize)
	assert.InDelta(t, 1.0, b.MeanFrequency, 1e-9)
	assert.Zero(t, b.StdDeviation)
}

func TestComputeBaseline_NoCompletedHours(t *testing.T) {
	events := []memory.Event{{Category: "c", Timestamp: t0.Add(5 * time.Minute)}}
	b := computeBaseline("c", events, t0.Add(10*time.Minute))
	assert.Zero(t, b.SampleSize)
}

func TestAnalyze_TrendPrediction(t *testing.T) {
	f := newFixture(t)
	for _, s := range []string{"slow response", "slow response", "slow response", "payment error", "critical failure"} {
		f.append("api", "", s)
		f.clock.Advance(10 * time.Minute)
	}
	f.clock.Set(t0.Add(40 * time.Minute))

	got := f.analyze()

	assert.Equal(t, "Escalating Trend Predicted", got.Title)
	assert.Equal(t, SeverityWarning, got.Severity)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got.SourceEventIDs)
	assert.Contains(t, got.Description, "predicted 5.60")
}

func TestFitTrend(t *testing.T) {
	pts := []trendPoint{
		{at: t0, value: 1},
		{at: t0.Add(10 * time.Minute), value: 1},
		{at: t0.Add(20 * time.Minute), value: 1},
		{at: t0.Add(30 * time.Minute), value: 2},
		{at: t0.Add(40 * time.Minute), value: 3},
	}
	fit, ok := fitTrend(pts)
	require.True(t, ok)
	assert.InDelta(t, 3.0, fit.slope, 1e-9)
	assert.InDelta(t, 1.6, fit.mean, 1e-9)
	assert.InDelta(t, 5.6, fit.predict(time.Hour), 1e-9)

	_, ok = fitTrend([]trendPoint{{at: t0, value: 1}, {at: t0, value: 2}})
	assert.False(t, ok, "identical timestamps have no slope")
}

func TestAnalyze_IdempotentOnFrozenClock(t *testing.T) {
	f := newFixture(t)
	for _, s := range []string{"slow response", "slow response", "slow response", "payment error", "critical failure"} {
		f.append("api", "", s)
		f.clock.Advance(10 * time.Minute)
	}
	f.append("governance", "", "proposal opened")

	first := f.analyze()
	second := f.analyze()

	assert.Equal(t, first.ID+1, second.ID)
	first.ID, second.ID = 0, 0
	assert.Equal(t, first, second)
}

func TestAnalyze_TieGoesToEarlierDetector(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.append(CategoryEscrow, "", "escrow cancelled")
	}
	for i := 0; i < 3; i++ {
		f.append(CategoryPerformance, "", "latency high")
	}

	got := f.analyze()
	assert.Equal(t, "Escrow Failure Cluster", got.Title)
	assert.Equal(t, SeverityWarning, got.Severity)

	// A critical detector outranks both regardless of order.
	for i := 0; i < 3; i++ {
		f.append(CategoryFinancial, "T1", "withdraw")
	}
	got = f.analyze()
	assert.Equal(t, "Potential Wallet Drain Detected", got.Title)
}

func TestAnalyze_EscrowFailureThresholds(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		fires   bool
		sources int
	}{
		{"four failures of five events", func(f *fixture) {
			f.append(CategoryEscrow, "", "escrow funded")
			for i := 0; i < 4; i++ {
				f.append(CategoryEscrow, "", "escrow cancelled")
			}
		}, false, 0},
		{"four events all failing", func(f *fixture) {
			for i := 0; i < 4; i++ {
				f.append(CategoryEscrow, "", "escrow release failed")
			}
		}, false, 0},
		{"failures older than the window", func(f *fixture) {
			for i := 0; i < 5; i++ {
				f.append(CategoryEscrow, "", "escrow cancelled")
			}
			f.clock.Advance(6 * time.Minute)
			f.append(CategoryEscrow, "", "escrow cancelled")
		}, false, 0},
		{"five fresh failures", func(f *fixture) {
			f.append(CategoryEscrow, "", "escrow funded")
			for i := 0; i < 5; i++ {
				f.append(CategoryEscrow, "", "escrow cancelled")
				f.clock.Advance(30 * time.Second)
			}
		}, true, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			got := f.analyze()
			if !tt.fires {
				assert.Equal(t, "System Normal", got.Title)
				return
			}
			assert.Equal(t, "Escrow Failure Cluster", got.Title)
			assert.Equal(t, SeverityWarning, got.Severity)
			assert.Equal(t, "escrow_failure_cluster", got.Detector)
			assert.Len(t, got.SourceEventIDs, tt.sources)
		})
	}
}

func TestSelectCandidate(t *testing.T) {
	cands := []candidate{
		{detector: DetectEscrowFailures, severity: SeverityWarning},
		{detector: DetectLatencySpike, severity: SeverityWarning},
		{detector: DetectTrendPrediction, severity: SeverityInfo},
	}
	best, ok := selectCandidate(cands)
	require.True(t, ok)
	assert.Equal(t, DetectEscrowFailures, best.detector)

	cands = append(cands, candidate{detector: DetectStatisticalAnomaly, severity: SeverityCritical})
	best, _ = selectCandidate(cands)
	assert.Equal(t, DetectStatisticalAnomaly, best.detector)

	_, ok = selectCandidate(nil)
	assert.False(t, ok)
}

func TestAnalyze_GovernanceInactivity(t *testing.T) {
	f := newFixture(t)
	f.append(CategoryGovernance, "", "proposal opened")

	f.clock.Advance(30 * time.Minute)
	assert.Equal(t, "System Normal", f.analyze().Title)

	f.clock.Advance(90 * time.Minute)
	got := f.analyze()
	assert.Equal(t, "Governance Inactivity Detected", got.Title)
	assert.Equal(t, SeverityWarning, got.Severity)
	assert.Contains(t, got.Description, "2.0 hours")
}

func TestAnalyze_CrossModuleCorrelation(t *testing.T) {
	f := newFixture(t)
	f.append("wallet", "T9", "wallet error")
	f.append("payment", "T9", "payment failed")
	f.append("payment", "T8", "payment failed")

	got := f.analyze()
	assert.Equal(t, "Cross-Module Failure Correlation", got.Title)
	assert.Equal(t, []string{"T9"}, got.TraceIDs)
	assert.Equal(t, []int64{1, 2}, got.SourceEventIDs)
}

func TestAnalyze_LatencySpike(t *testing.T) {
	f := newFixture(t)
	f.append(CategoryTimeout, "", "upstream")
	f.append("api", "", "request timeout")
	f.append(CategoryLatency, "", "p99 high")

	got := f.analyze()
	assert.Equal(t, "Latency Spike Detected", got.Title)
	assert.Equal(t, []int64{1, 2, 3}, got.SourceEventIDs)
}

func TestAnalyze_WindowSelection(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.append(CategoryFinancial, "T1", "transfer")
		f.clock.Advance(10 * time.Second)
	}
	f.clock.Advance(time.Minute)
	for i := 0; i < 2; i++ {
		f.append("noise", "", "heartbeat")
	}

	ctx := context.Background()
	assert.Equal(t, "System Normal", f.engine.Analyze(ctx, AnalyzeOptions{Max: 2}).Title)

	since := t0.Add(15 * time.Second)
	assert.Equal(t, "System Normal", f.engine.Analyze(ctx, AnalyzeOptions{Since: &since}).Title)

	since = t0
	assert.Equal(t, "System Normal", f.engine.Analyze(ctx, AnalyzeOptions{Since: &since, Max: 4}).Title)
	assert.Equal(t, "Potential Wallet Drain Detected", f.engine.Analyze(ctx, AnalyzeOptions{Since: &since, Max: 5}).Title)
}

func TestFindingsLog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := newFixture(t, WithFindingCapacity(3), WithMetrics(m))

	for i := 0; i < 5; i++ {
		f.analyze()
	}

	all := f.engine.AllFindings()
	require.Len(t, all, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})

	recent := f.engine.RecentFindings(2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(5), recent[0].ID)
	assert.Empty(t, f.engine.RecentFindings(0))

	assert.Len(t, f.engine.FindingsBySeverity(SeverityInfo), 3)
	assert.Empty(t, f.engine.FindingsBySeverity(SeverityCritical))
	assert.Len(t, f.engine.FindingsByTag("normal"), 3)
	assert.Empty(t, f.engine.FindingsByTag("security"))

	assert.Equal(t, 5.0, testutil.ToFloat64(m.Findings.WithLabelValues("info")))
}

func TestFindingsSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	f.append(CategoryFinancial, "T1", "a")
	f.append(CategoryFinancial, "T1", "b")
	f.append(CategoryFinancial, "T1", "c")
	f.analyze()
	f.analyze()
	snap := f.engine.FindingsSnapshot()
	require.Len(t, snap.Findings, 2)
	assert.Equal(t, int64(2), snap.LastID)

	other := newFixture(t)
	require.NoError(t, other.engine.RestoreFindings(snap))
	assert.Equal(t, f.engine.AllFindings(), other.engine.AllFindings())
	assert.Equal(t, int64(3), other.analyze().ID)

	bad := FindingsSnapshot{Findings: []Finding{{ID: 4}}, LastID: 3}
	assert.ErrorIs(t, other.engine.RestoreFindings(bad), ErrInvalidSnapshot)
	bad = FindingsSnapshot{Findings: []Finding{{ID: 2}, {ID: 1}}, LastID: 3}
	assert.ErrorIs(t, other.engine.RestoreFindings(bad), ErrInvalidSnapshot)
}

func TestFindingsAreCopies(t *testing.T) {
	f := newFixture(t)
	f.append(CategoryFinancial, "T1", "a")
	f.append(CategoryFinancial, "T1", "b")
	f.append(CategoryFinancial, "T1", "c")
	got := f.analyze()
	got.SourceEventIDs[0] = 99
	got.Tags[0] = "mutated"

	stored := f.engine.AllFindings()[0]
	assert.Equal(t, int64(1), stored.SourceEventIDs[0])
	assert.Equal(t, CategoryFinancial, stored.Tags[0])
}

func TestSeverityText(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back Severity
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	_, err := Severity(0).MarshalText()
	assert.Error(t, err)
	_, err = ParseSeverity("emergency")
	assert.Error(t, err)
}
