package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/insight/internal/clock"
	"github.com/roach88/insight/internal/engine"
	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// populatedEngine builds a host with events, causal edges, findings, a
// manual causal link, and a cached summary.
func populatedEngine(t *testing.T) *engine.Engine {
	t.Helper()
	clk := clock.NewManual(t0)
	e := engine.New(engine.WithClock(clk))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Ingest(ctx, engine.Ingest{
			Category:  reasoning.CategoryFinancial,
			TraceID:   "T1",
			Summary:   "transfer 100 XRP",
			Payload:   []byte(`{"amount":100}`),
			Source:    "wallet",
			Principal: "alice",
			Tags:      []string{"transfer"},
		})
		require.NoError(t, err)
		clk.Advance(20*time.Second + 123*time.Nanosecond)
	}
	_, err := e.Ingest(ctx, engine.Ingest{Category: "router", Summary: "route ok"})
	require.NoError(t, err)

	f := e.Analyze(ctx, reasoning.AnalyzeOptions{})
	require.Equal(t, "Potential Wallet Drain Detected", f.Title)

	_, err = e.RegisterLink(trace.Link{
		TraceID:   "T2",
		EntryID:   "audit-7",
		EntryType: trace.EntryAudit,
		Timestamp: t0.Add(time.Minute),
		Source:    "audit",
		Tags:      []string{"review"},
	})
	require.NoError(t, err)
	require.NoError(t, e.RegisterCausalLink(trace.CausalLink{
		FromEntryID: "audit-7",
		ToEntryID:   "ticket-9",
		TraceID:     "T2",
		Confidence:  0.4,
		Description: "manual",
	}))
	e.Traces().Summarize("T1")
	return e
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := populatedEngine(t)
	snap := src.Snapshot()
	require.NotEmpty(t, snap.Traces.CausalLinks)
	require.NotEmpty(t, snap.Traces.Summaries)

	require.NoError(t, s.SaveSnapshot(ctx, snap))
	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)

	dst := engine.New(engine.WithClock(clock.NewManual(t0)))
	require.NoError(t, dst.Restore(loaded))

	assert.Equal(t, src.Memory().QueryAll(), dst.Memory().QueryAll())
	assert.Equal(t, src.Memory().QueryByTrace("T1"), dst.Memory().QueryByTrace("T1"))
	assert.Equal(t, src.Reasoning().AllFindings(), dst.Reasoning().AllFindings())
	srcTrace, _ := src.Traces().Trace("T1")
	dstTrace, _ := dst.Traces().Trace("T1")
	assert.Equal(t, srcTrace, dstTrace)
	assert.Equal(t, src.Traces().Summarize("T2"), dst.Traces().Summarize("T2"))
	assert.Equal(t, src.Traces().Analytics(), dst.Traces().Analytics())
}

func TestSnapshot_SaveReplacesPreviousState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, populatedEngine(t).Snapshot()))

	small := engine.New(engine.WithClock(clock.NewManual(t0)))
	_, err := small.Ingest(ctx, engine.Ingest{Category: "router", Summary: "only"})
	require.NoError(t, err)
	want := small.Snapshot()
	require.NoError(t, s.SaveSnapshot(ctx, want))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Events: 1, MemoryLastID: 1}, st)
}

func TestSnapshot_EmptyDatabase(t *testing.T) {
	s := createTestStore(t)

	got, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Memory.Events)
	assert.NotNil(t, got.Memory.Events)
	assert.Zero(t, got.Memory.LastID)
	assert.NotNil(t, got.Findings.Findings)
	assert.NotNil(t, got.Traces.Links)
	assert.NotNil(t, got.Traces.CausalLinks)
	assert.NotNil(t, got.Traces.Summaries)

	// An empty snapshot restores cleanly.
	require.NoError(t, engine.New().Restore(got))
}

func TestSnapshot_CountersSurviveEviction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := engine.New(engine.WithClock(clock.NewManual(t0)), engine.WithMaxEvents(2))
	for i := 0; i < 5; i++ {
		_, err := e.Ingest(ctx, engine.Ingest{Category: "router", Summary: "route"})
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveSnapshot(ctx, e.Snapshot()))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Events)
	assert.Equal(t, int64(5), st.MemoryLastID)

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	dst := engine.New(engine.WithClock(clock.NewManual(t0)), engine.WithMaxEvents(2))
	require.NoError(t, dst.Restore(loaded))
	res, err := dst.Ingest(ctx, engine.Ingest{Category: "router", Summary: "route"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Event.ID)
}

func TestSnapshot_SaveIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	want := populatedEngine(t).Snapshot()
	require.NoError(t, s.SaveSnapshot(ctx, want))

	// A duplicate link violates UNIQUE(trace_id, entry_id) mid-transaction.
	bad := want
	bad.Traces.Links = append(append([]trace.Link{}, want.Traces.Links...), want.Traces.Links[0])
	require.Error(t, s.SaveSnapshot(ctx, bad))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTimeFormat_RoundTripAndOrder(t *testing.T) {
	a := t0.Add(123 * time.Nanosecond)
	b := t0.Add(time.Second)

	got, err := parseTime(formatTime(a))
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Less(t, formatTime(a), formatTime(b))

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}
