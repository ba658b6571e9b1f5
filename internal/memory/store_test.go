package memory

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/insight/internal/clock"
	"github.com/roach88/insight/internal/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestStore creates a store on a manual clock frozen at t0.
func newTestStore(t *testing.T, opts ...Option) (*Store, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	s := New(append([]Option{WithClock(clk)}, opts...)...)
	return s, clk
}

func ids(events []Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestAppend_AssignsIDAndTimestamp(t *testing.T) {
	s, clk := newTestStore(t)

	e1 := s.Append("financial", "T1", "deposit", []byte("abc"))
	clk.Advance(time.Second)
	e2 := s.Append("escrow", "", "escrow opened", nil)

	assert.Equal(t, int64(1), e1.ID)
	assert.Equal(t, int64(2), e2.ID)
	assert.Equal(t, t0, e1.Timestamp)
	assert.Equal(t, t0.Add(time.Second), e2.Timestamp)
	assert.True(t, e1.HasTrace())
	assert.False(t, e2.HasTrace())
	assert.Equal(t, 2, s.Len())
}

func TestAppend_CopiesPayload(t *testing.T) {
	s, _ := newTestStore(t)
	buf := []byte("original")
	ev := s.Append("financial", "", "x", buf)
	buf[0] = 'X'

	got, ok := s.Get(ev.ID)
	require.True(t, ok)
	assert.Equal(t, "original", string(got.Payload))
}

func TestEviction_KeepsMostRecent(t *testing.T) {
	const max = 10
	s, clk := newTestStore(t, WithMaxEvents(max))

	for i := 0; i < 25; i++ {
		s.Append("governance", "", fmt.Sprintf("vote %d", i), nil)
		clk.Advance(time.Second)
	}

	require.Equal(t, max, s.Len())
	all := s.QueryAll()
	// Most recent 10 of ids 1..25 are 16..25.
	assert.Equal(t, []int64{25, 24, 23, 22, 21, 20, 19, 18, 17, 16}, ids(all))
}

func TestEviction_ByTimestampNotInsertion(t *testing.T) {
	s, clk := newTestStore(t, WithMaxEvents(2))

	clk.Set(t0.Add(10 * time.Second))
	late := s.Append("a", "", "late", nil)
	clk.Set(t0)
	early := s.Append("a", "", "early", nil)
	clk.Set(t0.Add(20 * time.Second))
	latest := s.Append("a", "", "latest", nil)

	_, ok := s.Get(early.ID)
	assert.False(t, ok, "earliest timestamp should be evicted")
	assert.Equal(t, []int64{latest.ID, late.ID}, ids(s.QueryAll()))
}

func TestIDs_MonotonicAcrossEvictionAndCompression(t *testing.T) {
	s, clk := newTestStore(t, WithMaxEvents(50))

	var last int64
	for i := 0; i < 120; i++ {
		ev := s.Append("escrow", "", "escrow step", nil)
		require.Greater(t, ev.ID, last)
		last = ev.ID
		clk.Advance(time.Minute)
	}

	_, err := s.Compress(10 * time.Minute)
	require.NoError(t, err)

	ev := s.Append("escrow", "", "after compress", nil)
	assert.Greater(t, ev.ID, last)
	assert.Greater(t, ev.ID, int64(121), "summary event consumed an id")
}

func TestQueryOrdering(t *testing.T) {
	s, clk := newTestStore(t)

	s.Append("financial", "T1", "a", nil)
	clk.Advance(time.Second)
	s.Append("escrow", "T1", "b", nil)
	clk.Advance(time.Second)
	s.Append("financial", "T2", "c", nil)
	clk.Advance(time.Second)
	s.Append("financial", "T1", "d", nil)

	t.Run("QueryAll newest first", func(t *testing.T) {
		all := s.QueryAll()
		assert.Equal(t, []int64{4, 3, 2, 1}, ids(all))
		for i := 1; i < len(all); i++ {
			assert.False(t, all[i].Timestamp.After(all[i-1].Timestamp))
		}
	})

	t.Run("QueryByTrace chronological", func(t *testing.T) {
		tr := s.QueryByTrace("T1")
		assert.Equal(t, []int64{1, 2, 4}, ids(tr))
		for i := 1; i < len(tr); i++ {
			assert.False(t, tr[i].Timestamp.Before(tr[i-1].Timestamp))
		}
	})

	t.Run("QueryByTrace empty id", func(t *testing.T) {
		assert.Empty(t, s.QueryByTrace(""))
		assert.NotNil(t, s.QueryByTrace(""))
	})

	t.Run("QueryByCategory", func(t *testing.T) {
		assert.Equal(t, []int64{4, 3, 1}, ids(s.QueryByCategory("financial")))
		assert.Empty(t, s.QueryByCategory("governance"))
	})

	t.Run("QueryByTimeRange inclusive", func(t *testing.T) {
		got := s.QueryByTimeRange(t0.Add(time.Second), t0.Add(2*time.Second))
		assert.Equal(t, []int64{3, 2}, ids(got))
		assert.Empty(t, s.QueryByTimeRange(t0.Add(time.Hour), t0))
	})

	t.Run("QueryLastN", func(t *testing.T) {
		assert.Equal(t, []int64{4, 3}, ids(s.QueryLastN(2)))
		assert.Len(t, s.QueryLastN(100), 4)
		assert.Empty(t, s.QueryLastN(0))
	})
}

func TestSearchBySummary(t *testing.T) {
	s, clk := newTestStore(t)
	s.Append("escrow", "", "Escrow FAILED for order 7", nil)
	clk.Advance(time.Second)
	s.Append("escrow", "", "escrow released", nil)
	clk.Advance(time.Second)
	s.Append("user", "", "Café login", nil)

	assert.Equal(t, []int64{1}, ids(s.SearchBySummary("failed")))
	assert.Equal(t, []int64{2, 1}, ids(s.SearchBySummary("ESCROW")))
	// Decomposed "e" + combining acute matches the composed form.
	assert.Equal(t, []int64{3}, ids(s.SearchBySummary("CAFE\u0301")))
	assert.Empty(t, s.SearchBySummary("governance"))
}

func TestSummarize(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		s, _ := newTestStore(t)
		sum := s.Summarize()
		assert.Equal(t, 0, sum.TotalEvents)
		assert.Empty(t, sum.Categories)
		assert.Zero(t, sum.AveragePayloadBytes)
		assert.True(t, sum.Oldest.IsZero())
	})

	t.Run("populated", func(t *testing.T) {
		s, clk := newTestStore(t, WithMaxEvents(10))
		s.Append("financial", "", "a", []byte("1234"))
		clk.Advance(time.Minute)
		s.Append("financial", "", "b", []byte("12"))
		clk.Advance(time.Minute)
		s.Append("escrow", "", "c", nil)

		sum := s.Summarize()
		assert.Equal(t, 3, sum.TotalEvents)
		assert.Equal(t, map[string]int{"financial": 2, "escrow": 1}, sum.Categories)
		assert.Equal(t, t0, sum.Oldest)
		assert.Equal(t, t0.Add(2*time.Minute), sum.Newest)
		assert.Equal(t, 6, sum.TotalPayloadBytes)
		assert.InDelta(t, 2.0, sum.AveragePayloadBytes, 1e-9)
		assert.InDelta(t, 0.3, sum.MemoryEfficiency, 1e-9)
	})
}

func TestCompress(t *testing.T) {
	s, clk := newTestStore(t)

	// 6 old escrow events (compressed), 3 old financial (kept), 2 recent escrow.
	for i := 0; i < 6; i++ {
		s.Append("escrow", "", fmt.Sprintf("escrow %d", i), nil)
		clk.Advance(time.Minute)
	}
	for i := 0; i < 3; i++ {
		s.Append("financial", "", fmt.Sprintf("fin %d", i), nil)
		clk.Advance(time.Minute)
	}
	clk.Advance(3 * time.Hour)
	s.Append("escrow", "", "recent 1", nil)
	s.Append("escrow", "", "recent 2", nil)

	res, err := s.Compress(2 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, CompressionResult{Compressed: 6, SummariesCreated: 1, Kept: 3}, res)
	assert.Equal(t, 2+3+1, s.Len())

	summaries := s.QueryByCategory("escrow_summary")
	require.Len(t, summaries, 1)
	sum := summaries[0]
	assert.Equal(t, int64(12), sum.ID)
	assert.Equal(t, t0.Add(5*time.Minute), sum.Timestamp, "stamped with newest member")
	assert.Equal(t, "compressed 6 escrow events", sum.Summary)

	var rec compressionRecord
	require.NoError(t, json.Unmarshal(sum.Payload, &rec))
	assert.Equal(t, 6, rec.Count)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, rec.SourceIDs)

	// Ordering invariant still holds after compression.
	all := s.QueryAll()
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.After(all[i-1].Timestamp))
	}

	t.Run("summaries are not recompressed", func(t *testing.T) {
		res, err := s.Compress(0)
		require.NoError(t, err)
		assert.Equal(t, 0, res.SummariesCreated)
	})
}

func TestCompress_ExactlyThresholdKept(t *testing.T) {
	s, clk := newTestStore(t)
	for i := 0; i < DefaultCompressThreshold; i++ {
		s.Append("governance", "", "vote", nil)
	}
	clk.Advance(48 * time.Hour)

	res, err := s.Compress(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Compressed)
	assert.Equal(t, DefaultCompressThreshold, res.Kept)
	assert.Equal(t, DefaultCompressThreshold, s.Len())
}

func TestPruneBefore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, clk := newTestStore(t, WithMetrics(m))

	for i := 0; i < 3; i++ {
		s.Append("governance", "", "vote", nil)
		clk.Advance(time.Hour)
	}

	removed := s.PruneBefore(t0.Add(90 * time.Minute))
	assert.Equal(t, 2, removed)
	assert.Equal(t, []int64{3}, ids(s.QueryAll()))
	assert.Equal(t, 0, s.PruneBefore(t0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsPruned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryEvents))
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	src, clk := newTestStore(t)
	src.Append("financial", "T1", "withdrawal", []byte(`{"amount":5}`))
	clk.Advance(time.Second)
	src.Append("escrow", "T1", "escrow failed", nil)
	clk.Advance(time.Second)
	src.Append("governance", "", "proposal", nil)

	snap := src.Snapshot()
	assert.Equal(t, int64(3), snap.LastID)

	dst, _ := newTestStore(t)
	require.NoError(t, dst.Restore(snap))

	assert.Equal(t, src.QueryAll(), dst.QueryAll())
	assert.Equal(t, src.QueryByTrace("T1"), dst.QueryByTrace("T1"))
	assert.Equal(t, src.QueryByCategory("escrow"), dst.QueryByCategory("escrow"))
	assert.Equal(t, src.SearchBySummary("fail"), dst.SearchBySummary("fail"))
	assert.Equal(t, src.QueryLastN(2), dst.QueryLastN(2))
	assert.Equal(t, src.Summarize(), dst.Summarize())

	// Ids continue after the restored counter.
	assert.Equal(t, int64(4), dst.Append("x", "", "y", nil).ID)
}

func TestRestore_RejectsInconsistentSnapshot(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.Restore(Snapshot{Events: []Event{{ID: 5}}, LastID: 3})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	err = s.Restore(Snapshot{Events: []Event{{ID: 1}, {ID: 1}}, LastID: 3})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}
