package reasoning

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/insight/internal/memory"
)

// trendKeywords maps summary keywords to trend values. An event's value is
// the largest weight among the keywords it contains; events with none do not
// contribute a point.
var trendKeywords = []struct {
	keyword string
	value   float64
}{
	{"critical", 3.0},
	{"error", 2.0},
	{"fail", 2.0},
	{"timeout", 1.5},
	{"latency", 1.0},
	{"slow", 1.0},
}

func trendValue(summary string) (float64, bool) {
	s := strings.ToLower(summary)
	best, ok := 0.0, false
	for _, k := range trendKeywords {
		if strings.Contains(s, k.keyword) && k.value > best {
			best, ok = k.value, true
		}
	}
	return best, ok
}

type trendPoint struct {
	id    int64
	at    time.Time
	value float64
}

// trendTracker keeps a rolling window of keyword-valued points per category.
// Each event contributes at most once, so re-analysing the same window does
// not skew the series.
type trendTracker struct {
	points map[string][]trendPoint
	seen   map[int64]time.Time
}

func newTrendTracker() *trendTracker {
	return &trendTracker{
		points: make(map[string][]trendPoint),
		seen:   make(map[int64]time.Time),
	}
}

// ingest adds points for unseen events inside the window and drops points
// older than now-window.
func (t *trendTracker) ingest(events []memory.Event, now time.Time, window time.Duration) {
	cutoff := now.Add(-window)

	// events arrive most recent first; walk backwards to append in time order.
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Timestamp.Before(cutoff) || e.Timestamp.After(now) {
			continue
		}
		if _, dup := t.seen[e.ID]; dup {
			continue
		}
		v, ok := trendValue(e.Summary)
		if !ok {
			continue
		}
		t.seen[e.ID] = e.Timestamp
		t.insert(e.Category, trendPoint{id: e.ID, at: e.Timestamp, value: v})
	}

	for cat, pts := range t.points {
		i := 0
		for i < len(pts) && pts[i].at.Before(cutoff) {
			i++
		}
		if i == len(pts) {
			delete(t.points, cat)
			continue
		}
		t.points[cat] = pts[i:]
	}
	for id, at := range t.seen {
		if at.Before(cutoff) {
			delete(t.seen, id)
		}
	}
}

func (t *trendTracker) insert(category string, p trendPoint) {
	pts := t.points[category]
	i := len(pts)
	for i > 0 && p.at.Before(pts[i-1].at) {
		i--
	}
	pts = append(pts, trendPoint{})
	copy(pts[i+1:], pts[i:])
	pts[i] = p
	t.points[category] = pts
}

// trendFit is a least-squares line through a category's points, with x in
// hours since the first point.
type trendFit struct {
	slope     float64
	intercept float64
	mean      float64
	lastX     float64
}

func fitTrend(pts []trendPoint) (trendFit, bool) {
	n := float64(len(pts))
	origin := pts[0].at
	var sx, sy float64
	for _, p := range pts {
		sx += p.at.Sub(origin).Hours()
		sy += p.value
	}
	mx, my := sx/n, sy/n

	var sxx, sxy float64
	for _, p := range pts {
		dx := p.at.Sub(origin).Hours() - mx
		sxx += dx * dx
		sxy += dx * (p.value - my)
	}
	if sxx == 0 {
		return trendFit{}, false
	}
	slope := sxy / sxx
	return trendFit{
		slope:     slope,
		intercept: my - slope*mx,
		mean:      my,
		lastX:     pts[len(pts)-1].at.Sub(origin).Hours(),
	}, true
}

func (f trendFit) predict(horizon time.Duration) float64 {
	return f.intercept + f.slope*(f.lastX+horizon.Hours())
}

// detectTrend extrapolates each category's trend one horizon past its latest
// point and fires when the prediction outgrows the current average.
func (e *Engine) detectTrend(w *window) (candidate, bool) {
	p := e.policy
	e.trend.ingest(w.events, w.now, p.TrendWindow)

	var best candidate
	bestRatio := 0.0
	found := false
	for _, cat := range sortedKeys(e.trend.points) {
		pts := e.trend.points[cat]
		if len(pts) < p.TrendMinPoints {
			continue
		}
		fit, ok := fitTrend(pts)
		if !ok || fit.slope <= 0 || fit.mean <= 0 {
			continue
		}
		predicted := fit.predict(p.TrendHorizon)
		ratio := predicted / fit.mean
		if ratio <= p.TrendGrowthFactor || ratio <= bestRatio {
			continue
		}
		ids := make([]int64, len(pts))
		for i, pt := range pts {
			ids[i] = pt.id
		}
		sev := SeverityInfo
		if ratio > p.TrendWarningFactor {
			sev = SeverityWarning
		}
		best = candidate{
			detector: DetectTrendPrediction,
			title:    "Escalating Trend Predicted",
			description: fmt.Sprintf("%s trend rising at %.2f/h; predicted %.2f in %s vs average %.2f",
				cat, fit.slope, predicted, p.TrendHorizon, fit.mean),
			severity: sev,
			traceIDs: []string{},
			tags:     []string{"trend", "prediction", cat},
			sources:  ids,
		}
		bestRatio = ratio
		found = true
	}
	return best, found
}
