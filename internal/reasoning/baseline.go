package reasoning

import (
	"math"
	"time"

	"github.com/roach88/insight/internal/memory"
)

// bucketWidth is the granularity of baseline frequency buckets.
const bucketWidth = time.Hour

// Baseline is the historical hourly event frequency of one category.
type Baseline struct {
	Category      string    `json:"category"`
	MeanFrequency float64   `json:"mean_frequency"`
	StdDeviation  float64   `json:"std_deviation"`
	SampleSize    int       `json:"sample_size"`
	LastComputed  time.Time `json:"last_computed"`
}

// computeBaseline buckets events into hour-wide buckets ending at now-1h,
// including empty buckets back to the oldest event, and returns the
// population mean and standard deviation of the bucket counts. Bucket k
// covers (cutoff-(k+1)h, cutoff-kh]. Events in (now-1h, now] are excluded:
// that span is the count being scored.
func computeBaseline(category string, events []memory.Event, now time.Time) Baseline {
	b := Baseline{Category: category, LastComputed: now}

	cutoff := now.Add(-bucketWidth)
	counts := make(map[int]int)
	n := 0
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			continue
		}
		k := int(cutoff.Sub(e.Timestamp) / bucketWidth)
		counts[k]++
		n = max(n, k+1)
	}
	if n == 0 {
		return b
	}

	sum := 0.0
	for k := 0; k < n; k++ {
		sum += float64(counts[k])
	}
	mean := sum / float64(n)

	variance := 0.0
	for k := 0; k < n; k++ {
		d := float64(counts[k]) - mean
		variance += d * d
	}
	variance /= float64(n)

	b.MeanFrequency = mean
	b.StdDeviation = math.Sqrt(variance)
	b.SampleSize = n
	return b
}

// baselineLocked returns the cached baseline for category, rebuilding it from
// events when absent or older than BaselineMaxAge. Callers hold e.mu.
func (e *Engine) baselineLocked(category string, events []memory.Event, now time.Time) Baseline {
	if b, ok := e.baselines[category]; ok && now.Sub(b.LastComputed) <= e.policy.BaselineMaxAge {
		return b
	}
	b := computeBaseline(category, events, now)
	e.baselines[category] = b
	e.logger.Debug("baseline computed",
		"category", category,
		"mean", b.MeanFrequency,
		"stddev", b.StdDeviation,
		"samples", b.SampleSize,
	)
	return b
}

// Baseline returns the cached baseline for category, if any.
func (e *Engine) Baseline(category string) (Baseline, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.baselines[category]
	return b, ok
}

// SetBaseline installs a baseline, replacing any cached one. It is used to
// seed baselines carried over from another process.
func (e *Engine) SetBaseline(b Baseline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baselines[b.Category] = b
}

// InvalidateBaselines drops every cached baseline so the next analysis
// rebuilds them from history.
func (e *Engine) InvalidateBaselines() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.baselines)
}
