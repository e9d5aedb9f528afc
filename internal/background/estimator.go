package background

import (
	"context"
	"sort"
	"time"

	"github.com/hearthstack/hearth/internal/store"
)

// Estimator bounds for derived timeouts.
const (
	minEstimatedTimeout = 30 * time.Second
	maxEstimatedTimeout = 15 * time.Minute
	estimatorSamples    = 10
)

// Estimator derives task timeouts from recent execution metrics.
type Estimator struct {
	metrics store.MetricStore
}

// NewEstimator creates an estimator over the metric store.
func NewEstimator(metrics store.MetricStore) *Estimator {
	return &Estimator{metrics: metrics}
}

// Estimate returns a timeout for the task type and tier, or 0 when there is
// no history to estimate from (caller falls back to its configured default).
// The estimate is the p90 of recent durations with 50% headroom, clamped.
func (e *Estimator) Estimate(ctx context.Context, taskType, tier string) time.Duration {
	if e == nil || e.metrics == nil {
		return 0
	}
	samples, err := e.metrics.ListRecentMetrics(ctx, taskType, tier, estimatorSamples)
	if err != nil || len(samples) == 0 {
		return 0
	}

	durations := make([]int64, 0, len(samples))
	for _, s := range samples {
		durations = append(durations, s.DurationMs)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	p90 := durations[(len(durations)-1)*9/10]

	est := time.Duration(p90) * time.Millisecond * 3 / 2
	if est < minEstimatedTimeout {
		est = minEstimatedTimeout
	}
	if est > maxEstimatedTimeout {
		est = maxEstimatedTimeout
	}
	return est
}
