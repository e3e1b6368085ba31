package gateway

import (
	"math"
	"slices"
	"sync"
)

// LatencyTracker keeps the last N push latencies (milliseconds from a bar
// update reaching the hub to the bundle being queued for a client).
type LatencyTracker struct {
	mu    sync.Mutex
	ring  []float64
	next  int
	count int
}

// NewLatencyTracker holds up to capacity samples; non-positive means 10000.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{ring: make([]float64, capacity)}
}

// Record adds one sample, evicting the oldest once full.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	lt.ring[lt.next] = ms
	lt.next = (lt.next + 1) % len(lt.ring)
	lt.count = min(lt.count+1, len(lt.ring))
	lt.mu.Unlock()
}

// Count returns the number of retained samples.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.count
}

// Quantiles returns the linearly interpolated quantile of the retained
// samples for each q in [0, 1]. All zero when empty.
func (lt *LatencyTracker) Quantiles(qs ...float64) []float64 {
	lt.mu.Lock()
	sorted := slices.Clone(lt.ring[:lt.count])
	lt.mu.Unlock()
	slices.Sort(sorted)

	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = quantile(sorted, q)
	}
	return out
}

// Percentiles returns p50, p95 and p99.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	q := lt.Quantiles(0.50, 0.95, 0.99)
	return q[0], q[1], q[2]
}

func quantile(sorted []float64, q float64) float64 {
	switch n := len(sorted); n {
	case 0:
		return 0
	case 1:
		return sorted[0]
	default:
		rank := q * float64(n-1)
		lo := int(math.Floor(rank))
		if lo >= n-1 {
			return sorted[n-1]
		}
		frac := rank - float64(lo)
		return sorted[lo]*(1-frac) + sorted[lo+1]*frac
	}
}
