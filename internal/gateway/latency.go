package gateway

import (
	"math"
	"sort"
	"sync"

	"trading-simulator/internal/ringbuf"
)

// LatencyTracker keeps the most recent tick-to-enqueue latencies and
// computes percentiles over them. Thread-safe.
type LatencyTracker struct {
	mu      sync.Mutex
	samples *ringbuf.Ring[float64] // milliseconds
}

// NewLatencyTracker creates a tracker holding the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LatencyTracker{samples: ringbuf.New[float64](capacity)}
}

// Record adds a sample in milliseconds.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	lt.samples.Push(ms)
	lt.mu.Unlock()
}

// Percentiles returns p50, p95 and p99 in milliseconds, or zeros without
// samples.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	sorted := lt.samples.Last(lt.samples.Len())
	lt.mu.Unlock()
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// Count returns the number of retained samples.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.samples.Len()
}

// percentile interpolates the p-th percentile (0.0–1.0) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	if lower+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[lower+1]*frac
}
