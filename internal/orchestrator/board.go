package orchestrator

import (
	"context"
	"sync"
	"time"

	"vigil/internal/confidence"
)

// Board is the loop's shared metric scoreboard. The monitor phase
// writes system-level readings here; the evolver samples it for
// experiment baselines and the trigger engine mirrors it for threshold
// conditions. Implements evolve.MetricSampler.
type Board struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewBoard returns an empty scoreboard.
func NewBoard() *Board {
	return &Board{values: make(map[string]float64)}
}

// Set records the latest value of a metric.
func (b *Board) Set(name string, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = value
}

// Get returns a metric's latest value.
func (b *Board) Get(name string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[name]
	return v, ok
}

// Sample returns the current values of the named metrics; absent
// metrics are simply omitted.
func (b *Board) Sample(_ context.Context, names []string) (map[string]float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(names))
	for _, name := range names {
		if v, ok := b.values[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// All returns a copy of every metric.
func (b *Board) All() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// BenchmarkCache holds the most recent benchmark aggregate so the
// confidence engine can consume it as a signal source. Implements
// confidence.BenchmarkSource.
type BenchmarkCache struct {
	mu     sync.RWMutex
	report confidence.BenchmarkReport
	seen   bool
}

// NewBenchmarkCache returns an empty cache.
func NewBenchmarkCache() *BenchmarkCache {
	return &BenchmarkCache{}
}

// Record stores a benchmark result.
func (c *BenchmarkCache) Record(score float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = confidence.BenchmarkReport{Score: score, At: at}
	c.seen = true
}

// LatestBenchmark returns the most recent aggregate, if any.
func (c *BenchmarkCache) LatestBenchmark() (confidence.BenchmarkReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report, c.seen
}
