package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Metrics tracks gate usage
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	TotalTruncated  int64
	TotalAbandoned  int64
	PeakInUse       int64
	TotalWaitTimeNs int64
}

// Gate is a counting semaphore whose available permits never exceed a fixed bound.
// Releasing more permits than are held is silently truncated.
// A Gate does not know what it protects: a display device, an output
// synchronization point, a pool of agent steps.
type Gate struct {
	sem     *semaphore.Weighted
	max     int64
	mu      sync.Mutex
	held    int64
	metrics Metrics
}

// NewGate creates a gate with the given initial permits and upper bound.
// max is raised to 1 when not positive; permits is clamped to [0, max].
func NewGate(permits, max int) *Gate {
	if max <= 0 {
		max = 1
	}
	if permits < 0 {
		permits = 0
	}
	if permits > max {
		permits = max
	}

	g := &Gate{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
	if missing := int64(max - permits); missing > 0 {
		g.sem.TryAcquire(missing)
		g.held = missing
	}
	return g
}

// Acquire blocks until one permit is available and consumes it.
func (g *Gate) Acquire(ctx context.Context) bool {
	return g.AcquireN(ctx, 1)
}

// AcquireN blocks until n permits are available and consumes them.
// If ctx ends first the caller simply does not obtain the permits: AcquireN
// reports false, nothing is consumed and no error is surfaced.
func (g *Gate) AcquireN(ctx context.Context, n int) bool {
	if n <= 0 {
		return true
	}
	start := time.Now()
	if err := g.sem.Acquire(ctx, int64(n)); err != nil {
		atomic.AddInt64(&g.metrics.TotalAbandoned, 1)
		return false
	}
	atomic.AddInt64(&g.metrics.TotalWaitTimeNs, time.Since(start).Nanoseconds())
	g.record(int64(n))
	return true
}

// TryAcquire consumes n permits only if they are immediately available.
func (g *Gate) TryAcquire(n int) bool {
	if n <= 0 {
		return true
	}
	if !g.sem.TryAcquire(int64(n)) {
		return false
	}
	g.record(int64(n))
	return true
}

// Release returns one permit.
func (g *Gate) Release() {
	g.ReleaseN(1)
}

// ReleaseN returns n permits. Permits beyond the bound are dropped.
func (g *Gate) ReleaseN(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	k := int64(n)
	if k > g.held {
		atomic.AddInt64(&g.metrics.TotalTruncated, k-g.held)
		k = g.held
	}
	g.held -= k
	g.mu.Unlock()

	if k > 0 {
		g.sem.Release(k)
		atomic.AddInt64(&g.metrics.TotalReleased, k)
	}
}

// GoSync runs fn while holding one permit.
func (g *Gate) GoSync(ctx context.Context, fn func() error) error {
	if !g.Acquire(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	}
	defer g.Release()
	return fn()
}

// Available returns the number of permits that can currently be acquired.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.max - g.held)
}

// InUse returns the number of permits currently held.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.held)
}

// Max returns the upper bound on available permits.
func (g *Gate) Max() int {
	return int(g.max)
}

// GetMetrics returns a copy of the current metrics
func (g *Gate) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   atomic.LoadInt64(&g.metrics.TotalAcquired),
		TotalReleased:   atomic.LoadInt64(&g.metrics.TotalReleased),
		TotalTruncated:  atomic.LoadInt64(&g.metrics.TotalTruncated),
		TotalAbandoned:  atomic.LoadInt64(&g.metrics.TotalAbandoned),
		PeakInUse:       atomic.LoadInt64(&g.metrics.PeakInUse),
		TotalWaitTimeNs: atomic.LoadInt64(&g.metrics.TotalWaitTimeNs),
	}
}

// GetAverageWaitTime calculates the average wait time of successful acquisitions
func (g *Gate) GetAverageWaitTime() time.Duration {
	metrics := g.GetMetrics()
	if metrics.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(metrics.TotalWaitTimeNs / metrics.TotalAcquired)
}

func (g *Gate) record(n int64) {
	g.mu.Lock()
	g.held += n
	current := g.held
	g.mu.Unlock()

	atomic.AddInt64(&g.metrics.TotalAcquired, n)
	for {
		peak := atomic.LoadInt64(&g.metrics.PeakInUse)
		if current <= peak {
			break
		}
		if atomic.CompareAndSwapInt64(&g.metrics.PeakInUse, peak, current) {
			break
		}
	}
}
