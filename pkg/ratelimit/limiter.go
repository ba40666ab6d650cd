package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/docpilot/source-client/pkg/endpoint"
)

// Prometheus metrics for rate limiting.
var (
	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_rate_limit_waits_total",
		Help: "Total requests that had to wait for a window rollover by endpoint",
	}, []string{"endpoint"})

	rateLimitBurstTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_rate_limit_burst_total",
		Help: "Total requests admitted on burst capacity by endpoint",
	}, []string{"endpoint"})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetch_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limit window rollover",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60},
	})
)

// Limiter gates requests per endpoint key. All admission decisions for
// a key are serialized on that key's window mutex, so concurrent
// callers racing on a window reset cannot corrupt the counters.
type Limiter struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	windows map[string]*windowState

	waitCount uint64

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a per-endpoint rate limiter.
func NewLimiter(logger zerolog.Logger) *Limiter {
	return &Limiter{
		logger:  logger,
		windows: make(map[string]*windowState),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// window returns the state record for key, creating it lazily.
func (l *Limiter) window(key endpoint.Key) *windowState {
	k := key.String()

	l.mu.RLock()
	w, ok := l.windows[k]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[k]; ok {
		return w
	}
	w = &windowState{windowStart: l.now()}
	l.windows[k] = w
	return w
}

// Acquire blocks until the endpoint may issue one request under the
// given per-window limit. Admission order: base window capacity, then
// burst allowance, then suspend until the window rolls over. The only
// error returned is the context's, when cancelled mid-wait.
func (l *Limiter) Acquire(ctx context.Context, key endpoint.Key, limit int) error {
	if limit <= 0 {
		// No limit configured for the endpoint.
		return nil
	}

	w := l.window(key)
	burst := BurstAllowance(limit)

	for {
		w.mu.Lock()
		now := l.now()

		if w.expired(now) {
			w.reset(now)
		}

		if w.requestsInWindow < limit {
			w.requestsInWindow++
			w.mu.Unlock()
			return nil
		}

		if w.burstUsed < burst {
			w.burstUsed++
			used := w.burstUsed
			w.mu.Unlock()
			rateLimitBurstTotal.WithLabelValues(key.String()).Inc()
			l.logger.Debug().
				Str("endpoint", key.String()).
				Int("burst_used", used).
				Int("burst_allowance", burst).
				Msg("Request admitted on burst capacity")
			return nil
		}

		// Window and burst exhausted: suspend until rollover, then retry.
		wait := w.remainingWait(now)
		w.mu.Unlock()

		atomic.AddUint64(&l.waitCount, 1)
		rateLimitWaitsTotal.WithLabelValues(key.String()).Inc()
		rateLimitWaitSeconds.Observe(wait.Seconds())

		l.logger.Debug().
			Str("endpoint", key.String()).
			Dur("wait", wait).
			Int("limit", limit).
			Msg("Rate limit window exhausted, waiting for rollover")

		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
}

// WaitCount returns how many acquisitions had to wait for a rollover.
func (l *Limiter) WaitCount() uint64 {
	return atomic.LoadUint64(&l.waitCount)
}

// Snapshot returns the current window state of every tracked endpoint.
func (l *Limiter) Snapshot() map[string]WindowSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]WindowSnapshot, len(l.windows))
	for k, w := range l.windows {
		w.mu.Lock()
		out[k] = WindowSnapshot{
			WindowStart:      w.windowStart,
			RequestsInWindow: w.requestsInWindow,
			BurstUsed:        w.burstUsed,
		}
		w.mu.Unlock()
	}
	return out
}

// Reset clears all window state. Used on shutdown.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*windowState)
}
