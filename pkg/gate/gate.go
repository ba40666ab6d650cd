// Package gate bounds the number of in-flight outbound requests for the
// whole process. Requests over the limit wait in a strict FIFO queue, so
// work is serviced in arrival order; the queue itself is capped to keep
// sustained overload from growing memory without bound.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the concurrency gate.
var (
	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetch_inflight_requests",
		Help: "Number of requests currently executing inside the gate",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetch_queue_depth",
		Help: "Number of requests waiting for a gate slot",
	})

	queueRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetch_queue_rejections_total",
		Help: "Total requests rejected because the wait queue was full",
	})
)

// Errors returned by the gate.
var (
	// ErrQueueFull is returned when the wait queue is at capacity.
	ErrQueueFull = errors.New("gate: wait queue full")

	// ErrClosed is returned for requests submitted or queued during shutdown.
	ErrClosed = errors.New("gate: closed")
)

// Config holds gate capacity settings.
type Config struct {
	// MaxConcurrent is the number of requests allowed to execute at once.
	MaxConcurrent int

	// MaxQueueDepth bounds how many requests may wait for a slot.
	// Zero or negative means the default depth.
	MaxQueueDepth int
}

// DefaultConfig returns safe gate defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		MaxQueueDepth: 128,
	}
}

// waiter is one queued request. The admit channel carries nil when a
// slot is handed over, or a terminal error on shutdown.
type waiter struct {
	admit chan error
}

// Gate is the process-wide concurrency limiter.
type Gate struct {
	logger zerolog.Logger

	mu     sync.Mutex
	config Config
	active int
	peak   int
	queue  []*waiter
	closed bool
}

// New creates a gate with the given capacity.
func New(config Config, logger zerolog.Logger) *Gate {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if config.MaxQueueDepth <= 0 {
		config.MaxQueueDepth = 128
	}

	return &Gate{
		config: config,
		logger: logger,
	}
}

// Run executes fn under the gate. If the gate is at capacity the call
// blocks in FIFO order until a slot frees up, the context is cancelled,
// or the gate shuts down. fn's error is returned unchanged.
func (g *Gate) Run(ctx context.Context, fn func() error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()

	return fn()
}

// acquire claims an execution slot, queueing if necessary.
func (g *Gate) acquire(ctx context.Context) error {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}

	if g.active < g.config.MaxConcurrent {
		g.admitLocked()
		g.mu.Unlock()
		return nil
	}

	if len(g.queue) >= g.config.MaxQueueDepth {
		g.mu.Unlock()
		queueRejectionsTotal.Inc()
		g.logger.Warn().
			Int("queue_depth", g.config.MaxQueueDepth).
			Msg("Gate queue full, rejecting request")
		return ErrQueueFull
	}

	w := &waiter{admit: make(chan error, 1)}
	g.queue = append(g.queue, w)
	queueDepth.Set(float64(len(g.queue)))
	g.mu.Unlock()

	select {
	case err := <-w.admit:
		// nil means a finishing request handed its slot to us.
		return err
	case <-ctx.Done():
		return g.abandon(w, ctx.Err())
	}
}

// abandon removes a cancelled waiter from the queue. If the slot was
// already handed over concurrently, it is released again so the next
// waiter is not starved.
func (g *Gate) abandon(w *waiter, cause error) error {
	g.mu.Lock()
	for i, q := range g.queue {
		if q == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			queueDepth.Set(float64(len(g.queue)))
			g.mu.Unlock()
			return cause
		}
	}
	g.mu.Unlock()

	// Not in the queue: admission raced the cancellation.
	if err := <-w.admit; err == nil {
		g.release()
	}
	return cause
}

// admitLocked accounts for one request entering execution.
// Caller must hold g.mu.
func (g *Gate) admitLocked() {
	g.active++
	if g.active > g.peak {
		g.peak = g.active
	}
	inflightRequests.Set(float64(g.active))
}

// release frees a slot, handing it to the oldest queued waiter if any.
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) > 0 {
		w := g.queue[0]
		g.queue = g.queue[1:]
		queueDepth.Set(float64(len(g.queue)))
		// The slot transfers directly; active count is unchanged.
		w.admit <- nil
		return
	}

	g.active--
	inflightRequests.Set(float64(g.active))
}

// Active returns the number of currently executing requests.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Peak returns the highest concurrent execution count observed.
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// QueueDepth returns the number of requests currently waiting.
func (g *Gate) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Close shuts the gate down: queued requests are rejected with ErrClosed
// and later submissions fail fast. Running requests finish normally.
// Close is idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true

	for _, w := range g.queue {
		w.admit <- ErrClosed
	}
	g.queue = nil
	queueDepth.Set(0)
}
