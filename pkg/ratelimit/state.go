// Package ratelimit implements per-endpoint request budgeting with a
// fixed 60-second window and a small burst allowance. The limiter is
// self-throttling: a caller over budget is suspended until the window
// rolls over instead of being rejected, so remote sources only ever see
// traffic inside their limits.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// WindowDuration is the fixed accounting window for every endpoint.
const WindowDuration = 60 * time.Second

// BurstFraction of the per-window limit is granted as extra capacity
// before a caller is forced to wait.
const BurstFraction = 0.2

// windowState tracks one endpoint's current window. Created lazily on
// the first request for the key.
type windowState struct {
	mu               sync.Mutex
	windowStart      time.Time
	requestsInWindow int
	burstUsed        int
}

// WindowSnapshot is a read-only view of one endpoint's window.
type WindowSnapshot struct {
	WindowStart      time.Time `json:"window_start"`
	RequestsInWindow int       `json:"requests_in_window"`
	BurstUsed        int       `json:"burst_used"`
}

// BurstAllowance returns the extra capacity granted beyond the
// steady-state limit: ceil(limit * 0.2).
func BurstAllowance(limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Ceil(float64(limit) * BurstFraction))
}

// expired reports whether the window has rolled over at the given time.
// Caller must hold mu.
func (w *windowState) expired(now time.Time) bool {
	return now.Sub(w.windowStart) >= WindowDuration
}

// reset starts a fresh window at the given time. Caller must hold mu.
func (w *windowState) reset(now time.Time) {
	w.windowStart = now
	w.requestsInWindow = 0
	w.burstUsed = 0
}

// remainingWait returns how long until the current window rolls over.
// Caller must hold mu.
func (w *windowState) remainingWait(now time.Time) time.Duration {
	wait := WindowDuration - now.Sub(w.windowStart)
	if wait < 0 {
		return 0
	}
	return wait
}
