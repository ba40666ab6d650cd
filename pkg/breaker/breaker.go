// Package breaker implements a per-endpoint circuit breaker that stops
// sending requests to a consistently failing source endpoint until a
// recovery timeout elapses. Each endpoint key owns an isolated state
// machine, so one flaky endpoint cannot starve a healthy sibling on the
// same source.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/docpilot/source-client/pkg/endpoint"
)

// Prometheus metrics for circuit breaker transitions.
var (
	circuitTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_circuit_trips_total",
		Help: "Total circuit breaker open transitions by endpoint",
	}, []string{"endpoint"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fetch_circuit_state",
		Help: "Current circuit state by endpoint (0=closed, 1=open, 2=half-open)",
	}, []string{"endpoint"})
)

// State represents the circuit state for a single endpoint.
type State int

const (
	// StateClosed allows all requests (healthy default).
	StateClosed State = iota

	// StateOpen rejects all requests until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen allows a limited number of probe requests.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker tuning parameters.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls bounds probe requests while half-open.
	HalfOpenMaxCalls int
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// entryState is the per-endpoint breaker record. Absence of a record
// means closed and healthy; records are created lazily on first failure.
type entryState struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	nextAttemptAt time.Time
}

// Registry tracks circuit state per endpoint key.
type Registry struct {
	config Config
	logger zerolog.Logger

	mu       sync.RWMutex
	breakers map[string]*entryState
	trips    uint64

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry creates a breaker registry.
func NewRegistry(config Config, logger zerolog.Logger) *Registry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}

	return &Registry{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*entryState),
		now:      time.Now,
	}
}

// get returns the state record for key, creating it lazily.
func (r *Registry) get(key endpoint.Key) *entryState {
	k := key.String()

	r.mu.RLock()
	st, ok := r.breakers[k]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.breakers[k]; ok {
		return st
	}
	st = &entryState{state: StateClosed}
	r.breakers[k] = st
	return st
}

// Allow reports whether a request to the endpoint may proceed.
// The open-to-half-open transition happens here, lazily, when the
// recovery timeout has elapsed; there is no background timer.
func (r *Registry) Allow(key endpoint.Key) bool {
	st := r.get(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.state {
	case StateClosed:
		return true

	case StateOpen:
		if r.now().Before(st.nextAttemptAt) {
			return false
		}
		st.state = StateHalfOpen
		st.failures = 0
		circuitState.WithLabelValues(key.String()).Set(2)
		r.logger.Info().
			Str("endpoint", key.String()).
			Msg("Circuit half-open, allowing probe requests")
		return true

	case StateHalfOpen:
		return st.failures < r.config.HalfOpenMaxCalls

	default:
		return false
	}
}

// RecordSuccess records a successful request outcome.
// A success while half-open closes the circuit and resets the failure count.
func (r *Registry) RecordSuccess(key endpoint.Key) {
	st := r.get(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == StateHalfOpen {
		st.state = StateClosed
		st.failures = 0
		circuitState.WithLabelValues(key.String()).Set(0)
		r.logger.Info().
			Str("endpoint", key.String()).
			Msg("Circuit closed after successful probe")
		return
	}

	// Closed: consecutive-failure counting starts over on any success.
	st.failures = 0
}

// RecordFailure records a failed request outcome. Reaching the failure
// threshold while closed, or exhausting probes while half-open, opens
// the circuit until the recovery timeout elapses.
func (r *Registry) RecordFailure(key endpoint.Key) {
	st := r.get(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := r.now()
	st.failures++
	st.lastFailureAt = now

	switch st.state {
	case StateClosed:
		if st.failures >= r.config.FailureThreshold {
			r.trip(st, key, now)
		}
	case StateHalfOpen:
		if st.failures >= r.config.HalfOpenMaxCalls {
			r.trip(st, key, now)
		}
	case StateOpen:
		// Already open; only lastFailureAt moves.
	}
}

// trip opens the circuit. Caller must hold st.mu.
func (r *Registry) trip(st *entryState, key endpoint.Key, now time.Time) {
	st.state = StateOpen
	st.nextAttemptAt = now.Add(r.config.RecoveryTimeout)

	atomic.AddUint64(&r.trips, 1)
	circuitTripsTotal.WithLabelValues(key.String()).Inc()
	circuitState.WithLabelValues(key.String()).Set(1)

	r.logger.Warn().
		Str("endpoint", key.String()).
		Int("failures", st.failures).
		Time("next_attempt_at", st.nextAttemptAt).
		Msg("Circuit opened")
}

// KeyState is a read-only view of one endpoint's breaker state.
type KeyState struct {
	State         State     `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// Snapshot returns the current state of every tracked endpoint.
func (r *Registry) Snapshot() map[string]KeyState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]KeyState, len(r.breakers))
	for k, st := range r.breakers {
		st.mu.Lock()
		out[k] = KeyState{
			State:         st.state,
			Failures:      st.failures,
			LastFailureAt: st.lastFailureAt,
			NextAttemptAt: st.nextAttemptAt,
		}
		st.mu.Unlock()
	}
	return out
}

// TotalTrips returns how many open transitions have occurred since start.
func (r *Registry) TotalTrips() uint64 {
	return atomic.LoadUint64(&r.trips)
}

// TripCount returns how many endpoints are currently open.
func (r *Registry) TripCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, st := range r.breakers {
		st.mu.Lock()
		if st.state == StateOpen {
			n++
		}
		st.mu.Unlock()
	}
	return n
}

// Reset clears all breaker state. Used on shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*entryState)
}
