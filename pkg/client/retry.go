package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry behavior.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetch_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_retry_exhausted_total",
		Help: "Total number of requests that exhausted their retry budget",
	}, []string{"error_class"})
)

// Backoff parameters for the retry loop. Delays grow as
// min(initial * 2^attempt, max) plus a full jitter draw, so a burst of
// failures against one source never retries in lockstep.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 10 * time.Second
	maxJitter      = 1 * time.Second
)

// sleepBackoff waits out a backoff delay, aborting early if the
// context is cancelled.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// backoffDelay computes the sleep before retrying after the given
// zero-based attempt.
func backoffDelay(attempt int) time.Duration {
	backoff := initialBackoff << uint(attempt)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	return backoff + time.Duration(rand.Int63n(int64(maxJitter)))
}

// executeWithRetry runs one logical request as up to maxRetries+1
// physical attempts. A failure with a 4xx status stops immediately and
// surfaces as NonRetryableError; any other failure sleeps through the
// backoff and tries again while attempts remain. Exhaustion yields a
// RequestFailedError carrying the attempt count and last error.
func (c *Client) executeWithRetry(ctx context.Context, req *Request, maxRetries int) (*Response, error) {
	var lastErr error
	var lastClass ErrorClass

	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			break
		}
		attempts++

		resp, err := c.attempt(ctx, req)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("endpoint", req.Endpoint.String()).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		lastErr = err
		lastClass = classifyAttemptError(err)
		errorsTotal.WithLabelValues(string(lastClass)).Inc()

		// 4xx failures are surfaced immediately, never retried.
		var se *statusError
		if errors.As(err, &se) && !retryable(se.Class) {
			return nil, &NonRetryableError{StatusCode: se.StatusCode, Status: se.Status}
		}

		if attempt >= maxRetries {
			break
		}

		delay := backoffDelay(attempt)
		retriesTotal.WithLabelValues(string(lastClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(delay.Seconds())

		c.logger.Debug().
			Str("endpoint", req.Endpoint.String()).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Str("error_class", string(lastClass)).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &RequestFailedError{Attempts: attempts, LastErr: err}
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()

	c.logger.Warn().
		Str("endpoint", req.Endpoint.String()).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Retry attempts exhausted")

	return nil, &RequestFailedError{Attempts: attempts, LastErr: lastErr}
}

// classifyAttemptError maps a per-attempt failure to its error class.
func classifyAttemptError(err error) ErrorClass {
	var se *statusError
	if errors.As(err, &se) {
		return se.Class
	}
	return ErrorClassNetwork
}
