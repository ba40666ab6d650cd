package client

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffDelayBounds(t *testing.T) {
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 1 * time.Second, 2 * time.Second},
		{1, 2 * time.Second, 3 * time.Second},
		{2, 4 * time.Second, 5 * time.Second},
		{3, 8 * time.Second, 9 * time.Second},
		{4, 10 * time.Second, 11 * time.Second},
		{10, 10 * time.Second, 11 * time.Second},
		{63, 10 * time.Second, 11 * time.Second},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := backoffDelay(tt.attempt)
			if got < tt.min || got >= tt.max {
				t.Errorf("backoffDelay(%d) = %v, want [%v, %v)", tt.attempt, got, tt.min, tt.max)
			}
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{200, ""},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if retryable(ErrorClassClient) {
		t.Error("client errors must not be retried")
	}
	for _, class := range []ErrorClass{ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork} {
		if !retryable(class) {
			t.Errorf("%s errors should be retried", class)
		}
	}
}

func TestClassifyAttemptError(t *testing.T) {
	se := &statusError{StatusCode: 503, Status: "503 Service Unavailable", Class: ErrorClassServer}
	if got := classifyAttemptError(se); got != ErrorClassServer {
		t.Errorf("classifyAttemptError(statusError) = %q, want server", got)
	}
	if got := classifyAttemptError(errors.New("dial tcp: connection refused")); got != ErrorClassNetwork {
		t.Errorf("classifyAttemptError(plain) = %q, want network", got)
	}
}

func TestErrorSentinels(t *testing.T) {
	var err error = &RequestFailedError{Attempts: 4, LastErr: errors.New("boom")}
	if !errors.Is(err, ErrRequestFailed) {
		t.Error("RequestFailedError should match ErrRequestFailed")
	}
	if errors.Unwrap(err) == nil {
		t.Error("RequestFailedError should unwrap to its last error")
	}

	err = &NonRetryableError{StatusCode: 404, Status: "404 Not Found"}
	if !errors.Is(err, ErrNonRetryable) {
		t.Error("NonRetryableError should match ErrNonRetryable")
	}

	err = &CircuitOpenError{}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("CircuitOpenError should match ErrCircuitOpen")
	}
}
