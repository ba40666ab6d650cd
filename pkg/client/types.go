package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/docpilot/source-client/pkg/endpoint"
)

// EndpointConfig carries the per-endpoint settings resolved by the
// source registry. Zero values fall back to the client defaults.
type EndpointConfig struct {
	// Timeout bounds each physical attempt.
	Timeout time.Duration

	// RetryAttempts is the maximum number of retries after the initial
	// attempt. Negative means "use the client default".
	RetryAttempts int

	// RateLimit is the endpoint's request budget per 60-second window.
	// Zero means unlimited.
	RateLimit int

	// CacheTTL is the nominal freshness window for cached responses.
	// Zero means the cache default.
	CacheTTL time.Duration
}

// Request is one logical outbound request to a documentation source.
// URL construction, pagination, and templating happen upstream; the
// URL arrives here final.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams url.Values
	Body        []byte

	// Endpoint scopes circuit breaker and rate limiter state.
	Endpoint endpoint.Key

	// Config holds per-endpoint overrides.
	Config EndpointConfig

	// SkipCache bypasses the response cache for this request.
	SkipCache bool
}

// Response is the retrieved document handed to content extraction.
type Response struct {
	Data          []byte
	StatusCode    int
	Status        string
	Headers       http.Header
	URL           string
	ContentType   string
	ContentLength int
	ResponseTime  time.Duration

	// FromCache marks responses served without a network round trip.
	FromCache bool
}

// AuthProvider supplies credentials for authenticated sources. Token
// acquisition and refresh live outside this subsystem; the client only
// attaches what the provider returns.
type AuthProvider interface {
	// Credentials returns headers and query parameters to attach to a
	// request for the given endpoint.
	Credentials(ctx context.Context, key endpoint.Key) (headers map[string]string, query url.Values, err error)
}
