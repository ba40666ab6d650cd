// Package client provides the outbound HTTP client for documentation
// sources, layering circuit breaking, rate limiting, bounded
// concurrency, retry with backoff, and response caching on top of a
// standard transport.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/docpilot/source-client/pkg/breaker"
	"github.com/docpilot/source-client/pkg/cache"
	"github.com/docpilot/source-client/pkg/endpoint"
	"github.com/docpilot/source-client/pkg/gate"
	"github.com/docpilot/source-client/pkg/ratelimit"
)

// Prometheus metrics for request outcomes.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_requests_total",
		Help: "Total outbound requests by endpoint and outcome",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetch_request_duration_seconds",
		Help:    "Outbound request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// Timeout is the default per-attempt timeout.
	Timeout time.Duration

	// RetryAttempts is the default maximum number of retries after the
	// initial attempt.
	RetryAttempts int

	// MaxConcurrentRequests bounds in-flight requests process-wide.
	MaxConcurrentRequests int

	// MaxQueueDepth bounds requests waiting for a concurrency slot.
	MaxQueueDepth int

	// UserAgent identifies this fetcher to remote sources (required).
	UserAgent string

	// ValidateSSL controls TLS certificate verification.
	ValidateSSL bool

	// FollowRedirects controls whether 3xx responses are followed.
	FollowRedirects bool

	// Cache configures the response cache.
	Cache cache.Config

	// Redis, when set, enables the shared remote cache tier.
	Redis *redis.Client

	// Auth supplies credentials for authenticated sources (optional).
	Auth AuthProvider
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		Timeout:               30 * time.Second,
		RetryAttempts:         3,
		MaxConcurrentRequests: 5,
		MaxQueueDepth:         128,
		UserAgent:             userAgent,
		ValidateSSL:           true,
		FollowRedirects:       true,
		Cache:                 cache.DefaultConfig(),
	}
}

// Client is the resilient outbound HTTP client.
type Client struct {
	httpClient *http.Client
	breaker    *breaker.Registry
	limiter    *ratelimit.Limiter
	gate       *gate.Gate
	cache      *cache.Manager
	auth       AuthProvider
	config     Config
	logger     zerolog.Logger

	// sleep waits out retry backoff, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	totalReqs    uint64
	successReqs  uint64
	failedReqs   uint64
	totalLatency time.Duration
	closed       bool

	closeOnce sync.Once
}

// New creates a client from the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("retry_attempts must be >= 0 (got %d)", cfg.RetryAttempts)
	}

	logger := log.With().Str("component", "source-client").Logger()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.ValidateSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	httpClient := &http.Client{Transport: transport}
	if !cfg.FollowRedirects {
		httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var remote cache.RemoteStore
	if cfg.Redis != nil {
		remote = cache.NewRedisStore(cfg.Redis)
	}

	return &Client{
		httpClient: httpClient,
		breaker:    breaker.NewRegistry(breaker.DefaultConfig(), logger),
		limiter:    ratelimit.NewLimiter(logger),
		gate: gate.New(gate.Config{
			MaxConcurrent: cfg.MaxConcurrentRequests,
			MaxQueueDepth: cfg.MaxQueueDepth,
		}, logger),
		cache:  cache.NewManager(cfg.Cache, remote, logger),
		auth:   cfg.Auth,
		config: cfg,
		logger: logger,
		sleep:  sleepBackoff,
	}, nil
}

// Do performs one logical request with caching, circuit breaking, rate
// limiting, bounded concurrency, and retry. The cache may satisfy the
// request without any network traffic; an open circuit rejects it
// before any attempt is made.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	key := req.Endpoint
	if key.IsZero() {
		key = keyFromURL(req.URL)
	}

	start := time.Now()
	cacheKey := cache.Key(req.Method, req.URL, req.QueryParams)
	cacheable := req.Method == http.MethodGet && !req.SkipCache

	// Step 1: the cache may short-circuit the whole pipeline.
	var stale *cache.Entry
	if cacheable {
		if e, ok := c.cache.Get(ctx, cacheKey); ok {
			c.logger.Debug().
				Str("endpoint", key.String()).
				Str("url", req.URL).
				Msg("Serving response from cache")
			requestsTotal.WithLabelValues(key.String(), "cache_hit").Inc()
			return responseFromEntry(e, req.URL, time.Since(start)), nil
		}
		// A stale entry with validators is worth a conditional request.
		if e, ok := c.cache.Peek(cacheKey); ok && cache.ShouldRevalidate(e) {
			stale = e
		}
	}

	// Step 2: fail fast if the endpoint's circuit is open.
	if !c.breaker.Allow(key) {
		c.logger.Warn().
			Str("endpoint", key.String()).
			Msg("Request rejected by open circuit")
		requestsTotal.WithLabelValues(key.String(), "circuit_open").Inc()
		return nil, &CircuitOpenError{Endpoint: key}
	}

	// Step 3: honor the endpoint's rate limit; may suspend the caller.
	if err := c.limiter.Acquire(ctx, key, req.Config.RateLimit); err != nil {
		return nil, err
	}

	// Step 4: resolve credentials outside the gate so slow providers
	// do not hold an execution slot.
	prepared, err := c.prepare(ctx, req, key, stale)
	if err != nil {
		return nil, err
	}

	maxRetries := req.Config.RetryAttempts
	if maxRetries < 0 {
		maxRetries = c.config.RetryAttempts
	}

	// Step 5: execute under the concurrency gate.
	var resp *Response
	var reqErr error
	if gateErr := c.gate.Run(ctx, func() error {
		resp, reqErr = c.executeWithRetry(ctx, prepared, maxRetries)
		return nil
	}); gateErr != nil {
		// Queue full, shutdown, or cancelled while queued: no attempt
		// was made, so the breaker is not involved.
		requestsTotal.WithLabelValues(key.String(), "rejected").Inc()
		return nil, gateErr
	}

	// Step 6: record the outcome.
	duration := time.Since(start)
	requestDuration.WithLabelValues(key.String()).Observe(duration.Seconds())

	if reqErr != nil {
		c.breaker.RecordFailure(key)
		c.recordResult(duration, false)
		requestsTotal.WithLabelValues(key.String(), "error").Inc()
		return nil, reqErr
	}

	c.breaker.RecordSuccess(key)
	c.recordResult(duration, true)
	requestsTotal.WithLabelValues(key.String(), fmt.Sprintf("%d", resp.StatusCode)).Inc()

	// Step 7: a 304 confirms the stale entry; restart its clock.
	if resp.StatusCode == http.StatusNotModified && stale != nil {
		cache.NotModifiedResponses.Inc()
		c.cache.Refresh(cacheKey, req.Config.CacheTTL)
		c.logger.Debug().
			Str("endpoint", key.String()).
			Msg("304 Not Modified, serving revalidated cache entry")
		return responseFromEntry(stale, req.URL, duration), nil
	}

	// Step 8: store fresh successful responses, evicting any cached
	// entry whose validators no longer match.
	if cacheable && resp.StatusCode == http.StatusOK {
		if !c.cache.ValidForHeaders(cacheKey, resp.Headers) {
			c.cache.Invalidate(ctx, cacheKey)
		}
		c.cache.Set(ctx, cacheKey, entryFromResponse(resp, req.Config.CacheTTL))
	}

	return resp, nil
}

// prepare merges auth credentials and cache validators into a copy of
// the request, leaving the caller's request untouched.
func (c *Client) prepare(ctx context.Context, req *Request, key endpoint.Key, stale *cache.Entry) (*Request, error) {
	prepared := *req
	prepared.Endpoint = key
	prepared.Headers = make(map[string]string, len(req.Headers)+2)
	for k, v := range req.Headers {
		prepared.Headers[k] = v
	}

	if c.auth != nil {
		headers, query, err := c.auth.Credentials(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
		for k, v := range headers {
			prepared.Headers[k] = v
		}
		if len(query) > 0 {
			merged := url.Values{}
			for k, vs := range req.QueryParams {
				merged[k] = vs
			}
			for k, vs := range query {
				merged[k] = vs
			}
			prepared.QueryParams = merged
		}
	}

	if stale != nil {
		cache.ConditionalRequestsSent.Inc()
		if stale.ETag != "" {
			prepared.Headers["If-None-Match"] = stale.ETag
		} else if !stale.LastModified.IsZero() {
			prepared.Headers["If-Modified-Since"] = stale.LastModified.Format(http.TimeFormat)
		}
	}

	return &prepared, nil
}

// attempt executes one physical request under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	timeout := req.Config.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if len(req.QueryParams) > 0 {
		query := httpReq.URL.Query()
		for k, vs := range req.QueryParams {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
		httpReq.URL.RawQuery = query.Encode()
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, &statusError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Class:      classifyStatus(httpResp.StatusCode),
		}
	}

	return &Response{
		Data:          data,
		StatusCode:    httpResp.StatusCode,
		Status:        httpResp.Status,
		Headers:       httpResp.Header.Clone(),
		URL:           httpReq.URL.String(),
		ContentType:   httpResp.Header.Get("Content-Type"),
		ContentLength: len(data),
		ResponseTime:  time.Since(start),
	}, nil
}

// Get performs a GET request against the given endpoint and URL.
func (c *Client) Get(ctx context.Context, key endpoint.Key, rawURL string) (*Response, error) {
	return c.Do(ctx, &Request{
		Method:   http.MethodGet,
		URL:      rawURL,
		Endpoint: key,
		Config:   EndpointConfig{RetryAttempts: -1},
	})
}

// recordResult updates the rolling request counters.
func (c *Client) recordResult(latency time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalReqs++
	c.totalLatency += latency
	if success {
		c.successReqs++
	} else {
		c.failedReqs++
	}
}

// Stats is a read-only snapshot of client activity.
type Stats struct {
	TotalRequests       uint64                                `json:"total_requests"`
	SuccessfulRequests  uint64                                `json:"successful_requests"`
	FailedRequests      uint64                                `json:"failed_requests"`
	AverageResponseTime time.Duration                         `json:"average_response_time"`
	PeakConcurrency     int                                   `json:"peak_concurrency"`
	QueueDepth          int                                   `json:"queue_depth"`
	CircuitBreakerTrips uint64                                `json:"circuit_breaker_trips"`
	RateLimitWaits      uint64                                `json:"rate_limit_waits"`
	Cache               cache.Stats                           `json:"cache"`
	CircuitState        map[string]breaker.KeyState           `json:"circuit_state"`
	RateLimitState      map[string]ratelimit.WindowSnapshot   `json:"rate_limit_state"`
}

// Stats returns a snapshot of request, circuit, rate limit, and cache
// activity.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	total := c.totalReqs
	success := c.successReqs
	failed := c.failedReqs
	var avg time.Duration
	if total > 0 {
		avg = c.totalLatency / time.Duration(total)
	}
	c.mu.Unlock()

	return Stats{
		TotalRequests:       total,
		SuccessfulRequests:  success,
		FailedRequests:      failed,
		AverageResponseTime: avg,
		PeakConcurrency:     c.gate.Peak(),
		QueueDepth:          c.gate.QueueDepth(),
		CircuitBreakerTrips: c.breaker.TotalTrips(),
		RateLimitWaits:      c.limiter.WaitCount(),
		Cache:               c.cache.Stats(),
		CircuitState:        c.breaker.Snapshot(),
		RateLimitState:      c.limiter.Snapshot(),
	}
}

// Cache exposes the cache manager for direct invalidation by callers.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

// isClosed reports whether Close has been called.
func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close shuts down the client: queued requests are rejected, the cache
// sweep stops, and all per-endpoint state is cleared. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.gate.Close()
		c.cache.Close()
		c.breaker.Reset()
		c.limiter.Reset()
		c.httpClient.CloseIdleConnections()

		c.logger.Info().Msg("Client closed")
	})
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// keyFromURL derives an endpoint key for requests that did not carry
// one, using the URL host as source and path as endpoint name.
func keyFromURL(rawURL string) endpoint.Key {
	u, err := url.Parse(rawURL)
	if err != nil {
		return endpoint.Key{Source: "unknown", Name: rawURL}
	}
	return endpoint.Key{Source: u.Host, Name: u.Path}
}

// responseFromEntry builds a Response served from the cache.
func responseFromEntry(e *cache.Entry, rawURL string, elapsed time.Duration) *Response {
	return &Response{
		Data:          e.Data,
		StatusCode:    e.StatusCode,
		Status:        http.StatusText(e.StatusCode),
		Headers:       e.Headers.Clone(),
		URL:           rawURL,
		ContentType:   e.Headers.Get("Content-Type"),
		ContentLength: len(e.Data),
		ResponseTime:  elapsed,
		FromCache:     true,
	}
}

// entryFromResponse builds a cache entry from a fresh response.
func entryFromResponse(resp *Response, ttl time.Duration) *cache.Entry {
	entry := &cache.Entry{
		Data:       resp.Data,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers.Clone(),
		ETag:       resp.Headers.Get("ETag"),
		TTL:        ttl,
	}
	if lastModStr := resp.Headers.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}
	return entry
}
