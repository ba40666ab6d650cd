// Package batch provides parallel bulk fetching of documentation URLs,
// typically to warm the cache ahead of interactive traffic.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/docpilot/source-client/pkg/client"
)

// Config holds batch fetcher configuration.
type Config struct {
	// Workers is the number of parallel fetch goroutines. The client's
	// own concurrency gate still applies underneath.
	Workers int

	// Timeout bounds each URL fetch.
	Timeout time.Duration
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Timeout: 30 * time.Second,
	}
}

// Doer is the request surface the fetcher needs from the client.
type Doer interface {
	Do(ctx context.Context, req *client.Request) (*client.Response, error)
}

// Result is the outcome of fetching one URL.
type Result struct {
	URL       string
	Response  *client.Response
	Err       error
	FromCache bool
}

// Fetcher fans a set of requests out over a worker pool and collects
// per-URL results.
type Fetcher struct {
	doer   Doer
	config Config
	logger zerolog.Logger
}

// New creates a batch fetcher on top of the given client.
func New(doer Doer, config Config) *Fetcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Fetcher{
		doer:   doer,
		config: config,
		logger: log.With().Str("component", "batch-fetcher").Logger(),
	}
}

// FetchAll fetches every request and returns results keyed by URL.
// Individual failures are reported in their Result; FetchAll itself
// only fails when the context is cancelled before all work finished.
func (f *Fetcher) FetchAll(ctx context.Context, requests []*client.Request) (map[string]Result, error) {
	start := time.Now()

	f.logger.Info().
		Int("urls", len(requests)).
		Int("workers", f.config.Workers).
		Msg("Starting batch fetch")

	queue := make(chan *client.Request)
	resultCh := make(chan Result, len(requests))

	var wg sync.WaitGroup
	for i := 0; i < f.config.Workers; i++ {
		wg.Add(1)
		go f.worker(ctx, queue, resultCh, &wg)
	}

	go func() {
		defer close(queue)
		for _, req := range requests {
			select {
			case queue <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make(map[string]Result, len(requests))
	var fetched, failed, cached int
	for result := range resultCh {
		results[result.URL] = result
		switch {
		case result.Err != nil:
			failed++
		case result.FromCache:
			cached++
			fetched++
		default:
			fetched++
		}
	}

	f.logger.Info().
		Int("fetched", fetched).
		Int("cached", cached).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	if err := ctx.Err(); err != nil && len(results) < len(requests) {
		return results, err
	}
	return results, nil
}

// worker drains the queue, fetching each request under its own timeout.
func (f *Fetcher) worker(ctx context.Context, queue <-chan *client.Request, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for req := range queue {
		if ctx.Err() != nil {
			return
		}

		fetchCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		resp, err := f.doer.Do(fetchCtx, req)
		cancel()

		if err != nil {
			f.logger.Warn().
				Err(err).
				Str("url", req.URL).
				Msg("Batch fetch for URL failed")
			results <- Result{URL: req.URL, Err: err}
			continue
		}

		results <- Result{
			URL:       req.URL,
			Response:  resp,
			FromCache: resp.FromCache,
		}
	}
}
