// Command source-proxy exposes the resilient source client as a small
// HTTP service: a fetch endpoint that proxies documentation requests
// through the cache and resilience pipeline, plus health, stats, and
// Prometheus endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/docpilot/source-client/pkg/client"
	"github.com/docpilot/source-client/pkg/endpoint"
	"github.com/docpilot/source-client/pkg/logging"
)

func main() {
	logger := logging.Setup(logging.FromEnv())

	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "source-proxy/0.1.0")

	cfg := client.DefaultConfig(userAgent)
	if v := os.Getenv("MAX_CONCURRENT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Fatal().Str("value", v).Msg("Invalid MAX_CONCURRENT_REQUESTS")
		}
		cfg.MaxConcurrentRequests = n
	}

	// The shared Redis tier is opt-in; without it the cache runs
	// memory-only.
	var redisClient *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		cfg.Redis = redisClient
		logger.Info().Str("addr", redisURL).Msg("Connected to Redis cache tier")
	}

	sourceClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create source client")
	}
	defer sourceClient.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(redisClient))
	mux.HandleFunc("/stats", statsHandler(sourceClient))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/fetch", fetchHandler(sourceClient))

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", server.Addr).Str("user_agent", userAgent).Msg("Starting source proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports ready once dependencies answer. Without a Redis
// tier there is nothing external to check.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// statsHandler dumps the client's activity snapshot as JSON.
func statsHandler(sourceClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sourceClient.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// fetchHandler proxies a documentation request through the client.
//
//	GET /fetch?url=https://example.org/doc&source=example&ttl=300
//
// The source parameter scopes circuit breaker and rate limiter state;
// it defaults to the target host. ttl is the cache TTL in seconds.
func fetchHandler(sourceClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}

		req := &client.Request{
			Method: http.MethodGet,
			URL:    target,
		}
		if source := r.URL.Query().Get("source"); source != "" {
			req.Endpoint = endpoint.Key{Source: source, Name: r.URL.Query().Get("name")}
		}
		if ttlStr := r.URL.Query().Get("ttl"); ttlStr != "" {
			ttl, err := strconv.Atoi(ttlStr)
			if err != nil {
				http.Error(w, "invalid ttl parameter", http.StatusBadRequest)
				return
			}
			req.Config.CacheTTL = time.Duration(ttl) * time.Second
		}
		req.Config.RetryAttempts = -1

		resp, err := sourceClient.Do(r.Context(), req)
		if err != nil {
			writeFetchError(w, err)
			return
		}

		for key, values := range resp.Headers {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		if resp.FromCache {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Data)
	}
}

// writeFetchError maps client errors to proxy status codes.
func writeFetchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, client.ErrCircuitOpen):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, client.ErrNonRetryable):
		var nre *client.NonRetryableError
		if errors.As(err, &nre) {
			http.Error(w, err.Error(), nre.StatusCode)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
