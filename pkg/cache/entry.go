package cache

import (
	"math"
	"net/http"
	"time"
)

// adaptiveHitThreshold is the hit count above which an entry starts
// earning extra lifetime.
const adaptiveHitThreshold = 10

// Entry is one cached response.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// StatusCode is the HTTP status of the cached response.
	StatusCode int `json:"status_code"`

	// Headers are the response headers at cache time.
	Headers http.Header `json:"headers"`

	// ETag for conditional requests (If-None-Match).
	ETag string `json:"etag,omitempty"`

	// LastModified for conditional requests (If-Modified-Since).
	LastModified time.Time `json:"last_modified,omitzero"`

	// StoredAt is when the entry was written.
	StoredAt time.Time `json:"stored_at"`

	// TTL is the nominal freshness window.
	TTL time.Duration `json:"ttl"`

	// HitCount is how many times the entry has been served.
	HitCount int `json:"hit_count"`

	// SizeBytes is the estimated in-memory footprint.
	SizeBytes int `json:"size_bytes"`

	// accessSeq is the monotonic access-order stamp used for LRU
	// eviction. Not serialized; only meaningful in the memory tier.
	accessSeq uint64
}

// EffectiveTTL returns the freshness window after the adaptive bonus.
// Hot entries (more than adaptiveHitThreshold hits) get their TTL
// extended by a logarithmic factor of the hit count; the bonus only
// grows and never shrinks the window below the nominal TTL.
func (e *Entry) EffectiveTTL(adaptive bool) time.Duration {
	if !adaptive || e.HitCount <= adaptiveHitThreshold {
		return e.TTL
	}
	factor := 1 + math.Log(float64(e.HitCount))/10
	return time.Duration(float64(e.TTL) * factor)
}

// Fresh reports whether the entry is still servable at the given time.
func (e *Entry) Fresh(now time.Time, adaptive bool) bool {
	return now.Sub(e.StoredAt) <= e.EffectiveTTL(adaptive)
}

// HasValidators reports whether the entry carries an ETag or
// Last-Modified value usable for conditional requests.
func (e *Entry) HasValidators() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// estimateSize approximates the entry's memory footprint: body bytes
// plus header text plus a fixed overhead for the struct itself.
func (e *Entry) estimateSize() int {
	const structOverhead = 128

	size := len(e.Data) + structOverhead
	for name, values := range e.Headers {
		size += len(name)
		for _, v := range values {
			size += len(v)
		}
	}
	return size
}
