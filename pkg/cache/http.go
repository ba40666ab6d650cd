package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ResponseToEntry converts an HTTP response into a cache entry with the
// given nominal TTL. It reads the body and restores it for the caller,
// and records the ETag and Last-Modified validators if present.
func ResponseToEntry(resp *http.Response, ttl time.Duration) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore the body for the caller.
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		Data:       body,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		ETag:       resp.Header.Get("ETag"),
		StoredAt:   time.Now(),
		TTL:        ttl,
	}

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	entry.SizeBytes = entry.estimateSize()
	return entry, nil
}

// EntryToResponse reconstructs an HTTP response from a cached entry.
func EntryToResponse(entry *Entry) *http.Response {
	return &http.Response{
		StatusCode: entry.StatusCode,
		Status:     http.StatusText(entry.StatusCode),
		Header:     entry.Headers.Clone(),
		Body:       io.NopCloser(bytes.NewReader(entry.Data)),
	}
}

// ShouldRevalidate reports whether a stale entry is worth a conditional
// request instead of a full refetch.
func ShouldRevalidate(entry *Entry) bool {
	return entry != nil && entry.HasValidators()
}

// AddValidators attaches If-None-Match or If-Modified-Since headers to
// the request. ETag wins when both validators are present.
func AddValidators(req *http.Request, entry *Entry) {
	if req == nil || entry == nil {
		return
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}
