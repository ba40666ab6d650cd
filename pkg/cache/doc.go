// Package cache implements the response cache for retrieved documents:
// an in-memory LRU with per-entry TTL, adaptive TTL extension for hot
// entries, and ETag/Last-Modified validator awareness, with an optional
// Redis tier shared between processes.
//
// The cache is a performance layer, not a correctness dependency. Every
// failure path degrades to a miss: a broken remote store or a corrupted
// entry never surfaces as an error to the request path.
//
// Freshness is decided twice. The TTL clock answers "is this entry
// recent enough to serve without asking upstream". The HTTP validators
// answer "has upstream actually changed" and override the TTL clock in
// both directions: a 304 Not Modified extends a stale entry's life, and
// a changed ETag kills a fresh one.
//
// Hot entries earn extra lifetime. Once an entry has been hit more than
// ten times its effective TTL grows by a logarithmic factor of the hit
// count, so frequently read documents survive longer than their nominal
// TTL while cold entries expire on schedule and are reclaimed by the
// background sweep.
package cache
