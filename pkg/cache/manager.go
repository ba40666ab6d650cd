package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRemoteMiss indicates the remote tier has no entry for the key.
var ErrRemoteMiss = errors.New("cache: remote miss")

// RemoteStore is an optional second cache tier shared between processes
// (Redis in production). Every error from a RemoteStore is logged and
// treated as a miss or no-op; it never reaches the request path.
type RemoteStore interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Config holds cache tuning parameters.
type Config struct {
	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration

	// MaxEntries bounds the memory tier entry count.
	MaxEntries int

	// MaxBytes bounds the memory tier's estimated footprint.
	MaxBytes int64

	// AdaptiveTTL enables the hit-count based TTL extension.
	AdaptiveTTL bool

	// SweepInterval is how often expired entries are reaped in the
	// background. Zero disables the sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns safe cache defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    5 * time.Minute,
		MaxEntries:    1000,
		MaxBytes:      64 << 20, // 64 MiB
		AdaptiveTTL:   true,
		SweepInterval: time.Minute,
	}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"size_bytes"`
}

// Manager is the in-memory LRU response cache with an optional remote tier.
type Manager struct {
	config Config
	logger zerolog.Logger
	remote RemoteStore

	mu        sync.Mutex
	entries   map[string]*Entry
	sizeBytes int64
	accessSeq uint64

	hits      uint64
	misses    uint64
	evictions uint64

	stop      chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a cache manager and starts the background sweep.
// remote may be nil for a purely in-process cache.
func NewManager(config Config, remote RemoteStore, logger zerolog.Logger) *Manager {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 64 << 20
	}

	m := &Manager{
		config:    config,
		logger:    logger,
		remote:    remote,
		entries:   make(map[string]*Entry),
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
		now:       time.Now,
	}

	if config.SweepInterval > 0 {
		go m.sweepLoop()
	} else {
		close(m.sweepDone)
	}

	return m
}

// Get returns the cached entry for key if it is still fresh.
// Expired entries are reported as misses but left in place; the next
// Set overwrites them and the background sweep reclaims cold ones.
func (m *Manager) Get(ctx context.Context, key string) (*Entry, bool) {
	m.mu.Lock()

	if e, ok := m.entries[key]; ok {
		if e.Fresh(m.now(), m.config.AdaptiveTTL) {
			e.HitCount++
			m.accessSeq++
			e.accessSeq = m.accessSeq
			m.hits++
			m.mu.Unlock()

			CacheHits.WithLabelValues("memory").Inc()
			return e, true
		}
		m.misses++
		m.mu.Unlock()
		CacheMisses.Inc()
		return nil, false
	}
	m.mu.Unlock()

	// Memory miss: consult the remote tier before giving up.
	if m.remote != nil {
		if e := m.remoteGet(ctx, key); e != nil {
			m.insert(key, e, false)
			CacheHits.WithLabelValues("redis").Inc()
			m.mu.Lock()
			m.hits++
			m.mu.Unlock()
			return e, true
		}
	}

	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	CacheMisses.Inc()
	return nil, false
}

// Peek returns the entry for key even if stale, without touching the
// hit count or access order. The revalidation path uses it to recover
// validators from an expired entry.
func (m *Manager) Peek(key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	return e, ok
}

// remoteGet fetches a fresh entry from the remote tier, degrading every
// failure to a miss.
func (m *Manager) remoteGet(ctx context.Context, key string) *Entry {
	e, err := m.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrRemoteMiss) {
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("Remote cache get failed, treating as miss")
		}
		return nil
	}
	if e == nil || !e.Fresh(m.now(), m.config.AdaptiveTTL) {
		return nil
	}
	return e
}

// Set stores an entry under key. A zero TTL falls back to the default.
// Eviction runs before insertion whenever the entry count or byte
// budget would be exceeded.
func (m *Manager) Set(ctx context.Context, key string, entry *Entry) {
	if entry == nil {
		return
	}
	if entry.TTL <= 0 {
		entry.TTL = m.config.DefaultTTL
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = m.now()
	}
	entry.SizeBytes = entry.estimateSize()

	m.insert(key, entry, true)

	if m.remote != nil {
		if err := m.remote.Set(ctx, key, entry, entry.EffectiveTTL(m.config.AdaptiveTTL)); err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("Remote cache set failed")
		}
	}
}

// insert places an entry into the memory tier, evicting as needed.
func (m *Manager) insert(key string, entry *Entry, replace bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[key]; ok {
		if !replace {
			// Another caller repopulated the key while we were in the
			// remote tier; keep the newer local entry.
			return
		}
		m.sizeBytes -= int64(old.SizeBytes)
		delete(m.entries, key)
	}

	if entry.SizeBytes == 0 {
		entry.SizeBytes = entry.estimateSize()
	}

	// An entry that cannot fit even in an empty cache is not cacheable.
	if int64(entry.SizeBytes) > m.config.MaxBytes {
		m.logger.Debug().
			Str("key", key).
			Int("size_bytes", entry.SizeBytes).
			Msg("Entry exceeds cache byte budget, not caching")
		return
	}

	// Evict by LRU score until both bounds hold.
	for len(m.entries) >= m.config.MaxEntries ||
		m.sizeBytes+int64(entry.SizeBytes) > m.config.MaxBytes {
		if !m.evictOldestLocked() {
			break
		}
	}

	m.accessSeq++
	entry.accessSeq = m.accessSeq
	m.entries[key] = entry
	m.sizeBytes += int64(entry.SizeBytes)

	CacheEntries.Set(float64(len(m.entries)))
	CacheSizeBytes.Set(float64(m.sizeBytes))
}

// evictOldestLocked removes the least recently accessed entry.
// Caller must hold m.mu. Returns false when the cache is empty.
func (m *Manager) evictOldestLocked() bool {
	var oldestKey string
	var oldestSeq uint64
	found := false

	for key, e := range m.entries {
		if !found || e.accessSeq < oldestSeq {
			oldestKey = key
			oldestSeq = e.accessSeq
			found = true
		}
	}
	if !found {
		return false
	}

	m.removeLocked(oldestKey)
	m.evictions++
	CacheEvictions.WithLabelValues("lru").Inc()
	return true
}

// removeLocked drops an entry and adjusts the size accounting.
// Caller must hold m.mu.
func (m *Manager) removeLocked(key string) {
	if e, ok := m.entries[key]; ok {
		m.sizeBytes -= int64(e.SizeBytes)
		delete(m.entries, key)
		CacheEntries.Set(float64(len(m.entries)))
		CacheSizeBytes.Set(float64(m.sizeBytes))
	}
}

// Delete removes an entry from both tiers.
func (m *Manager) Delete(ctx context.Context, key string) {
	m.mu.Lock()
	m.removeLocked(key)
	m.mu.Unlock()

	if m.remote != nil {
		if err := m.remote.Delete(ctx, key); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("Remote cache delete failed")
		}
	}
}

// Invalidate removes an entry whose upstream validators no longer match.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	CacheEvictions.WithLabelValues("invalidated").Inc()
	m.logger.Debug().Str("key", key).Msg("Cache entry invalidated by changed validators")
	m.Delete(ctx, key)
}

// ValidForHeaders reports whether the cached entry for key is still
// valid against a freshly fetched response's validator headers. A
// changed ETag or a newer Last-Modified invalidates the entry even if
// its TTL has not expired.
func (m *Manager) ValidForHeaders(key string, headers http.Header) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return false
	}

	if etag := headers.Get("ETag"); etag != "" && e.ETag != "" && etag != e.ETag {
		return false
	}

	if lastModStr := headers.Get("Last-Modified"); lastModStr != "" && !e.LastModified.IsZero() {
		if lastMod, err := http.ParseTime(lastModStr); err == nil && lastMod.After(e.LastModified) {
			return false
		}
	}

	return true
}

// Refresh restarts the freshness clock of an existing entry, used when
// a 304 Not Modified confirms the cached body is still current.
func (m *Manager) Refresh(key string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.StoredAt = m.now()
	if ttl > 0 {
		e.TTL = ttl
	}
	m.accessSeq++
	e.accessSeq = m.accessSeq
}

// Clear empties the memory tier.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*Entry)
	m.sizeBytes = 0
	CacheEntries.Set(0)
	CacheSizeBytes.Set(0)
}

// Stats returns a snapshot of cache activity.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   len(m.entries),
		SizeBytes: m.sizeBytes,
	}
}

// sweepLoop reaps expired entries off the request path so cold keys
// cannot pin memory forever.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes every expired entry, independent of access patterns.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !e.Fresh(now, m.config.AdaptiveTTL) {
			m.removeLocked(key)
			m.evictions++
			CacheEvictions.WithLabelValues("expired").Inc()
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(m.entries)).
			Msg("Cache sweep removed expired entries")
	}
}

// Close stops the background sweep and clears the memory tier.
// Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.sweepDone
		m.Clear()
	})
}
