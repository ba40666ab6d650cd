package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testManager(config Config) *Manager {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	// Tests drive expiry through the swappable clock; no background sweep.
	config.SweepInterval = 0
	return NewManager(config, nil, logger)
}

func TestSetGet_Roundtrip(t *testing.T) {
	m := testManager(DefaultConfig())
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", &Entry{Data: []byte("hello"), StatusCode: 200, TTL: time.Minute})

	e, ok := m.Get(ctx, "k")
	if !ok {
		t.Fatal("Get() miss immediately after Set()")
	}
	if string(e.Data) != "hello" {
		t.Errorf("Data = %q, want %q", e.Data, "hello")
	}
	if e.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", e.StatusCode)
	}
	if e.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1 after first Get", e.HitCount)
	}
}

func TestGet_MissOnAbsentKey(t *testing.T) {
	m := testManager(DefaultConfig())
	defer m.Close()

	if _, ok := m.Get(context.Background(), "nope"); ok {
		t.Error("Get() hit for absent key")
	}

	stats := m.Stats()
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
}

func TestGet_MissOnExpiredEntry(t *testing.T) {
	m := testManager(DefaultConfig())
	defer m.Close()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", &Entry{Data: []byte("v"), TTL: time.Minute})

	now = now.Add(2 * time.Minute)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("Get() hit for expired entry")
	}

	// Expired entries are not deleted on read; the next Set overwrites.
	m.mu.Lock()
	_, stillThere := m.entries["k"]
	m.mu.Unlock()
	if !stillThere {
		t.Error("expired entry was deleted on read, want lazy overwrite")
	}
}

func TestSet_DefaultTTL(t *testing.T) {
	config := DefaultConfig()
	config.DefaultTTL = 42 * time.Second
	m := testManager(config)
	defer m.Close()

	m.Set(context.Background(), "k", &Entry{Data: []byte("v")})

	e, ok := m.Get(context.Background(), "k")
	if !ok {
		t.Fatal("Get() miss")
	}
	if e.TTL != 42*time.Second {
		t.Errorf("TTL = %v, want default 42s", e.TTL)
	}
}

func TestLRU_EvictsOldestAccessed(t *testing.T) {
	config := DefaultConfig()
	config.MaxEntries = 3
	config.AdaptiveTTL = false
	m := testManager(config)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "a", &Entry{Data: []byte("a"), TTL: time.Hour})
	m.Set(ctx, "b", &Entry{Data: []byte("b"), TTL: time.Hour})
	m.Set(ctx, "c", &Entry{Data: []byte("c"), TTL: time.Hour})

	// Touch "a" so "b" becomes the least recently accessed.
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("Get(a) miss")
	}

	m.Set(ctx, "d", &Entry{Data: []byte("d"), TTL: time.Hour})

	if _, ok := m.Get(ctx, "b"); ok {
		t.Error("least recently accessed entry b survived eviction")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := m.Get(ctx, key); !ok {
			t.Errorf("entry %q was evicted, want only the LRU entry gone", key)
		}
	}

	if stats := m.Stats(); stats.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", stats.Evictions)
	}
}

func TestByteBudget_EvictsBeforeInsert(t *testing.T) {
	config := DefaultConfig()
	config.MaxBytes = 2048
	m := testManager(config)
	defer m.Close()
	ctx := context.Background()

	// Each entry is ~640 bytes with overhead; the fourth insert must evict.
	for _, key := range []string{"a", "b", "c", "d"} {
		m.Set(ctx, key, &Entry{Data: make([]byte, 512), TTL: time.Hour})
	}

	stats := m.Stats()
	if stats.SizeBytes > 2048 {
		t.Errorf("SizeBytes = %d, exceeds 2048 budget", stats.SizeBytes)
	}
	if stats.Evictions == 0 {
		t.Error("no evictions despite exceeding byte budget")
	}
}

func TestSet_OversizedEntryNotCached(t *testing.T) {
	config := DefaultConfig()
	config.MaxBytes = 1024
	m := testManager(config)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "small", &Entry{Data: []byte("v"), TTL: time.Hour})
	m.Set(ctx, "huge", &Entry{Data: make([]byte, 4096), TTL: time.Hour})

	if _, ok := m.Get(ctx, "huge"); ok {
		t.Error("oversized entry was cached")
	}
	if _, ok := m.Get(ctx, "small"); !ok {
		t.Error("small entry evicted to make room for uncacheable entry")
	}
}

func TestAdaptiveTTL_HotEntryOutlivesNominalTTL(t *testing.T) {
	config := DefaultConfig()
	config.AdaptiveTTL = true
	m := testManager(config)
	defer m.Close()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "hot", &Entry{Data: []byte("v"), TTL: time.Minute})
	m.Set(ctx, "cold", &Entry{Data: []byte("v"), TTL: time.Minute})

	// 20 hits push "hot" past the adaptive threshold.
	for i := 0; i < 20; i++ {
		if _, ok := m.Get(ctx, "hot"); !ok {
			t.Fatal("Get(hot) miss during warmup")
		}
	}
	if _, ok := m.Get(ctx, "cold"); !ok {
		t.Fatal("Get(cold) miss during warmup")
	}

	// Past the nominal TTL but inside the adaptive bonus (ln(20)/10 ≈ +30%).
	now = now.Add(70 * time.Second)

	if _, ok := m.Get(ctx, "hot"); !ok {
		t.Error("hot entry expired despite adaptive TTL bonus")
	}
	if _, ok := m.Get(ctx, "cold"); ok {
		t.Error("cold entry survived past nominal TTL")
	}
}

func TestDelete(t *testing.T) {
	m := testManager(DefaultConfig())
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", &Entry{Data: []byte("v"), TTL: time.Minute})
	m.Delete(ctx, "k")

	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("Get() hit after Delete()")
	}
	if stats := m.Stats(); stats.SizeBytes != 0 {
		t.Errorf("SizeBytes = %d after deleting only entry, want 0", stats.SizeBytes)
	}
}

func TestValidForHeaders(t *testing.T) {
	m := testManager(DefaultConfig())
	defer m.Close()
	ctx := context.Background()

	stored := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m.Set(ctx, "k", &Entry{
		Data:         []byte("v"),
		TTL:          time.Hour,
		ETag:         `"v1"`,
		LastModified: stored,
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{
			name:    "same etag still valid",
			headers: map[string]string{"ETag": `"v1"`},
			want:    true,
		},
		{
			name:    "changed etag invalidates",
			headers: map[string]string{"ETag": `"v2"`},
			want:    false,
		},
		{
			name:    "newer last-modified invalidates",
			headers: map[string]string{"Last-Modified": stored.Add(time.Hour).Format(http.TimeFormat)},
			want:    false,
		},
		{
			name:    "same last-modified still valid",
			headers: map[string]string{"Last-Modified": stored.Format(http.TimeFormat)},
			want:    true,
		},
		{
			name:    "no validators in response",
			headers: map[string]string{},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := m.ValidForHeaders("k", h); got != tt.want {
				t.Errorf("ValidForHeaders() = %v, want %v", got, tt.want)
			}
		})
	}

	if m.ValidForHeaders("absent", http.Header{}) {
		t.Error("ValidForHeaders() = true for absent key")
	}
}

func TestRefresh_RestartsFreshnessClock(t *testing.T) {
	m := testManager(DefaultConfig())
	defer m.Close()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", &Entry{Data: []byte("v"), TTL: time.Minute})

	// Almost expired, then a 304 confirms the body is still current.
	now = now.Add(55 * time.Second)
	m.Refresh("k", 0)

	now = now.Add(50 * time.Second)
	e, ok := m.Get(ctx, "k")
	if !ok {
		t.Fatal("refreshed entry expired on its old clock")
	}
	if string(e.Data) != "v" {
		t.Errorf("Refresh changed entry data: %q", e.Data)
	}
}

func TestSweep_RemovesExpiredColdEntries(t *testing.T) {
	m := testManager(DefaultConfig())
	defer m.Close()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	m.Set(ctx, "cold", &Entry{Data: []byte("v"), TTL: time.Minute})
	m.Set(ctx, "alive", &Entry{Data: []byte("v"), TTL: time.Hour})

	now = now.Add(2 * time.Minute)
	m.sweep()

	m.mu.Lock()
	_, coldThere := m.entries["cold"]
	_, aliveThere := m.entries["alive"]
	m.mu.Unlock()

	if coldThere {
		t.Error("sweep left expired entry in place")
	}
	if !aliveThere {
		t.Error("sweep removed a live entry")
	}
}

func TestClose_Idempotent(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	config := DefaultConfig()
	config.SweepInterval = 10 * time.Millisecond
	m := NewManager(config, nil, logger)

	m.Set(context.Background(), "k", &Entry{Data: []byte("v"), TTL: time.Minute})

	m.Close()
	m.Close()

	if stats := m.Stats(); stats.Entries != 0 {
		t.Errorf("Entries = %d after Close, want 0", stats.Entries)
	}
}

// fakeRemote is a RemoteStore stub for exercising the two-tier path.
type fakeRemote struct {
	entries map[string]*Entry
	getErr  error
	sets    int
	deletes int
}

func (f *fakeRemote) Get(_ context.Context, key string) (*Entry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, ErrRemoteMiss
	}
	return e, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, entry *Entry, _ time.Duration) error {
	f.sets++
	f.entries[key] = entry
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, key string) error {
	f.deletes++
	delete(f.entries, key)
	return nil
}

func TestRemoteTier_PopulatesMemoryOnHit(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	remote := &fakeRemote{entries: map[string]*Entry{
		"k": {Data: []byte("shared"), TTL: time.Hour, StoredAt: time.Now()},
	}}
	config := DefaultConfig()
	config.SweepInterval = 0
	m := NewManager(config, remote, logger)
	defer m.Close()

	e, ok := m.Get(context.Background(), "k")
	if !ok {
		t.Fatal("Get() miss despite remote tier hit")
	}
	if string(e.Data) != "shared" {
		t.Errorf("Data = %q, want remote entry", e.Data)
	}

	// Second read must come from memory without another remote fetch.
	remote.getErr = errors.New("redis down")
	if _, ok := m.Get(context.Background(), "k"); !ok {
		t.Error("entry not promoted to memory tier")
	}
}

func TestRemoteTier_ErrorDegradesToMiss(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	remote := &fakeRemote{entries: map[string]*Entry{}, getErr: errors.New("redis down")}
	config := DefaultConfig()
	config.SweepInterval = 0
	m := NewManager(config, remote, logger)
	defer m.Close()

	// A broken remote tier must look like a miss, never an error.
	if _, ok := m.Get(context.Background(), "k"); ok {
		t.Error("Get() hit from broken remote tier")
	}
}

func TestRemoteTier_WriteThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	remote := &fakeRemote{entries: map[string]*Entry{}}
	config := DefaultConfig()
	config.SweepInterval = 0
	m := NewManager(config, remote, logger)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", &Entry{Data: []byte("v"), TTL: time.Minute})
	if remote.sets != 1 {
		t.Errorf("remote sets = %d, want 1 (write through)", remote.sets)
	}

	m.Delete(ctx, "k")
	if remote.deletes != 1 {
		t.Errorf("remote deletes = %d, want 1", remote.deletes)
	}
}
