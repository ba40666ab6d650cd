package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestEffectiveTTL_AdaptiveDisabled(t *testing.T) {
	e := &Entry{TTL: time.Minute, HitCount: 100}

	if got := e.EffectiveTTL(false); got != time.Minute {
		t.Errorf("EffectiveTTL(false) = %v, want nominal TTL", got)
	}
}

func TestEffectiveTTL_BelowThreshold(t *testing.T) {
	e := &Entry{TTL: time.Minute, HitCount: 10}

	// The bonus starts strictly above 10 hits.
	if got := e.EffectiveTTL(true); got != time.Minute {
		t.Errorf("EffectiveTTL at threshold = %v, want nominal TTL", got)
	}
}

func TestEffectiveTTL_HotEntriesLiveLonger(t *testing.T) {
	cold := &Entry{TTL: time.Minute, HitCount: 1}
	warm := &Entry{TTL: time.Minute, HitCount: 20}
	hot := &Entry{TTL: time.Minute, HitCount: 200}

	if got := cold.EffectiveTTL(true); got != time.Minute {
		t.Errorf("cold EffectiveTTL = %v, want nominal TTL", got)
	}
	if warm.EffectiveTTL(true) <= cold.EffectiveTTL(true) {
		t.Error("entry with 20 hits must outlive entry with 1 hit")
	}
	if hot.EffectiveTTL(true) <= warm.EffectiveTTL(true) {
		t.Error("adaptive bonus must grow monotonically with hit count")
	}
	// The bonus never shrinks the window below the base TTL.
	if hot.EffectiveTTL(true) < time.Minute {
		t.Error("effective TTL fell below nominal TTL")
	}
}

func TestFresh(t *testing.T) {
	now := time.Now()
	e := &Entry{TTL: time.Minute, StoredAt: now}

	if !e.Fresh(now.Add(30*time.Second), false) {
		t.Error("entry stale before TTL elapsed")
	}
	if !e.Fresh(now.Add(time.Minute), false) {
		t.Error("entry stale at exactly the TTL boundary")
	}
	if e.Fresh(now.Add(61*time.Second), false) {
		t.Error("entry fresh after TTL elapsed")
	}
}

func TestFresh_AdaptiveExtension(t *testing.T) {
	now := time.Now()
	e := &Entry{TTL: time.Minute, StoredAt: now, HitCount: 50}

	// ln(50)/10 ≈ 0.39, so the hot entry survives ~83s.
	probe := now.Add(75 * time.Second)
	if e.Fresh(probe, false) {
		t.Error("entry fresh past nominal TTL without adaptive mode")
	}
	if !e.Fresh(probe, true) {
		t.Error("hot entry expired despite adaptive extension")
	}
}

func TestHasValidators(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{name: "no validators", entry: Entry{}, want: false},
		{name: "etag only", entry: Entry{ETag: `"abc"`}, want: true},
		{name: "last-modified only", entry: Entry{LastModified: time.Now()}, want: true},
		{name: "both", entry: Entry{ETag: `"abc"`, LastModified: time.Now()}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.HasValidators(); got != tt.want {
				t.Errorf("HasValidators() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateSize(t *testing.T) {
	small := &Entry{Data: []byte("x")}
	large := &Entry{
		Data: make([]byte, 4096),
		Headers: http.Header{
			"Content-Type": []string{"application/json"},
			"ETag":         []string{`"abcdef"`},
		},
	}

	if small.estimateSize() <= 0 {
		t.Error("estimateSize() must include fixed overhead")
	}
	if large.estimateSize() <= large.estimateSize()-4096 {
		t.Error("estimateSize() must scale with body size")
	}
	if large.estimateSize() <= small.estimateSize() {
		t.Error("larger entry estimated smaller than tiny entry")
	}
}
