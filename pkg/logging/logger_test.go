package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("default level = %s, want info", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("default pretty should be false")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")

	cfg := FromEnv()
	if cfg.Level != LevelDebug {
		t.Errorf("Level = %s, want debug", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_PRETTY", "")

	cfg := FromEnv()
	if cfg.Level != LevelInfo {
		t.Errorf("Level = %s, want info", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Pretty should default to false")
	}
}

func TestSetupWritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Output: buf})

	logger.Info().Str("endpoint", "mdn:docs").Msg("request complete")

	out := buf.String()
	if !strings.Contains(out, `"request complete"`) {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, `"endpoint":"mdn:docs"`) {
		t.Errorf("output missing field: %q", out)
	}
	if !strings.Contains(out, `"time"`) {
		t.Errorf("output missing timestamp: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input LogLevel
		want  zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerCarriesComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("cache")
	logger.Info().Msg("sweep complete")

	out := buf.String()
	if !strings.Contains(out, `"component":"cache"`) {
		t.Errorf("output missing component field: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("test")
	logger.Debug().Msg("cache miss detail")
	logger.Info().Msg("request done")
	logger.Warn().Msg("retry budget exhausted")
	logger.Error().Msg("listener failed")

	out := buf.String()
	for _, suppressed := range []string{"cache miss detail", "request done"} {
		if strings.Contains(out, suppressed) {
			t.Errorf("message %q should be filtered at warn level", suppressed)
		}
	}
	for _, kept := range []string{"retry budget exhausted", "listener failed"} {
		if !strings.Contains(out, kept) {
			t.Errorf("message %q should pass at warn level", kept)
		}
	}
}
