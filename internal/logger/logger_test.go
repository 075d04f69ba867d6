package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestBuild_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn", Mode: "cli", Component: "fetcher"}, &buf)

	zl.Info().Msg("hidden")
	zl.Warn().Str("k", "v").Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1: %s", len(lines), buf.String())
	}
	got := lines[0]
	if got["msg"] != "shown" || got["level"] != "warn" || got["mode"] != "cli" || got["component"] != "fetcher" {
		t.Fatalf("unexpected line: %v", got)
	}
	if _, ok := got["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", got)
	}
}

func TestSlogBridge_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	log := NewSlog(&zl).With("attempt", 2)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithFetch(ctx, "Italy", "church")
	log.ErrorContext(ctx, "request failed",
		"err", errors.New("boom"),
		"delay", 10*time.Second,
		"ok", false)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1", len(lines))
	}
	got := lines[0]
	want := map[string]any{
		"level":         "error",
		"msg":           "request failed",
		"request_id":    "req-1",
		"country":       "Italy",
		"location_type": "church",
		"err":           "boom",
		"delay":         "10s",
		"ok":            false,
		"attempt":       float64(2),
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("field %s=%v want %v (line %v)", k, got[k], v, got)
		}
	}
}

func TestSlogBridge_EnabledFollowsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl)
	log.Debug("dropped")
	log.Info("kept")
	if lines := decodeLines(t, &buf); len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 16 || a == b {
		t.Fatalf("ids %q %q", a, b)
	}
}
