package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("IsZero = false for zero Logger")
	}
	l.Info("dropped", String("k", "v"))
	if l.Enabled(LevelError) {
		t.Fatal("zero logger should report every level disabled")
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	l.Debug("tick", Uint64("tick", 3), Bool("ok", true), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "scheduler" || m["message"] != "tick" || m["ok"] != true {
		t.Fatalf("unexpected fields: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not produce an err field: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:<line>", c)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
	got   chan struct{}
}

func (r *recordingSink) Alert(_ context.Context, _ Level, msg string) {
	r.mu.Lock()
	r.lines = append(r.lines, msg)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
}

func TestAlertSinkReceivesWarnings(t *testing.T) {
	sink := &recordingSink{got: make(chan struct{}, 8)}
	svc, log := New(Config{
		Level:  "debug",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/robocmd.log"},
		Alerts: AlertConfig{Enabled: true, RatePerSec: 10},
	}, sink)
	defer svc.Close()

	log.Info("routine")
	log.Warn("loop overrun", Duration("took", 30*time.Millisecond))

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.lines) != 1 {
		t.Fatalf("alerts = %v, want exactly the warning", sink.lines)
	}
	if !strings.HasPrefix(sink.lines[0], "[WARN] loop overrun") {
		t.Fatalf("alert = %q, want [WARN] loop overrun ...", sink.lines[0])
	}
}

func TestFormatAlertSortsKeys(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"error","message":"boom","z":1,"a":"x","time":"t"}`))
	if got != "[ERROR] boom a=x z=1" {
		t.Fatalf("formatAlert = %q", got)
	}
	if got := formatAlert([]byte("not json\n")); got != "not json" {
		t.Fatalf("formatAlert(raw) = %q", got)
	}
}
