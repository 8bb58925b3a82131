package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type captureSender struct {
	mu   sync.Mutex
	sent map[string][]string
	ch   chan struct{}
}

func newCaptureSender() *captureSender {
	return &captureSender{sent: map[string][]string{}, ch: make(chan struct{}, 16)}
}

func (c *captureSender) Send(_ context.Context, target, text string) error {
	c.mu.Lock()
	c.sent[target] = append(c.sent[target], text)
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))

	log.Debug("hidden")
	log.Info("hello", Int("n", 3), Bool("ok", true))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) || m["ok"] != true {
		t.Fatalf("event = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger not reported as zero")
	}
	zero.Error("dropped", Err(nil))
	Nop().With(String("k", "v")).Warn("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		" DEBUG ":  zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"verbose?": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRenderEventOrdersFields(t *testing.T) {
	got := renderEvent([]byte(`{"level":"warn","time":"x","message":"fire failed","id":7}`))
	if got != "[WARN] fire failed\n- id=7" {
		t.Fatalf("formatted = %q", got)
	}
	if got := renderEvent([]byte(`{"level":"error","message":"m","b":2,"a":1}`)); got != "[ERROR] m\n- a=1\n- b=2" {
		t.Fatalf("keys not ordered: %q", got)
	}
	if got := renderEvent([]byte("not json")); got != "not json" {
		t.Fatalf("raw = %q", got)
	}
	long := renderEvent([]byte(`{"message":"` + strings.Repeat("a", 5000) + `"}`))
	if len(long) != 3500 || !strings.HasSuffix(long, "...") {
		t.Fatalf("truncated len = %d", len(long))
	}
}

func TestServiceMirrorsWarningsToTelegram(t *testing.T) {
	sender := newCaptureSender()
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			Target:     "@ops",
			RatePerSec: 10,
		},
	}, sender)
	defer func() { _ = svc.Close() }()

	log.Info("routine")
	log.Warn("trigger failed", Int64("id", 3))

	select {
	case <-sender.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("warning never reached the sink")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	got := sender.sent["@ops"]
	if len(got) != 1 || !strings.HasPrefix(got[0], "[WARN] trigger failed") || !strings.Contains(got[0], "- id=3") {
		t.Fatalf("sent = %q", got)
	}
}

func TestServiceApplyChangesLevel(t *testing.T) {
	svc, _ := New(Config{Level: "info", Console: true}, nil)
	defer func() { _ = svc.Close() }()

	if svc.Level() != zerolog.InfoLevel {
		t.Fatalf("level = %v", svc.Level())
	}
	svc.Apply(Config{Level: "debug", Console: true})
	if svc.Level() != zerolog.DebugLevel {
		t.Fatalf("level after Apply = %v", svc.Level())
	}
}
