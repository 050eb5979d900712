package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_LevelByEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env       string
		wantDebug bool
	}{
		{"production", false},
		{"PRODUCTION", false},
		{"development", true},
		{"", true},
	}
	for _, tt := range tests {
		l, err := New(tt.env)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.env, err)
		}
		if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
			t.Fatalf("New(%q) debug enabled=%v want %v", tt.env, got, tt.wantDebug)
		}
	}
}

func TestStd_BridgesPrintf(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	std := Std(zap.New(core), "build")
	std.Printf("stage=%s ok duration=%s", "fetch", "12ms")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "stage=fetch ok duration=12ms" {
		t.Fatalf("message=%q", e.Message)
	}
	if got := e.ContextMap()["component"]; got != "build" {
		t.Fatalf("component=%v", got)
	}
}

func TestStd_NilLoggerDiscards(t *testing.T) {
	t.Parallel()
	Std(nil, "x").Printf("dropped")
}
