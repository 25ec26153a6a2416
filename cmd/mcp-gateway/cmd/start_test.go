package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDurationOr(t *testing.T) {
	if got := parseDurationOr("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty string should fall back to default, got %v", got)
	}
	if got := parseDurationOr("not-a-duration", 5*time.Second); got != 5*time.Second {
		t.Errorf("unparsable duration should fall back to default, got %v", got)
	}
	if got := parseDurationOr("200ms", 5*time.Second); got != 200*time.Millisecond {
		t.Errorf("parseDurationOr(200ms) = %v, want 200ms", got)
	}
}

func TestIsAddrInUse(t *testing.T) {
	if !isAddrInUse(syscall.EADDRINUSE) {
		t.Error("expected EADDRINUSE to be recognized")
	}
	if !isAddrInUse(fmt.Errorf("listen tcp: %w", syscall.EADDRINUSE)) {
		t.Error("expected a wrapped EADDRINUSE to still be recognized")
	}
	if isAddrInUse(errors.New("some other error")) {
		t.Error("unrelated error should not be recognized as address-in-use")
	}
}
