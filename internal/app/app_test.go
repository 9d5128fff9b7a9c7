package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aitrade/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.EnvDBPath, filepath.Join(t.TempDir(), "app.db"))
	t.Setenv(config.EnvHTTPAddr, "")
	cfg, err := config.Parse([]byte("[app]\nenv = \"test\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return cfg
}

func TestNewAppRunOnceWithoutBots(t *testing.T) {
	a, err := NewApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if a.web != nil {
		t.Fatalf("web server should be disabled with empty addr")
	}
	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if _, err := a.Trigger(context.Background(), 42); err == nil {
		t.Fatalf("expected error for unknown bot")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := NewApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewAppNilConfig(t *testing.T) {
	if _, err := NewApp(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
}
