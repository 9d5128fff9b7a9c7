package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSetLevelGatesOutput(t *testing.T) {
	defer SetLevel("info")
	SetLevel("error")
	if atom.Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn should be disabled at error level")
	}
	SetLevel("debug")
	if !atom.Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug should be enabled")
	}
}

func TestInitWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")
	Init(Options{Level: "info", File: path})
	defer Init(Options{Console: true, Level: "info"})

	Infof("cycle done model=%d", 7)
	Debugf("hidden")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "cycle done model=7") {
		t.Fatalf("log missing info line: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
}
