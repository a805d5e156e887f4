package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", LevelNone} {
		cfg := DefaultConfig()
		cfg.Level = lvl
		if _, err := New(cfg); err != nil {
			t.Errorf("New(%q) failed: %v", lvl, err)
		}
	}
	cfg := DefaultConfig()
	cfg.Level = "loud"
	if _, err := New(cfg); err == nil {
		t.Error("New() accepted an unknown level")
	}
	cfg = DefaultConfig()
	cfg.Format = "xml"
	if _, err := New(cfg); err == nil {
		t.Error("New() accepted an unknown format")
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanling.log")
	cfg := DefaultConfig()
	cfg.Level = "info"
	cfg.Format = FormatJSON
	cfg.File = path

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	l.Named("world").Info("loaded all items")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), `"logger":"world"`) || !strings.Contains(string(data), "loaded all items") {
		t.Errorf("log file = %s", data)
	}
}
