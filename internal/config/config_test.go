package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsInternallyConsistent(t *testing.T) {
	cfg := Default()
	if cfg.Control.StaleCommandThreshold() != 200*time.Millisecond {
		t.Fatalf("expected 200ms stale threshold, got %v", cfg.Control.StaleCommandThreshold())
	}
	if cfg.Telemetry.AggregatorWindow <= 0 {
		t.Fatal("expected a positive default aggregator window")
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minitrain.yaml")
	doc := []byte("control:\n  pid_kp: 1.5\n  stale_command_threshold_millis: 300\ntransport:\n  uri: \"ws://bench:9000/\"\n")
	if err := os.WriteFile(path, doc, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Control.PIDKp != 1.5 {
		t.Fatalf("expected overridden pid_kp 1.5, got %v", cfg.Control.PIDKp)
	}
	if cfg.Control.StaleCommandThreshold() != 300*time.Millisecond {
		t.Fatalf("expected overridden threshold 300ms, got %v", cfg.Control.StaleCommandThreshold())
	}
	if cfg.Transport.URI != "ws://bench:9000/" {
		t.Fatalf("expected overridden uri, got %q", cfg.Transport.URI)
	}
	if cfg.Telemetry.AggregatorWindow != 20 {
		t.Fatalf("expected untouched field to keep its default, got %v", cfg.Telemetry.AggregatorWindow)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
