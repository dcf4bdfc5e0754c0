package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	raw := []byte(`
server:
  listen_addr: ":9090"
requests:
  fee_percent: 5
timeouts:
  processing: 30m
owner: "deployer-1"
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Fatalf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Requests.FeePercent != 5 {
		t.Fatalf("fee_percent = %d", cfg.Requests.FeePercent)
	}
	if cfg.Timeouts.Processing.Std() != 30*time.Minute {
		t.Fatalf("processing timeout = %v", cfg.Timeouts.Processing)
	}
	// Untouched fields keep their defaults.
	if cfg.Timeouts.Request.Std() != 24*time.Hour {
		t.Fatalf("request timeout = %v", cfg.Timeouts.Request)
	}
	if cfg.Owner != "deployer-1" {
		t.Fatalf("owner = %q", cfg.Owner)
	}
}

func TestLoadFromPathRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")
	raw := []byte("requests:\n  fee_percent: 250\n")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("fee percent 250 must be rejected")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg := LoadOrDefault()
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("default listen_addr = %q", cfg.Server.ListenAddr)
	}
	if !cfg.Sweeper.Enabled {
		t.Fatal("sweeper enabled by default")
	}
}
