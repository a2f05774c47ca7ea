package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	raw := `
server:
  port: "9090"
redis:
  addr: "localhost:6379"
  db: 2
session:
  ttl: 1h
  pollInterval: 3s
log:
  level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
	if cfg.Session.TTL != "1h" || cfg.Session.PollInterval != "3s" {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTTLDuration(t *testing.T) {
	if d := TTLDuration("5m", time.Hour); d != 5*time.Minute {
		t.Fatalf("parsed = %v", d)
	}
	if d := TTLDuration("", time.Hour); d != time.Hour {
		t.Fatalf("empty fallback = %v", d)
	}
	if d := TTLDuration("bogus", time.Hour); d != time.Hour {
		t.Fatalf("invalid fallback = %v", d)
	}
}
