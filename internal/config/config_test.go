package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.Redis.Addr != "" || cfg.Database.URL != "" || cfg.NATS.URL != "" {
		t.Fatalf("expected no external backends by default, got %+v", cfg)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_PortOverride(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "PORT": "1234"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	cases := []mapEnv{
		{"MASTER_SECRET": "x", "PORT": "70000"},
		{"MASTER_SECRET": "x", "TOKEN_EXPIRY_SECONDS": "-1"},
		{"MASTER_SECRET": "x", "REDIS_DB": "abc"},
		{"MASTER_SECRET": "x", "AI_TIMEOUT_SECONDS": "0"},
	}
	for _, env := range cases {
		if _, err := LoadConfigFromEnv(env); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}

func TestLoadWithEnv_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	body := `
port: 8080
master_secret: from-file
log_level: debug
redis:
  addr: memory
nats:
  url: nats://localhost:4222
  reconnect_wait: 5s
ai:
  base_url: http://ai.local/v1
  timeout: 10s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadWithEnv(path, mapEnv{"PORT": "9090"})
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected env to override port, got %d", cfg.Port)
	}
	if cfg.MasterSecret != "from-file" {
		t.Fatalf("expected secret from file, got %q", cfg.MasterSecret)
	}
	if cfg.Redis.Addr != MemoryCacheAddr {
		t.Fatalf("expected memory cache, got %q", cfg.Redis.Addr)
	}
	if cfg.NATS.ReconnectWait != 5*time.Second {
		t.Fatalf("expected reconnect wait 5s, got %v", cfg.NATS.ReconnectWait)
	}
	if cfg.NATS.Subject != "chat.cache.version" {
		t.Fatalf("expected default subject to survive, got %q", cfg.NATS.Subject)
	}
	if cfg.AI.Timeout != 10*time.Second || cfg.AI.BaseURL != "http://ai.local/v1" {
		t.Fatalf("unexpected ai config %+v", cfg.AI)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.LogLevel)
	}
}

func TestLoadWithEnv_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), mapEnv{"MASTER_SECRET": "x"})
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
