package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Backend.BaseURL != "http://localhost:8090" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.WebsocketURL != "ws://localhost:4449" {
		t.Fatalf("websocket url = %q", cfg.Backend.WebsocketURL)
	}
	if cfg.ReconnectDelay() != 3*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.ReconnectDelay())
	}
	if cfg.RefreshLead() != 60*time.Second {
		t.Fatalf("refresh lead = %v", cfg.RefreshLead())
	}
	if cfg.HTTPTimeout() != 10*time.Second {
		t.Fatalf("http timeout = %v", cfg.HTTPTimeout())
	}
}

func TestLoadClientEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("EVDASH_BACKEND_URL", "https://fleet.example.com")
	t.Setenv("EVDASH_RECONNECT_SECONDS", "7")
	t.Setenv("EVDASH_USERNAME", "operator")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "https://fleet.example.com" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.ReconnectDelay() != 7*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.ReconnectDelay())
	}
	if cfg.Login.Username != "operator" {
		t.Fatalf("username = %q", cfg.Login.Username)
	}
}

func TestLoadClientFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
backend:
  baseUrl: http://backend:9000
  websocketUrl: ws://backend:9001
sync:
  reconnectSeconds: 5
session:
  redisAddr: redis:6379
`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadClient()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "http://backend:9000" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Session.RedisAddr != "redis:6379" {
		t.Fatalf("redis addr = %q", cfg.Session.RedisAddr)
	}
	if cfg.ReconnectDelay() != 5*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.ReconnectDelay())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  baseUrl: http://file-wins\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("EVDASH_BACKEND_URL", "http://env-wins")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "http://env-wins" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
}

func TestLoadServerRequiresSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	if _, err := LoadServer(); err == nil {
		t.Fatal("expected error without jwt secret")
	}

	t.Setenv("EVDASH_SERVER_JWT_SECRET", "dev-secret")
	cfg, err := LoadServer()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddress() != ":8090" || cfg.WebsocketAddress() != ":4449" {
		t.Fatalf("addresses = %q / %q", cfg.HTTPAddress(), cfg.WebsocketAddress())
	}
	if cfg.TokenTTL() != time.Hour {
		t.Fatalf("token ttl = %v", cfg.TokenTTL())
	}
	if cfg.Users["demo"] != "demo" {
		t.Fatalf("expected default demo account, got %v", cfg.Users)
	}
}
