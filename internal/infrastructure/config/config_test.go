package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-realtime-bus/internal/infrastructure/logger"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvVar, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Client.Reconnect.Enabled {
		t.Error("Reconnect should be disabled by default")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	content := `
environment: staging
server:
  addr: ":9090"
hub:
  ping_interval: 20s
  pong_timeout: 30s
client:
  origin: https://crm.example.com
  reconnect:
    enabled: true
    initial_interval: 1s
logger:
  level: debug
  format: json
staging:
  auth:
    secret: s3cret
    required: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv(EnvVar, path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Expected default read timeout to survive, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Hub.PingInterval != 20*time.Second {
		t.Errorf("Expected ping interval 20s, got %v", cfg.Hub.PingInterval)
	}
	if !cfg.Client.Reconnect.Enabled || cfg.Client.Reconnect.InitialInterval != time.Second {
		t.Errorf("Unexpected reconnect config: %+v", cfg.Client.Reconnect)
	}
	if !cfg.Auth.Required || cfg.Auth.Secret != "s3cret" {
		t.Errorf("Staging auth override not applied: %+v", cfg.Auth)
	}
	if cfg.Logger.Level != logger.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.Logger.Level)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown environment":          "environment: qa\n",
		"required auth without secret": "auth:\n  required: true\n",
		"ping slower than pong":        "hub:\n  ping_interval: 90s\n  pong_timeout: 60s\n",
		"issue endpoint in production": "environment: production\nauth:\n  issue_endpoint: true\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Parse([]byte(content), Default()); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
