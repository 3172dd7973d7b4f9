package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "s3cret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8084" || cfg.TokenTTL != 15*time.Minute || cfg.Notify.Buffer != 64 {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
	if cfg.TokenSecret != "s3cret" {
		t.Fatalf("secret not applied: %+v", cfg)
	}
}

func TestLoadRequiresTokenSecret(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without token secret")
	}
}

func TestLoadYAMLFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.yaml")
	data := []byte("listen_addr: \":9000\"\ntoken_secret: from-file\ntoken_ttl: 5m\nnotify:\n  webhook_url: https://hooks.example.com/fe\n  buffer: 8\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SERVICE_PORT", "9100")
	t.Setenv("TOKEN_SECRET", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9100" {
		t.Fatalf("env override lost: %s", cfg.ListenAddr)
	}
	if cfg.TokenSecret != "from-file" || cfg.TokenTTL != 5*time.Minute {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/fe" || cfg.Notify.Buffer != 8 {
		t.Fatalf("notify section lost: %+v", cfg.Notify)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "s")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
}

func TestLoadBadTTL(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "s")
	t.Setenv("TOKEN_TTL", "not-a-duration")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse error")
	}
}
