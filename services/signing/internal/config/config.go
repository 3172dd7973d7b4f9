// Package config loads service configuration from an optional YAML file with
// environment variable overrides for deployment-specific and sensitive
// values.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string

	// TokenSecret signs capability tokens. Required.
	TokenSecret string
	TokenTTL    time.Duration

	Notify NotifyConfig
}

type NotifyConfig struct {
	// WebhookURL is the notification collaborator endpoint. Empty disables
	// outbound notifications.
	WebhookURL string `yaml:"webhook_url"`
	Secret     string `yaml:"secret"`
	Buffer     int    `yaml:"buffer"`
}

// fileConfig is the YAML shape. Durations are strings ("15m") because
// yaml.v3 does not decode into time.Duration.
type fileConfig struct {
	ListenAddr  string       `yaml:"listen_addr"`
	DatabaseURL string       `yaml:"database_url"`
	TokenSecret string       `yaml:"token_secret"`
	TokenTTL    string       `yaml:"token_ttl"`
	Notify      NotifyConfig `yaml:"notify"`
}

// Load reads path (missing file is fine), then applies env overrides:
// SERVICE_PORT, DATABASE_URL, TOKEN_SECRET, TOKEN_TTL, NOTIFY_WEBHOOK_URL,
// NOTIFY_SECRET, NOTIFY_BUFFER.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr: ":8084",
		TokenTTL:   15 * time.Minute,
		Notify:     NotifyConfig{Buffer: 64},
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			var fc fileConfig
			if err := yaml.Unmarshal(b, &fc); err != nil {
				return nil, err
			}
			if fc.ListenAddr != "" {
				cfg.ListenAddr = fc.ListenAddr
			}
			if fc.DatabaseURL != "" {
				cfg.DatabaseURL = fc.DatabaseURL
			}
			if fc.TokenSecret != "" {
				cfg.TokenSecret = fc.TokenSecret
			}
			if fc.TokenTTL != "" {
				ttl, err := time.ParseDuration(fc.TokenTTL)
				if err != nil {
					return nil, err
				}
				cfg.TokenTTL = ttl
			}
			if fc.Notify.WebhookURL != "" {
				cfg.Notify.WebhookURL = fc.Notify.WebhookURL
			}
			if fc.Notify.Secret != "" {
				cfg.Notify.Secret = fc.Notify.Secret
			}
			if fc.Notify.Buffer != 0 {
				cfg.Notify.Buffer = fc.Notify.Buffer
			}
		}
	}

	if v := os.Getenv("SERVICE_PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		cfg.TokenTTL = ttl
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("NOTIFY_SECRET"); v != "" {
		cfg.Notify.Secret = v
	}
	if v := os.Getenv("NOTIFY_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		cfg.Notify.Buffer = n
	}

	if cfg.TokenSecret == "" {
		return nil, errors.New("token_secret (TOKEN_SECRET) is required")
	}
	return cfg, nil
}
