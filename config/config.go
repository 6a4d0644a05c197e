// Package config loads vaultd configuration. Values come from built-in
// defaults, then an optional YAML file, then SOULBOX_* environment variables.
// Command line flags are applied on top by cmd/vaultd.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SOULBOX_"

// Config contains vaultd configuration parameters.
type Config struct {
	HTTP     HTTP     `yaml:"http" envPrefix:"HTTP_"`
	Database Database `yaml:"database" envPrefix:"DATABASE_"`
	Storage  Storage  `yaml:"storage" envPrefix:"STORAGE_"`
	Sealer   Sealer   `yaml:"sealer" envPrefix:"SEALER_"`
	JWT      JWT      `yaml:"jwt" envPrefix:"JWT_"`
	Unlock   Unlock   `yaml:"unlock" envPrefix:"UNLOCK_"`
	Notify   Notify   `yaml:"notify" envPrefix:"NOTIFY_"`
	KDF      KDF      `yaml:"kdf" envPrefix:"KDF_"`
}

// HTTP contains API and metrics listener parameters.
type HTTP struct {
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	MetricsAddr     string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
	EnablePprof     bool          `yaml:"enable_pprof" env:"ENABLE_PPROF"`
	DrainDuration   time.Duration `yaml:"drain_duration" env:"DRAIN_DURATION"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// Database selects the persistence layer.
type Database struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// Storage lists the payload blob backends, e.g. file:///var/lib/soulbox or
// s3://bucket/prefix. More than one URI replicates every blob.
type Storage struct {
	URIs []string `yaml:"uris" env:"URIS" envSeparator:","`
}

// Sealer selects how server-custody shares are sealed at rest.
type Sealer struct {
	// Kind is "local" or "transit".
	Kind string `yaml:"kind" env:"KIND"`
	// MasterSecret is the local sealer's root secret, at least 32 bytes.
	MasterSecret string        `yaml:"master_secret" env:"MASTER_SECRET"`
	VaultAddr    string        `yaml:"vault_addr" env:"VAULT_ADDR"`
	VaultToken   string        `yaml:"vault_token" env:"VAULT_TOKEN"`
	Mount        string        `yaml:"mount" env:"MOUNT"`
	KeyName      string        `yaml:"key_name" env:"KEY_NAME"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// JWT contains token signing parameters.
type JWT struct {
	Secret     string        `yaml:"secret" env:"SECRET"`
	CreatorTTL time.Duration `yaml:"creator_ttl" env:"CREATOR_TTL"`
}

// Unlock contains unlock session parameters.
type Unlock struct {
	SessionTimeout time.Duration `yaml:"session_timeout" env:"SESSION_TIMEOUT"`
	// MaxFailures verification failures are tolerated per FailureWindow.
	MaxFailures   int           `yaml:"max_failures" env:"MAX_FAILURES"`
	FailureWindow time.Duration `yaml:"failure_window" env:"FAILURE_WINDOW"`
}

// Notify selects the out-of-band notification channel.
type Notify struct {
	// Kind is "log" or "webhook".
	Kind       string        `yaml:"kind" env:"KIND"`
	WebhookURL string        `yaml:"webhook_url" env:"WEBHOOK_URL"`
	Secret     string        `yaml:"secret" env:"SECRET"`
	MaxRetries uint64        `yaml:"max_retries" env:"MAX_RETRIES"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// KDF contains Argon2id parameters for beneficiary secret hashing.
type KDF struct {
	Time   uint32 `yaml:"time" env:"TIME"`
	MemKiB uint32 `yaml:"mem_kib" env:"MEM"`
	Par    uint8  `yaml:"par" env:"PAR"`
}

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTP{
			ListenAddr:      "127.0.0.1:8080",
			MetricsAddr:     "127.0.0.1:8090",
			DrainDuration:   45 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    30 * time.Second,
		},
		Database: Database{
			Driver: "memory",
		},
		Storage: Storage{
			URIs: []string{"file:///tmp/soulbox-vault"},
		},
		Sealer: Sealer{
			Kind:    "local",
			Mount:   "transit",
			KeyName: "soulbox-shares",
			Timeout: 10 * time.Second,
		},
		JWT: JWT{
			CreatorTTL: time.Hour,
		},
		Unlock: Unlock{
			SessionTimeout: 72 * time.Hour,
			MaxFailures:    5,
			FailureWindow:  15 * time.Minute,
		},
		Notify: Notify{
			Kind:       "log",
			MaxRetries: 5,
			Timeout:    10 * time.Second,
		},
		KDF: KDF{
			Time:   1,
			MemKiB: 64 * 1024,
			Par:    4,
		},
	}
}

// Load reads the YAML file at path, if any, and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if len(c.Storage.URIs) == 0 {
		return errors.New("at least one storage uri is required")
	}

	switch c.Sealer.Kind {
	case "local":
		if len(c.Sealer.MasterSecret) < 32 {
			return errors.New("sealer.master_secret must be at least 32 bytes")
		}
	case "transit":
		if c.Sealer.VaultAddr == "" {
			return errors.New("sealer.vault_addr is required for the transit sealer")
		}
	default:
		return fmt.Errorf("unknown sealer %q", c.Sealer.Kind)
	}

	if len(c.JWT.Secret) < 16 {
		return errors.New("jwt.secret must be at least 16 bytes")
	}

	if c.Unlock.SessionTimeout <= 0 {
		return errors.New("unlock.session_timeout must be positive")
	}
	if c.Unlock.MaxFailures < 1 || c.Unlock.FailureWindow <= 0 {
		return errors.New("unlock.max_failures and unlock.failure_window must be positive")
	}

	switch c.Notify.Kind {
	case "log":
	case "webhook":
		if c.Notify.WebhookURL == "" {
			return errors.New("notify.webhook_url is required for the webhook notifier")
		}
	default:
		return fmt.Errorf("unknown notifier %q", c.Notify.Kind)
	}

	return nil
}
