package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, "127.0.0.1:8090", cfg.HTTP.MetricsAddr)
	assert.Equal(t, 45*time.Second, cfg.HTTP.DrainDuration)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"file:///tmp/soulbox-vault"}, cfg.Storage.URIs)
	assert.Equal(t, "local", cfg.Sealer.Kind)
	assert.Equal(t, time.Hour, cfg.JWT.CreatorTTL)
	assert.Equal(t, 72*time.Hour, cfg.Unlock.SessionTimeout)
	assert.Equal(t, 5, cfg.Unlock.MaxFailures)
	assert.Equal(t, "log", cfg.Notify.Kind)
	assert.Equal(t, uint32(64*1024), cfg.KDF.MemKiB)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  listen_addr: 0.0.0.0:9000
database:
  driver: postgres
  dsn: postgres://soulbox@db/soulbox
storage:
  uris:
    - file:///data/a
    - s3://vault-bucket/items
unlock:
  session_timeout: 24h
  max_failures: 3
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.ListenAddr)
	assert.Equal(t, "127.0.0.1:8090", cfg.HTTP.MetricsAddr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://soulbox@db/soulbox", cfg.Database.DSN)
	assert.Equal(t, []string{"file:///data/a", "s3://vault-bucket/items"}, cfg.Storage.URIs)
	assert.Equal(t, 24*time.Hour, cfg.Unlock.SessionTimeout)
	assert.Equal(t, 3, cfg.Unlock.MaxFailures)
	assert.Equal(t, 15*time.Minute, cfg.Unlock.FailureWindow)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(*Config)
	}{
		{
			name: "database override",
			envVars: map[string]string{
				"SOULBOX_DATABASE_DRIVER": "postgres",
				"SOULBOX_DATABASE_DSN":    "postgres://env@localhost/soulbox",
			},
			expected: func(cfg *Config) {
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "postgres://env@localhost/soulbox", cfg.Database.DSN)
			},
		},
		{
			name: "storage uris override",
			envVars: map[string]string{
				"SOULBOX_STORAGE_URIS": "file:///a,ipfs://localhost:5001/",
			},
			expected: func(cfg *Config) {
				assert.Equal(t, []string{"file:///a", "ipfs://localhost:5001/"}, cfg.Storage.URIs)
			},
		},
		{
			name: "unlock override",
			envVars: map[string]string{
				"SOULBOX_UNLOCK_SESSION_TIMEOUT": "90m",
				"SOULBOX_UNLOCK_MAX_FAILURES":    "2",
			},
			expected: func(cfg *Config) {
				assert.Equal(t, 90*time.Minute, cfg.Unlock.SessionTimeout)
				assert.Equal(t, 2, cfg.Unlock.MaxFailures)
			},
		},
		{
			name: "sealer and jwt override",
			envVars: map[string]string{
				"SOULBOX_SEALER_KIND":       "transit",
				"SOULBOX_SEALER_VAULT_ADDR": "http://vault:8200",
				"SOULBOX_JWT_SECRET":        "0123456789abcdef0123",
			},
			expected: func(cfg *Config) {
				assert.Equal(t, "transit", cfg.Sealer.Kind)
				assert.Equal(t, "http://vault:8200", cfg.Sealer.VaultAddr)
				assert.Equal(t, "0123456789abcdef0123", cfg.JWT.Secret)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load("")
			require.NoError(t, err)
			tt.expected(cfg)
		})
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notify:\n  kind: log\n"), 0o600))
	t.Setenv("SOULBOX_NOTIFY_KIND", "webhook")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "webhook", cfg.Notify.Kind)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("SOULBOX_UNLOCK_MAX_FAILURES", "many")

	_, err := Load("")
	require.Error(t, err)
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Sealer.MasterSecret = "0123456789abcdef0123456789abcdef"
	cfg.JWT.Secret = "0123456789abcdef"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "database.dsn",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "sqlite" },
			wantErr: "unknown database driver",
		},
		{
			name:    "no storage",
			mutate:  func(c *Config) { c.Storage.URIs = nil },
			wantErr: "storage uri",
		},
		{
			name:    "short master secret",
			mutate:  func(c *Config) { c.Sealer.MasterSecret = "short" },
			wantErr: "master_secret",
		},
		{
			name:    "transit without address",
			mutate:  func(c *Config) { c.Sealer.Kind = "transit" },
			wantErr: "vault_addr",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.JWT.Secret = "x" },
			wantErr: "jwt.secret",
		},
		{
			name:    "zero session timeout",
			mutate:  func(c *Config) { c.Unlock.SessionTimeout = 0 },
			wantErr: "session_timeout",
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.Notify.Kind = "webhook" },
			wantErr: "webhook_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
