package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ruteri/soulbox-vault/config"
	"github.com/ruteri/soulbox-vault/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.URIs = []string{"file://" + t.TempDir()}
	cfg.Sealer.MasterSecret = strings.Repeat("k", 32)
	cfg.JWT.Secret = "vaultd-test-secret-0123"
	cfg.KDF.MemKiB = 1024
	cfg.KDF.Par = 1
	return cfg
}

func TestBuildComponents_Memory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	c, err := buildComponents(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.svc.Ready(context.Background()))
	expired, err := c.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestBuildComponents_ReplicatedStorage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)
	cfg.Storage.URIs = append(cfg.Storage.URIs, "file://"+t.TempDir())

	c, err := buildComponents(context.Background(), cfg, logger)
	require.NoError(t, err)
	c.Close()
}

func TestBuildComponents_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }},
		{"unsupported storage scheme", func(c *config.Config) { c.Storage.URIs = []string{"ftp://example.com"} }},
		{"short master secret", func(c *config.Config) { c.Sealer.MasterSecret = "short" }},
		{"unknown sealer", func(c *config.Config) { c.Sealer.Kind = "hsm" }},
		{"webhook without url", func(c *config.Config) { c.Notify.Kind = "webhook" }},
		{"short jwt secret", func(c *config.Config) { c.JWT.Secret = "x" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := buildComponents(context.Background(), cfg, logger)
			assert.Error(t, err)
		})
	}
}

func TestNewNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := newNotifier(config.Notify{Kind: "log"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.LogNotifier{}, n)

	n, err = newNotifier(config.Notify{Kind: "webhook", WebhookURL: "http://127.0.0.1:9/hook"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.WebhookNotifier{}, n)
}
