package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/soulbox-vault/common"
	"github.com/ruteri/soulbox-vault/config"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/kms"
	"github.com/ruteri/soulbox-vault/metrics"
	"github.com/ruteri/soulbox-vault/notify"
	"github.com/ruteri/soulbox-vault/storage"
	"github.com/ruteri/soulbox-vault/store/memstore"
	"github.com/ruteri/soulbox-vault/store/postgres"
	"github.com/ruteri/soulbox-vault/token"
	"github.com/ruteri/soulbox-vault/vault"
)

// components are the long-lived objects vaultd serves from.
type components struct {
	store   interfaces.VaultStore
	svc     *vault.Service
	jwt     *token.JWT
	metrics *metrics.Metrics
}

// Close stops the service before closing the store it writes to.
func (c *components) Close() {
	c.svc.Close()
	if err := c.store.Close(); err != nil {
		slog.Error("failed to close store", "err", err)
	}
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobs(ctx, cfg.Storage, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	sealer, err := newSealer(cfg.Sealer, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	jwt, err := token.NewJWT(cfg.JWT.Secret)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := metrics.NewMetrics(common.PackageName)
	svc, err := vault.New(vault.Config{
		SessionTimeout: cfg.Unlock.SessionTimeout,
		MaxFailures:    cfg.Unlock.MaxFailures,
		FailureWindow:  cfg.Unlock.FailureWindow,
		SecretParams: cryptoutils.SecretParams{
			Time:      cfg.KDF.Time,
			MemoryKiB: cfg.KDF.MemKiB,
			Threads:   cfg.KDF.Par,
		},
	}, store, blobs, sealer, notifier, jwt, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	svc.WithMetrics(m)

	return &components{store: store, svc: svc, jwt: jwt, metrics: m}, nil
}

func openStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (interfaces.VaultStore, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory store, all data is lost on restart")
		return memstore.New(), nil
	case "postgres":
		logger.Info("Connecting to PostgreSQL")
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openBlobs(ctx context.Context, cfg config.Storage, logger *slog.Logger) (interfaces.StorageBackend, error) {
	locations := make([]interfaces.StorageBackendLocation, 0, len(cfg.URIs))
	for _, uri := range cfg.URIs {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	factory := storage.NewStorageBackendFactory(logger)
	if len(locations) == 1 {
		return factory.StorageBackendFor(ctx, locations[0])
	}
	return factory.CreateMultiBackend(ctx, locations)
}

func newSealer(cfg config.Sealer, logger *slog.Logger) (interfaces.ShareSealer, error) {
	switch cfg.Kind {
	case "local":
		return kms.NewLocalSealer([]byte(cfg.MasterSecret))
	case "transit":
		logger.Info("Using Vault transit share sealer", "address", cfg.VaultAddr, "key", cfg.KeyName)
		return kms.NewTransitSealer(kms.TransitConfig{
			Address:   cfg.VaultAddr,
			Token:     cfg.VaultToken,
			MountPath: cfg.Mount,
			KeyName:   cfg.KeyName,
			Timeout:   cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown sealer kind %q", cfg.Kind)
	}
}

func newNotifier(cfg config.Notify, logger *slog.Logger) (interfaces.Notifier, error) {
	switch cfg.Kind {
	case "log":
		return notify.NewLogNotifier(logger), nil
	case "webhook":
		return notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:        cfg.WebhookURL,
			Secret:     cfg.Secret,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown notifier kind %q", cfg.Kind)
	}
}
