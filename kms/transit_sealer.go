package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/soulbox-vault/interfaces"
)

var _ interfaces.ShareSealer = (*TransitSealer)(nil)

// TransitSealer seals shares with HashiCorp Vault's Transit secrets engine.
// The named key must be created with derived=true; the guardian ID is passed
// as derivation context so each guardian gets its own data key.
type TransitSealer struct {
	client    *api.Client
	mountPath string
	keyName   string
	log       *slog.Logger
}

// TransitConfig holds the connection parameters of a TransitSealer.
type TransitConfig struct {
	Address   string
	Token     string
	MountPath string
	KeyName   string
	Timeout   time.Duration
}

// NewTransitSealer connects to Vault with token authentication.
func NewTransitSealer(cfg TransitConfig, log *slog.Logger) (*TransitSealer, error) {
	config := api.DefaultConfig()
	config.Address = cfg.Address
	if cfg.Timeout > 0 {
		config.Timeout = cfg.Timeout
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return NewTransitSealerWithClient(client, cfg.MountPath, cfg.KeyName, log), nil
}

// NewTransitSealerWithClient wraps an already configured Vault client.
func NewTransitSealerWithClient(client *api.Client, mountPath, keyName string, log *slog.Logger) *TransitSealer {
	mountPath = strings.Trim(mountPath, "/")
	if mountPath == "" {
		mountPath = "transit"
	}

	return &TransitSealer{
		client:    client,
		mountPath: mountPath,
		keyName:   keyName,
		log:       log,
	}
}

// Seal encrypts the share through Vault.
func (s *TransitSealer) Seal(ctx context.Context, guardianID uuid.UUID, share []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/encrypt/%s", s.mountPath, s.keyName)

	secret, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(share),
		"context":   base64.StdEncoding.EncodeToString(guardianID[:]),
	})
	if err != nil {
		s.log.Error("Transit encrypt failed", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: transit encrypt: %v", interfaces.ErrCrypto, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: empty transit encrypt response", interfaces.ErrCrypto)
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok || ciphertext == "" {
		return nil, fmt.Errorf("%w: transit response has no ciphertext", interfaces.ErrCrypto)
	}

	return []byte(ciphertext), nil
}

// Open decrypts a share through Vault.
func (s *TransitSealer) Open(ctx context.Context, guardianID uuid.UUID, sealed []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", s.mountPath, s.keyName)

	secret, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(sealed),
		"context":    base64.StdEncoding.EncodeToString(guardianID[:]),
	})
	if err != nil {
		s.log.Error("Transit decrypt failed", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: transit decrypt: %v", interfaces.ErrCrypto, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: empty transit decrypt response", interfaces.ErrCrypto)
	}

	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: transit response has no plaintext", interfaces.ErrCrypto)
	}

	share, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid transit plaintext: %v", interfaces.ErrCrypto, err)
	}
	return share, nil
}

// Name identifies the sealer in logs.
func (s *TransitSealer) Name() string {
	return fmt.Sprintf("transit-%s-%s", s.mountPath, s.keyName)
}
