package kms

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"golang.org/x/crypto/hkdf"
)

var _ interfaces.ShareSealer = (*LocalSealer)(nil)

// LocalSealer seals shares under keys derived from a server master secret.
// It is suitable for single-node deployments and tests.
type LocalSealer struct {
	masterKey []byte
}

// NewLocalSealer creates a sealer. The master secret must be at least 32 bytes.
func NewLocalSealer(masterKey []byte) (*LocalSealer, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &LocalSealer{masterKey: key}, nil
}

// Seal encrypts the share for the guardian.
func (s *LocalSealer) Seal(ctx context.Context, guardianID uuid.UUID, share []byte) ([]byte, error) {
	key, err := s.deriveGuardianKey(guardianID)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Wipe(key)

	sealed, err := cryptoutils.SealAESGCM(key, share, guardianID[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCrypto, err)
	}
	return sealed, nil
}

// Open decrypts a share sealed for the guardian.
func (s *LocalSealer) Open(ctx context.Context, guardianID uuid.UUID, sealed []byte) ([]byte, error) {
	key, err := s.deriveGuardianKey(guardianID)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Wipe(key)

	share, err := cryptoutils.OpenAESGCM(key, sealed, guardianID[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrCrypto, err)
	}
	return share, nil
}

// Name identifies the sealer in logs.
func (s *LocalSealer) Name() string {
	return "local"
}

func (s *LocalSealer) deriveGuardianKey(guardianID uuid.UUID) ([]byte, error) {
	info := []byte("soulbox/guardian-share/" + guardianID.String())
	reader := hkdf.New(sha256.New, s.masterKey, nil, info)

	key := make([]byte, cryptoutils.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("%w: failed to derive guardian key: %v", interfaces.ErrCrypto, err)
	}
	return key, nil
}
