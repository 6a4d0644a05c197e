package vault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/kms"
)

// SealInput describes a new sealed item.
type SealInput struct {
	Title          string
	Description    string
	Type           interfaces.ItemType
	Payload        []byte
	ShardsRequired int
	GuardianIDs    []uuid.UUID
}

func (in *SealInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	n := len(in.GuardianIDs)
	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", interfaces.ErrValidation)
	case !in.Type.Valid():
		return fmt.Errorf("%w: unknown item type %q", interfaces.ErrValidation, in.Type)
	case len(in.Payload) == 0:
		return fmt.Errorf("%w: payload is required", interfaces.ErrValidation)
	case n == 0:
		return fmt.Errorf("%w: at least one guardian is required", interfaces.ErrValidation)
	case n > kms.MaxShares:
		return fmt.Errorf("%w: at most %d guardians are supported", interfaces.ErrValidation, kms.MaxShares)
	case in.ShardsRequired < 1 || in.ShardsRequired > n:
		return fmt.Errorf("%w: shardsRequired must be between 1 and %d", interfaces.ErrValidation, n)
	}

	seen := make(map[uuid.UUID]struct{}, n)
	for _, id := range in.GuardianIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: guardian %s listed twice", interfaces.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// CreateSealedItem encrypts the payload under a fresh key, stores the
// ciphertext, splits the key among the guardians and persists the item with
// its shard records. The key itself is never persisted.
func (s *Service) CreateSealedItem(ctx context.Context, accountID uuid.UUID, in SealInput) (interfaces.SealedItem, error) {
	if err := in.validate(); err != nil {
		return interfaces.SealedItem{}, err
	}

	guardians := make([]interfaces.Guardian, len(in.GuardianIDs))
	for i, id := range in.GuardianIDs {
		g, err := s.GetGuardian(ctx, accountID, id)
		if err != nil {
			return interfaces.SealedItem{}, err
		}
		guardians[i] = g
	}

	itemID := uuid.New()

	key, err := cryptoutils.RandomKey(cryptoutils.KeySize)
	if err != nil {
		return interfaces.SealedItem{}, fmt.Errorf("%w: %v", interfaces.ErrCrypto, err)
	}
	defer cryptoutils.Wipe(key)

	ciphertext, err := cryptoutils.SealAESGCM(key, in.Payload, itemID[:])
	if err != nil {
		return interfaces.SealedItem{}, fmt.Errorf("%w: %v", interfaces.ErrCrypto, err)
	}

	shares, err := kms.SplitKey(key, len(guardians), in.ShardsRequired)
	if err != nil {
		return interfaces.SealedItem{}, err
	}
	defer func() {
		for _, share := range shares {
			cryptoutils.Wipe(share)
		}
	}()

	shards := make([]interfaces.ShardRecord, len(guardians))
	for i, g := range guardians {
		shard, err := s.issueShard(ctx, itemID, g, shares[i])
		if err != nil {
			return interfaces.SealedItem{}, err
		}
		shard.ShareIndex = i + 1
		shards[i] = shard
	}

	ref, err := s.blobs.Store(ctx, ciphertext, in.Type.ContentType())
	if err != nil {
		return interfaces.SealedItem{}, fmt.Errorf("failed to store payload: %w", err)
	}

	item := interfaces.SealedItem{
		ID:             itemID,
		AccountID:      accountID,
		Title:          in.Title,
		Description:    strings.TrimSpace(in.Description),
		Type:           in.Type,
		PayloadRef:     ref,
		PayloadSize:    len(in.Payload),
		Status:         interfaces.ItemSealed,
		ShardsRequired: in.ShardsRequired,
		GuardianIDs:    in.GuardianIDs,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateSealedItem(ctx, item, shards); err != nil {
		return interfaces.SealedItem{}, err
	}

	s.log.Info("item sealed",
		slog.String("account", accountID.String()),
		slog.String("item", itemID.String()),
		slog.Int("shardsRequired", in.ShardsRequired),
		slog.Int("guardians", len(guardians)))
	return item, nil
}

// issueShard encrypts one share for its guardian.
func (s *Service) issueShard(ctx context.Context, itemID uuid.UUID, g interfaces.Guardian, share kms.Share) (interfaces.ShardRecord, error) {
	shard := interfaces.ShardRecord{
		SealedItemID: itemID,
		GuardianID:   g.ID,
		ShareDigest:  kms.ShareDigest(share),
	}

	var err error
	if len(g.PublicKey) > 0 {
		shard.Custody = interfaces.CustodyGuardian
		shard.EncryptedShare, err = cryptoutils.EncryptWithPublicKey(g.PublicKey, share)
	} else {
		shard.Custody = interfaces.CustodyServer
		shard.EncryptedShare, err = s.sealer.Seal(ctx, g.ID, share)
	}
	if err != nil {
		return interfaces.ShardRecord{}, fmt.Errorf("%w: failed to seal share for guardian %s: %v", interfaces.ErrCrypto, g.ID, err)
	}
	return shard, nil
}

// GetSealedItem returns an item of the account.
func (s *Service) GetSealedItem(ctx context.Context, accountID, id uuid.UUID) (interfaces.SealedItem, error) {
	item, err := s.store.GetSealedItem(ctx, id)
	if err != nil {
		return interfaces.SealedItem{}, err
	}
	if item.AccountID != accountID {
		return interfaces.SealedItem{}, fmt.Errorf("%w: item %s", interfaces.ErrNotFound, id)
	}
	return item, nil
}

func (s *Service) ListSealedItems(ctx context.Context, accountID uuid.UUID) ([]interfaces.SealedItem, error) {
	return s.store.ListSealedItems(ctx, accountID)
}

// ListShards returns the shard records of an item of the account.
func (s *Service) ListShards(ctx context.Context, accountID, itemID uuid.UUID) ([]interfaces.ShardRecord, error) {
	if _, err := s.GetSealedItem(ctx, accountID, itemID); err != nil {
		return nil, err
	}
	return s.store.ListShards(ctx, itemID)
}
