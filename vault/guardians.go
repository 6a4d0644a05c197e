package vault

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// GuardianInput holds the creator supplied fields of a guardian.
type GuardianInput struct {
	Name  string
	Email string
	// PublicKey is an optional PEM encoded P-256 key.
	PublicKey []byte
}

func (in *GuardianInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: guardian name is required", interfaces.ErrValidation)
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return fmt.Errorf("%w: invalid guardian email", interfaces.ErrValidation)
	}
	in.Email = addr.Address

	if len(in.PublicKey) > 0 {
		if _, err := cryptoutils.ParsePublicKey(in.PublicKey); err != nil {
			return fmt.Errorf("%w: invalid guardian public key: %v", interfaces.ErrValidation, err)
		}
	}
	return nil
}

// AddGuardian registers a guardian for the account.
func (s *Service) AddGuardian(ctx context.Context, accountID uuid.UUID, in GuardianInput) (interfaces.Guardian, error) {
	if err := in.normalize(); err != nil {
		return interfaces.Guardian{}, err
	}

	now := s.now()
	g := interfaces.Guardian{
		ID:        uuid.New(),
		AccountID: accountID,
		Name:      in.Name,
		Email:     in.Email,
		PublicKey: in.PublicKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateGuardian(ctx, g); err != nil {
		return interfaces.Guardian{}, err
	}

	s.log.Info("guardian added", slog.String("account", accountID.String()), slog.String("guardian", g.ID.String()))
	return g, nil
}

// UpdateGuardian replaces the guardian's name and email. The public key
// cannot change once shares were encrypted to it.
func (s *Service) UpdateGuardian(ctx context.Context, accountID, id uuid.UUID, name, email string) (interfaces.Guardian, error) {
	in := GuardianInput{Name: name, Email: email}
	if err := in.normalize(); err != nil {
		return interfaces.Guardian{}, err
	}

	g, err := s.GetGuardian(ctx, accountID, id)
	if err != nil {
		return interfaces.Guardian{}, err
	}

	g.Name = in.Name
	g.Email = in.Email
	g.UpdatedAt = s.now()
	if err := s.store.UpdateGuardian(ctx, g); err != nil {
		return interfaces.Guardian{}, err
	}
	return g, nil
}

// GetGuardian returns a guardian of the account.
func (s *Service) GetGuardian(ctx context.Context, accountID, id uuid.UUID) (interfaces.Guardian, error) {
	g, err := s.store.GetGuardian(ctx, id)
	if err != nil {
		return interfaces.Guardian{}, err
	}
	if g.AccountID != accountID {
		return interfaces.Guardian{}, fmt.Errorf("%w: guardian %s", interfaces.ErrNotFound, id)
	}
	return g, nil
}

// ListGuardians returns the account's guardians in creation order.
func (s *Service) ListGuardians(ctx context.Context, accountID uuid.UUID) ([]interfaces.Guardian, error) {
	return s.store.ListGuardians(ctx, accountID)
}

// DeleteGuardian removes the guardian and revokes all of its shards. Deleting
// an unknown guardian is a no-op. Approvals the guardian already gave keep
// counting in their sessions; only later requests and releases are refused.
func (s *Service) DeleteGuardian(ctx context.Context, accountID, id uuid.UUID) error {
	now := s.now()
	revoked, err := s.store.DeleteGuardian(ctx, accountID, id, now)
	if err != nil {
		return err
	}

	for _, itemID := range revoked {
		s.record(ctx, interfaces.AuditRecord{
			AccountID:    accountID,
			SealedItemID: itemID,
			ActorID:      id,
			Action:       interfaces.AuditShardRevoked,
			Result:       "revoked",
			Timestamp:    now,
		})
	}

	if len(revoked) > 0 {
		s.log.Info("guardian deleted, shards revoked",
			slog.String("account", accountID.String()),
			slog.String("guardian", id.String()),
			slog.Int("items", len(revoked)))
	}
	return nil
}
