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

// BeneficiaryInput holds the creator supplied fields of a beneficiary. Only a
// hash of IDNumber is stored.
type BeneficiaryInput struct {
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	Relationship   string
	SecretQuestion string
	IDNumber       string
}

// AddBeneficiary registers a beneficiary and returns it together with its
// freshly generated secret token. The plaintext token is never stored and
// cannot be retrieved again; use SendToken to rotate it.
func (s *Service) AddBeneficiary(ctx context.Context, accountID uuid.UUID, in BeneficiaryInput) (interfaces.Beneficiary, string, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.FirstName == "" || in.LastName == "" {
		return interfaces.Beneficiary{}, "", fmt.Errorf("%w: beneficiary first and last name are required", interfaces.ErrValidation)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return interfaces.Beneficiary{}, "", fmt.Errorf("%w: invalid beneficiary email", interfaces.ErrValidation)
	}
	if cryptoutils.NormalizeSecret(in.IDNumber) == "" {
		return interfaces.Beneficiary{}, "", fmt.Errorf("%w: beneficiary id number is required", interfaces.ErrValidation)
	}

	idHash, err := cryptoutils.HashSecret(in.IDNumber, s.cfg.SecretParams)
	if err != nil {
		return interfaces.Beneficiary{}, "", err
	}
	token, tokenHash, err := s.newSecretToken()
	if err != nil {
		return interfaces.Beneficiary{}, "", err
	}

	b := interfaces.Beneficiary{
		ID:              uuid.New(),
		AccountID:       accountID,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Email:           addr.Address,
		Phone:           strings.TrimSpace(in.Phone),
		Relationship:    strings.TrimSpace(in.Relationship),
		SecretQuestion:  strings.TrimSpace(in.SecretQuestion),
		IDNumberHash:    idHash,
		SecretTokenHash: tokenHash,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateBeneficiary(ctx, b); err != nil {
		return interfaces.Beneficiary{}, "", err
	}

	s.log.Info("beneficiary added", slog.String("account", accountID.String()), slog.String("beneficiary", b.ID.String()))
	return b, token, nil
}

func (s *Service) newSecretToken() (string, []byte, error) {
	token, err := cryptoutils.GenerateSecretToken()
	if err != nil {
		return "", nil, err
	}
	hash, err := cryptoutils.HashSecret(token, s.cfg.SecretParams)
	if err != nil {
		return "", nil, err
	}
	return token, hash, nil
}

// GetBeneficiary returns a beneficiary of the account.
func (s *Service) GetBeneficiary(ctx context.Context, accountID, id uuid.UUID) (interfaces.Beneficiary, error) {
	b, err := s.store.GetBeneficiary(ctx, id)
	if err != nil {
		return interfaces.Beneficiary{}, err
	}
	if b.AccountID != accountID {
		return interfaces.Beneficiary{}, fmt.Errorf("%w: beneficiary %s", interfaces.ErrNotFound, id)
	}
	return b, nil
}

func (s *Service) ListBeneficiaries(ctx context.Context, accountID uuid.UUID) ([]interfaces.Beneficiary, error) {
	return s.store.ListBeneficiaries(ctx, accountID)
}

// DeleteBeneficiary removes a beneficiary. Deleting an unknown one is a no-op.
func (s *Service) DeleteBeneficiary(ctx context.Context, accountID, id uuid.UUID) error {
	return s.store.DeleteBeneficiary(ctx, accountID, id)
}

// SendToken rotates the beneficiary's secret token and delivers the new one
// by email or SMS.
func (s *Service) SendToken(ctx context.Context, accountID, id uuid.UUID, method interfaces.DeliveryMethod) error {
	b, err := s.GetBeneficiary(ctx, accountID, id)
	if err != nil {
		return err
	}

	switch method {
	case interfaces.DeliveryEmail:
		if b.Email == "" {
			return fmt.Errorf("%w: beneficiary has no email address", interfaces.ErrValidation)
		}
	case interfaces.DeliverySMS:
		if b.Phone == "" {
			return fmt.Errorf("%w: beneficiary has no phone number", interfaces.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown delivery method %q", interfaces.ErrValidation, method)
	}

	token, hash, err := s.newSecretToken()
	if err != nil {
		return err
	}
	if err := s.store.UpdateSecretToken(ctx, accountID, id, hash); err != nil {
		return err
	}
	b.SecretTokenHash = hash

	if err := s.notifier.SendBeneficiaryToken(ctx, interfaces.TokenDelivery{Beneficiary: b, Method: method, Token: token}); err != nil {
		s.metrics.Notification("failed")
		return fmt.Errorf("failed to deliver token: %w", err)
	}
	s.metrics.Notification("sent")
	return nil
}
