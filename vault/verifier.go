package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// VerifyInput is a beneficiary's unlock attempt.
type VerifyInput struct {
	BeneficiaryID uuid.UUID
	SealedItemID  uuid.UUID
	FullName      string
	IDNumber      string
	SecretToken   string
	// DeliveryPublicKey optionally receives the decrypted payload as an
	// ECIES envelope once the session succeeds.
	DeliveryPublicKey []byte
}

// VerifyResult describes the unlock session opened by a successful verification.
type VerifyResult struct {
	SessionID uuid.UUID `json:"sessionId"`
	Verified  bool      `json:"verified"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

const (
	identityVerified       = "verified"
	identityMismatch       = "mismatch"
	identityRateLimited    = "rate_limited"
	identityBadDeliveryKey = "invalid_delivery_key"
)

// VerifyIdentity checks the beneficiary's name, ID number and secret token
// and opens an unlock session for the item. Any failure, including an unknown
// beneficiary or an item of another account, yields ErrIdentityMismatch.
func (s *Service) VerifyIdentity(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	now := s.now()

	b, err := s.store.GetBeneficiary(ctx, in.BeneficiaryID)
	if err != nil && !isNotFound(err) {
		return VerifyResult{}, err
	}
	known := err == nil

	item, err := s.store.GetSealedItem(ctx, in.SealedItemID)
	if err != nil && !isNotFound(err) {
		return VerifyResult{}, err
	}
	itemFound := err == nil

	audit := interfaces.AuditRecord{
		SealedItemID: in.SealedItemID,
		ActorID:      in.BeneficiaryID,
		Action:       interfaces.AuditIdentityCheck,
		Timestamp:    now,
	}
	switch {
	case itemFound:
		audit.AccountID = item.AccountID
	case known:
		audit.AccountID = b.AccountID
	}

	attempt, ok := s.limiter.Reserve(in.BeneficiaryID, now)
	if !ok {
		audit.Result = identityRateLimited
		s.record(ctx, audit)
		s.metrics.IdentityCheck(identityRateLimited)
		s.log.Warn("identity verification rate limited", slog.String("beneficiary", in.BeneficiaryID.String()))
		return VerifyResult{}, interfaces.ErrRateLimited
	}

	// All three checks run regardless of earlier results.
	idDigest, tokenDigest, fullName := s.dummyDigest, s.dummyDigest, ""
	if known {
		idDigest, tokenDigest, fullName = b.IDNumberHash, b.SecretTokenHash, b.FullName()
	}
	nameOK := cryptoutils.EqualFold(in.FullName, fullName) && known
	idOK, _ := cryptoutils.VerifySecret(in.IDNumber, idDigest)
	tokenOK, _ := cryptoutils.VerifySecret(in.SecretToken, tokenDigest)
	scopeOK := known && itemFound && item.AccountID == b.AccountID

	if !(nameOK && idOK && tokenOK && scopeOK) {
		audit.Result = identityMismatch
		s.record(ctx, audit)
		s.metrics.IdentityCheck(identityMismatch)
		return VerifyResult{}, interfaces.ErrIdentityMismatch
	}
	attempt.CancelAt(now)

	if len(in.DeliveryPublicKey) > 0 {
		if _, err := cryptoutils.ParsePublicKey(in.DeliveryPublicKey); err != nil {
			audit.Result = identityBadDeliveryKey
			s.record(ctx, audit)
			return VerifyResult{}, fmt.Errorf("%w: invalid delivery public key", interfaces.ErrValidation)
		}
	}

	session := interfaces.UnlockSession{
		ID:                uuid.New(),
		AccountID:         b.AccountID,
		SealedItemID:      item.ID,
		BeneficiaryID:     b.ID,
		StartedAt:         now,
		ExpiresAt:         now.Add(s.cfg.SessionTimeout),
		IdentityVerified:  true,
		Outcome:           interfaces.OutcomePending,
		DeliveryPublicKey: in.DeliveryPublicKey,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return VerifyResult{}, err
	}
	if _, err := s.store.TransitionItemStatus(ctx, item.ID, interfaces.ItemSealed, interfaces.ItemUnsealing); err != nil {
		return VerifyResult{}, err
	}

	audit.SessionID = session.ID
	audit.Result = identityVerified
	s.record(ctx, audit)
	s.metrics.IdentityCheck(identityVerified)
	s.metrics.UnlockSession("opened")

	s.armTimer(session.ID, session.ExpiresAt)

	token, err := s.tokens.IssueBeneficiaryToken(session.AccountID, session.ID, b.ID, session.ExpiresAt)
	if err != nil {
		return VerifyResult{}, err
	}

	s.log.Info("unlock session opened",
		slog.String("session", session.ID.String()),
		slog.String("item", item.ID.String()),
		slog.Time("expiresAt", session.ExpiresAt))

	return VerifyResult{
		SessionID: session.ID,
		Verified:  true,
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}
