package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ShareSealer encrypts key shares at rest for server custody. Sealing is bound
// to the guardian so a share cannot be replayed under another guardian's record.
type ShareSealer interface {
	Seal(ctx context.Context, guardianID uuid.UUID, share []byte) ([]byte, error)
	Open(ctx context.Context, guardianID uuid.UUID, sealed []byte) ([]byte, error)
	Name() string
}

// ReleaseNotice asks a guardian to approve or deny the release of its share.
type ReleaseNotice struct {
	AccountID    uuid.UUID
	SessionID    uuid.UUID
	SealedItemID uuid.UUID
	ItemTitle    string
	Guardian     Guardian
	ReleaseToken string
	ExpiresAt    time.Time
	// EncryptedShare is set for guardian custody shards. It is encrypted to the
	// guardian's own key, which it must decrypt and submit with its approval.
	EncryptedShare []byte
}

// TokenDelivery carries a freshly generated beneficiary secret token.
type TokenDelivery struct {
	Beneficiary Beneficiary
	Method      DeliveryMethod
	Token       string
}

// Notifier delivers out-of-band messages. Implementations own retries;
// callers never block an unlock flow on delivery.
type Notifier interface {
	NotifyGuardian(ctx context.Context, notice ReleaseNotice) error
	SendBeneficiaryToken(ctx context.Context, delivery TokenDelivery) error
}

// TokenIssuer mints bearer tokens scoped to one unlock session.
type TokenIssuer interface {
	IssueGuardianToken(accountID, sessionID, guardianID uuid.UUID, expiresAt time.Time) (string, error)
	IssueBeneficiaryToken(accountID, sessionID, beneficiaryID uuid.UUID, expiresAt time.Time) (string, error)
}
