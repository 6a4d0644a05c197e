package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GuardianStore persists guardians.
type GuardianStore interface {
	CreateGuardian(ctx context.Context, g Guardian) error
	// UpdateGuardian replaces name, email and UpdatedAt. Returns ErrNotFound if
	// the guardian does not exist in g.AccountID.
	UpdateGuardian(ctx context.Context, g Guardian) error
	GetGuardian(ctx context.Context, id uuid.UUID) (Guardian, error)
	// ListGuardians returns the account's guardians ordered by creation time.
	ListGuardians(ctx context.Context, accountID uuid.UUID) ([]Guardian, error)
	// DeleteGuardian removes the guardian and marks all of its shard records
	// revoked in one transaction. It returns the ids of the items whose shards
	// were revoked by this call. Deleting an unknown guardian is not an error.
	DeleteGuardian(ctx context.Context, accountID, id uuid.UUID, at time.Time) ([]uuid.UUID, error)
}

// BeneficiaryStore persists beneficiaries.
type BeneficiaryStore interface {
	CreateBeneficiary(ctx context.Context, b Beneficiary) error
	GetBeneficiary(ctx context.Context, id uuid.UUID) (Beneficiary, error)
	ListBeneficiaries(ctx context.Context, accountID uuid.UUID) ([]Beneficiary, error)
	// UpdateSecretToken replaces the stored token hash.
	UpdateSecretToken(ctx context.Context, accountID, id uuid.UUID, tokenHash []byte) error
	DeleteBeneficiary(ctx context.Context, accountID, id uuid.UUID) error
}

// SealedItemStore persists sealed items and their shard records.
type SealedItemStore interface {
	// CreateSealedItem persists the item together with all of its shard records atomically.
	CreateSealedItem(ctx context.Context, item SealedItem, shards []ShardRecord) error
	GetSealedItem(ctx context.Context, id uuid.UUID) (SealedItem, error)
	ListSealedItems(ctx context.Context, accountID uuid.UUID) ([]SealedItem, error)
	// TransitionItemStatus moves the item from one status to another. It
	// reports false when the item was not in the expected status.
	TransitionItemStatus(ctx context.Context, id uuid.UUID, from, to ItemStatus) (bool, error)
	// RevertItemStatus moves an unsealing item back to sealed when it has no
	// pending session left.
	RevertItemStatus(ctx context.Context, id uuid.UUID) error
	GetShard(ctx context.Context, itemID, guardianID uuid.UUID) (ShardRecord, error)
	ListShards(ctx context.Context, itemID uuid.UUID) ([]ShardRecord, error)
}

// SessionStore persists unlock sessions and their release requests.
type SessionStore interface {
	CreateSession(ctx context.Context, s UnlockSession) error
	GetSession(ctx context.Context, id uuid.UUID) (UnlockSession, error)
	// CloseSession moves a pending session to a terminal outcome. It reports
	// false if the session was no longer pending; at most one caller ever wins.
	CloseSession(ctx context.Context, id uuid.UUID, outcome Outcome, at time.Time) (bool, error)
	// ClaimSession marks a pending session as being completed by the caller.
	// It reports false when the session is no longer pending or another claim
	// made after at.Add(-lease) is still held. At most one caller wins,
	// including callers in other processes sharing the store.
	ClaimSession(ctx context.Context, id uuid.UUID, at time.Time, lease time.Duration) (bool, error)
	// ListPendingSessions returns all sessions still pending, across accounts.
	ListPendingSessions(ctx context.Context) ([]UnlockSession, error)
	SetDeliveryEnvelope(ctx context.Context, id uuid.UUID, envelope []byte) error
	// TakeDeliveryEnvelope returns the envelope and clears it. A second call
	// returns ErrSessionExpired; a session without an envelope returns ErrNotFound.
	TakeDeliveryEnvelope(ctx context.Context, id uuid.UUID) ([]byte, error)

	// CreateReleaseRequest records that the guardian was asked to release its
	// share. It reports false if a request already existed.
	CreateReleaseRequest(ctx context.Context, r ReleaseRequest) (bool, error)
	GetReleaseRequest(ctx context.Context, sessionID, guardianID uuid.UUID) (ReleaseRequest, error)
	// DecideReleaseRequest records the guardian's decision for a pending
	// request. An approval increments the session's ReleasedShardCount and sets
	// the shard record's ReleasedAt if unset, all in one transaction. It returns
	// the session's released shard count after the update.
	//
	// Errors: ErrNotFound when no request exists, ErrValidation when it was
	// already decided, ErrSessionExpired when the session is no longer pending.
	DecideReleaseRequest(ctx context.Context, sessionID, guardianID uuid.UUID, decision Decision, sealedShare []byte, at time.Time) (int, error)
	// ListApprovedReleases returns the approved requests of a session.
	ListApprovedReleases(ctx context.Context, sessionID uuid.UUID) ([]ReleaseRequest, error)
}

// AuditStore is the append-only access log.
type AuditStore interface {
	// AppendAudit stores the record and returns it with its assigned ID.
	AppendAudit(ctx context.Context, r AuditRecord) (AuditRecord, error)
	// ListAuditByItem returns an item's records in chronological order.
	ListAuditByItem(ctx context.Context, accountID, itemID uuid.UUID) ([]AuditRecord, error)
}

// VaultStore is the complete persistence layer of the vault.
type VaultStore interface {
	GuardianStore
	BeneficiaryStore
	SealedItemStore
	SessionStore
	AuditStore

	Ping(ctx context.Context) error
	Close() error
}
