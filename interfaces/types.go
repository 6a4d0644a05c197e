package interfaces

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemType is the kind of content held by a sealed item.
type ItemType string

const (
	ItemTypeMessage ItemType = "message"
	ItemTypeFile    ItemType = "file"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemTypeMessage || t == ItemTypeFile
}

// ContentType maps the item type to the storage namespace of its payload.
func (t ItemType) ContentType() ContentType {
	if t == ItemTypeFile {
		return FilePayloadType
	}
	return MessagePayloadType
}

// ItemStatus is the unlock progress of a sealed item.
type ItemStatus string

const (
	ItemSealed    ItemStatus = "sealed"
	ItemUnsealing ItemStatus = "unsealing"
	ItemUnsealed  ItemStatus = "unsealed"
)

// Outcome is the state of an unlock session.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeExpired Outcome = "expired"
)

// Terminal reports whether no further transition is possible from o.
func (o Outcome) Terminal() bool {
	return o != OutcomePending
}

// Custody tells who can open a ShardRecord's encrypted share.
type Custody string

const (
	// CustodyServer shares are sealed with the server's ShareSealer.
	CustodyServer Custody = "server"
	// CustodyGuardian shares are encrypted to the guardian's own public key.
	CustodyGuardian Custody = "guardian"
)

// Decision is a guardian's answer to a release request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// DeliveryMethod selects the channel for beneficiary token delivery.
type DeliveryMethod string

const (
	DeliveryEmail DeliveryMethod = "email"
	DeliverySMS   DeliveryMethod = "sms"
)

// Guardian is a trusted third party owned by one creator account.
type Guardian struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"accountId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	// PublicKey is an optional PEM encoded P-256 key. When set, shares are
	// encrypted to it and the guardian must submit the decrypted share on release.
	PublicKey []byte    `json:"publicKey,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Beneficiary is a person allowed to start unlock sessions for the account's items.
// Only hashes of the ID number and secret token are kept.
type Beneficiary struct {
	ID              uuid.UUID `json:"id"`
	AccountID       uuid.UUID `json:"accountId"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	Relationship    string    `json:"relationship,omitempty"`
	SecretQuestion  string    `json:"secretQuestion,omitempty"`
	IDNumberHash    []byte    `json:"-"`
	SecretTokenHash []byte    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

// FullName joins first and last name the way verification compares them.
func (b Beneficiary) FullName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// SealedItem is an immutable encrypted vault entry.
type SealedItem struct {
	ID             uuid.UUID   `json:"id"`
	AccountID      uuid.UUID   `json:"accountId"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	Type           ItemType    `json:"type"`
	PayloadRef     ContentID   `json:"payloadRef"`
	PayloadSize    int         `json:"payloadSize"`
	Status         ItemStatus  `json:"status"`
	ShardsRequired int         `json:"shardsRequired"`
	GuardianIDs    []uuid.UUID `json:"guardianIds"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// ShardRecord is one guardian's share of one item's key.
type ShardRecord struct {
	SealedItemID   uuid.UUID  `json:"sealedItemId"`
	GuardianID     uuid.UUID  `json:"guardianId"`
	ShareIndex     int        `json:"shareIndex"`
	EncryptedShare []byte     `json:"encryptedShare"`
	ShareDigest    []byte     `json:"shareDigest"`
	Custody        Custody    `json:"custody"`
	ReleasedAt     *time.Time `json:"releasedAt,omitempty"`
	Revoked        bool       `json:"revoked"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
}

// UnlockSession tracks one beneficiary's attempt to unlock one item.
type UnlockSession struct {
	ID                 uuid.UUID  `json:"id"`
	AccountID          uuid.UUID  `json:"accountId"`
	SealedItemID       uuid.UUID  `json:"sealedItemId"`
	BeneficiaryID      uuid.UUID  `json:"beneficiaryId"`
	StartedAt          time.Time  `json:"startedAt"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	IdentityVerified   bool       `json:"identityVerified"`
	ReleasedShardCount int        `json:"releasedShardCount"`
	Outcome            Outcome    `json:"outcome"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	DeliveryPublicKey  []byte     `json:"-"`
	DeliveryEnvelope   []byte     `json:"-"`
	Delivered          bool       `json:"delivered"`
}

// ReleaseRequest is the per-session state of one guardian's share.
type ReleaseRequest struct {
	SessionID   uuid.UUID  `json:"sessionId"`
	GuardianID  uuid.UUID  `json:"guardianId"`
	RequestedAt time.Time  `json:"requestedAt"`
	Decision    Decision   `json:"decision"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
	// SealedShare holds the approved share re-sealed with the server ShareSealer
	// until the session reaches quorum.
	SealedShare []byte `json:"-"`
}

// AuditAction names a state transition recorded in the audit log.
type AuditAction string

const (
	AuditIdentityCheck        AuditAction = "identity_check"
	AuditShardRequested       AuditAction = "shard_requested"
	AuditShardReleased        AuditAction = "shard_released"
	AuditReleaseDenied        AuditAction = "release_denied"
	AuditReleaseRejected      AuditAction = "release_rejected"
	AuditQuorumReached        AuditAction = "quorum_reached"
	AuditReconstructionFailed AuditAction = "reconstruction_failed"
	AuditSessionExpired       AuditAction = "session_expired"
	AuditPayloadDelivered     AuditAction = "payload_delivered"
	AuditShardRevoked         AuditAction = "shard_revoked"
)

// AuditRecord is an append-only log entry. ID is assigned by the store and is
// strictly increasing.
type AuditRecord struct {
	ID           int64       `json:"id"`
	AccountID    uuid.UUID   `json:"accountId"`
	SealedItemID uuid.UUID   `json:"sealedItemId"`
	SessionID    uuid.UUID   `json:"sessionId"`
	ActorID      uuid.UUID   `json:"actorId"`
	Action       AuditAction `json:"action"`
	Result       string      `json:"result"`
	Timestamp    time.Time   `json:"timestamp"`
}
