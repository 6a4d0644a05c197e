package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// GuardianRequest is the body of POST /guardians and PUT /guardians/{id}.
type GuardianRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	// PublicKey is an optional PEM encoded P-256 key. It is ignored on update.
	PublicKey string `json:"publicKey,omitempty"`
}

// BeneficiaryRequest is the body of POST /beneficiaries.
type BeneficiaryRequest struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	Relationship   string `json:"relationship,omitempty"`
	SecretQuestion string `json:"secretQuestion,omitempty"`
	IDNumber       string `json:"idNumber"`
}

// BeneficiaryCreated carries the only copy of the beneficiary's secret token.
type BeneficiaryCreated struct {
	Beneficiary interfaces.Beneficiary `json:"beneficiary"`
	SecretToken string                 `json:"secretToken"`
}

// SendTokenRequest is the body of POST /beneficiaries/{id}/send-token.
type SendTokenRequest struct {
	Method interfaces.DeliveryMethod `json:"method"`
}

// SealRequest is the body of POST /vault/items. Payload is base64 in JSON.
type SealRequest struct {
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	Type           interfaces.ItemType `json:"type"`
	Payload        []byte              `json:"payload"`
	ShardsRequired int                 `json:"shardsRequired"`
	GuardianIDs    []uuid.UUID         `json:"guardianIds"`
}

// VerifyIdentityRequest is the body of POST /vault/verify-identity.
type VerifyIdentityRequest struct {
	FullName      string    `json:"fullName"`
	IDNumber      string    `json:"idNumber"`
	SecretToken   string    `json:"secretToken"`
	BeneficiaryID uuid.UUID `json:"beneficiaryId"`
	ItemID        uuid.UUID `json:"itemId"`
	// DeliveryPublicKey is the PEM encoded P-256 key the payload is encrypted
	// to once the session succeeds.
	DeliveryPublicKey string `json:"deliveryPublicKey"`
}

type VerifyIdentityResponse struct {
	SessionID uuid.UUID `json:"sessionId"`
	Verified  bool      `json:"verified"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RequestReleaseRequest is the body of POST /vault/sessions/{id}/request-release.
type RequestReleaseRequest struct {
	GuardianID uuid.UUID `json:"guardianId"`
}

// ReleaseRequestBody is the body of POST /vault/sessions/{id}/release. Share
// is required for guardians holding their own key and is base64 in JSON.
type ReleaseRequestBody struct {
	GuardianID uuid.UUID `json:"guardianId"`
	Approve    bool      `json:"approve"`
	Share      []byte    `json:"share,omitempty"`
}

// SessionStatusResponse describes an unlock session. It never carries plaintext.
type SessionStatusResponse struct {
	SessionID          uuid.UUID             `json:"sessionId"`
	ItemID             uuid.UUID             `json:"itemId"`
	Status             interfaces.ItemStatus `json:"status"`
	ReleasedShardCount int                   `json:"releasedShardCount"`
	ShardsRequired     int                   `json:"shardsRequired"`
	Outcome            interfaces.Outcome    `json:"outcome"`
	ExpiresAt          time.Time             `json:"expiresAt"`
	Message            string                `json:"message,omitempty"`
}

// PayloadResponse carries the ECIES envelope of a completed session.
type PayloadResponse struct {
	Envelope []byte `json:"envelope"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
