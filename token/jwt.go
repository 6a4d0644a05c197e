// Package token mints and verifies the HMAC signed bearer tokens used by
// creators, beneficiaries and guardians.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// Role tells which API surface a token unlocks.
type Role string

const (
	RoleCreator     Role = "creator"
	RoleBeneficiary Role = "beneficiary"
	RoleGuardian    Role = "guardian"
)

const issuer = "soulbox-vault"

// Claims represents JWT claims with role and the ids the role is bound to.
type Claims struct {
	jwt.RegisteredClaims
	Role          Role      `json:"typ"`
	AccountID     uuid.UUID `json:"account_id"`
	SessionID     uuid.UUID `json:"session_id,omitempty"`
	GuardianID    uuid.UUID `json:"guardian_id,omitempty"`
	BeneficiaryID uuid.UUID `json:"beneficiary_id,omitempty"`
}

var _ interfaces.TokenIssuer = (*JWT)(nil)

// JWT issues and parses tokens signed with a shared HS256 secret.
type JWT struct {
	secretKey []byte
	now       func() time.Time
}

// NewJWT creates a token manager with the provided secret key.
func NewJWT(secretKey string) (*JWT, error) {
	if len(secretKey) < 16 {
		return nil, fmt.Errorf("%w: jwt secret must be at least 16 bytes", interfaces.ErrValidation)
	}
	return &JWT{secretKey: []byte(secretKey), now: time.Now}, nil
}

// WithClock replaces the time source used for issuing and validating tokens.
func (j *JWT) WithClock(now func() time.Time) *JWT {
	j.now = now
	return j
}

// IssueCreatorToken creates a token for the owner of accountID.
func (j *JWT) IssueCreatorToken(accountID uuid.UUID, ttl time.Duration) (string, error) {
	return j.sign(Claims{
		Role:      RoleCreator,
		AccountID: accountID,
	}, j.now().Add(ttl))
}

// IssueGuardianToken creates a release token bound to one session and guardian.
func (j *JWT) IssueGuardianToken(accountID, sessionID, guardianID uuid.UUID, expiresAt time.Time) (string, error) {
	return j.sign(Claims{
		Role:       RoleGuardian,
		AccountID:  accountID,
		SessionID:  sessionID,
		GuardianID: guardianID,
	}, expiresAt)
}

// IssueBeneficiaryToken creates a token bound to the beneficiary's unlock session.
func (j *JWT) IssueBeneficiaryToken(accountID, sessionID, beneficiaryID uuid.UUID, expiresAt time.Time) (string, error) {
	return j.sign(Claims{
		Role:          RoleBeneficiary,
		AccountID:     accountID,
		SessionID:     sessionID,
		BeneficiaryID: beneficiaryID,
	}, expiresAt)
}

func (j *JWT) sign(claims Claims, expiresAt time.Time) (string, error) {
	now := j.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Role, err)
	}
	return tokenString, nil
}

// Parse validates the token and returns its claims. Any failure wraps
// interfaces.ErrUnauthorized.
func (j *JWT) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return j.secretKey, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", interfaces.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: failed to parse token: %v", interfaces.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is invalid", interfaces.ErrUnauthorized)
	}
	if claims.AccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: token has no account", interfaces.ErrUnauthorized)
	}

	switch claims.Role {
	case RoleCreator:
	case RoleGuardian:
		if claims.SessionID == uuid.Nil || claims.GuardianID == uuid.Nil {
			return nil, fmt.Errorf("%w: guardian token is not bound to a session", interfaces.ErrUnauthorized)
		}
	case RoleBeneficiary:
		if claims.SessionID == uuid.Nil || claims.BeneficiaryID == uuid.Nil {
			return nil, fmt.Errorf("%w: beneficiary token is not bound to a session", interfaces.ErrUnauthorized)
		}
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", interfaces.ErrUnauthorized, claims.Role)
	}

	return claims, nil
}
