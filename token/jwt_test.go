package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWT_RoundTrip(t *testing.T) {
	j, err := NewJWT(testSecret)
	require.NoError(t, err)

	accountID, sessionID, guardianID, beneficiaryID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	expires := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		issue func() (string, error)
		check func(t *testing.T, c *Claims)
	}{
		{
			name:  "creator",
			issue: func() (string, error) { return j.IssueCreatorToken(accountID, time.Hour) },
			check: func(t *testing.T, c *Claims) {
				assert.Equal(t, RoleCreator, c.Role)
				assert.Equal(t, uuid.Nil, c.SessionID)
			},
		},
		{
			name:  "guardian",
			issue: func() (string, error) { return j.IssueGuardianToken(accountID, sessionID, guardianID, expires) },
			check: func(t *testing.T, c *Claims) {
				assert.Equal(t, RoleGuardian, c.Role)
				assert.Equal(t, sessionID, c.SessionID)
				assert.Equal(t, guardianID, c.GuardianID)
			},
		},
		{
			name:  "beneficiary",
			issue: func() (string, error) { return j.IssueBeneficiaryToken(accountID, sessionID, beneficiaryID, expires) },
			check: func(t *testing.T, c *Claims) {
				assert.Equal(t, RoleBeneficiary, c.Role)
				assert.Equal(t, beneficiaryID, c.BeneficiaryID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenString, err := tt.issue()
			require.NoError(t, err)

			claims, err := j.Parse(tokenString)
			require.NoError(t, err)
			assert.Equal(t, accountID, claims.AccountID)
			tt.check(t, claims)
		})
	}
}

func TestJWT_Rejects(t *testing.T) {
	j, err := NewJWT(testSecret)
	require.NoError(t, err)
	other, err := NewJWT("another-secret-of-enough-length")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.WithClock(func() time.Time { return now })

	expired, err := j.IssueCreatorToken(uuid.New(), time.Minute)
	require.NoError(t, err)
	foreign, err := other.IssueCreatorToken(uuid.New(), time.Hour)
	require.NoError(t, err)
	noAccount, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		Role:             RoleCreator,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	unbound, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		Role:             RoleGuardian,
		AccountID:        uuid.New(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	// Advance past the creator token's lifetime.
	now = now.Add(2 * time.Minute)

	for name, tokenString := range map[string]string{
		"expired":          expired,
		"foreign secret":   foreign,
		"missing account":  noAccount,
		"unbound guardian": unbound,
		"garbage":          "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := j.Parse(tokenString)
			assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
		})
	}
}

func TestNewJWT_ShortSecret(t *testing.T) {
	_, err := NewJWT("short")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}
