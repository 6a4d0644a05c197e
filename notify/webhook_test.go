package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNotice() interfaces.ReleaseNotice {
	return interfaces.ReleaseNotice{
		AccountID:    uuid.New(),
		SessionID:    uuid.New(),
		SealedItemID: uuid.New(),
		ItemTitle:    "letter",
		Guardian:     interfaces.Guardian{ID: uuid.New(), Name: "Alice", Email: "alice@example.com"},
		ReleaseToken: "release-token",
		ExpiresAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_NotifyGuardian(t *testing.T) {
	notice := testNotice()
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mac := hmac.New(sha256.New, []byte("hook-secret"))
		mac.Write(body)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.Header.Get(SignatureHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL, Secret: "hook-secret"}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, n.NotifyGuardian(context.Background(), notice))
	assert.Equal(t, KindGuardianRelease, received.Kind)
	assert.Equal(t, notice.SessionID, received.SessionID)
	assert.Equal(t, notice.Guardian.ID, received.RecipientID)
	assert.Equal(t, "release-token", received.Token)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL, MaxRetries: 5, InitialInterval: time.Millisecond}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, n.SendBeneficiaryToken(context.Background(), interfaces.TokenDelivery{
		Beneficiary: interfaces.Beneficiary{ID: uuid.New(), FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"},
		Method:      interfaces.DeliveryEmail,
		Token:       "SB-ABCD-EFGH",
	}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL, MaxRetries: 5, InitialInterval: time.Millisecond}, discardLogger())
	require.NoError(t, err)

	err = n.NotifyGuardian(context.Background(), testNotice())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookNotifier_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: server.URL, MaxRetries: 2, InitialInterval: time.Millisecond}, discardLogger())
	require.NoError(t, err)

	require.Error(t, n.NotifyGuardian(context.Background(), testNotice()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewWebhookNotifier_RequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier(WebhookConfig{}, discardLogger())
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(discardLogger())
	assert.NoError(t, n.NotifyGuardian(context.Background(), testNotice()))
	assert.NoError(t, n.SendBeneficiaryToken(context.Background(), interfaces.TokenDelivery{Token: "SB-AAAA-BBBB"}))
}
