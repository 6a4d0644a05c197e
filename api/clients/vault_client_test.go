package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/api"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestVaultClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	var gotBody api.GuardianRequest

	r := chi.NewRouter()
	r.Post("/guardians", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(w, http.StatusCreated, interfaces.Guardian{ID: uuid.New(), Name: gotBody.Name})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	g, err := NewVaultClient(srv.URL, "creator-token").AddGuardian(context.Background(), api.GuardianRequest{Name: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice", g.Name)
	assert.Equal(t, "Bearer creator-token", gotAuth)
	assert.Equal(t, "alice@example.com", gotBody.Email)
}

func TestVaultClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status  int
		message string
		want    error
	}{
		{http.StatusBadRequest, "validation failed", interfaces.ErrValidation},
		{http.StatusNotFound, "not found", interfaces.ErrNotFound},
		{http.StatusUnauthorized, "verification failed", interfaces.ErrIdentityMismatch},
		{http.StatusUnauthorized, "unauthorized", interfaces.ErrUnauthorized},
		{http.StatusForbidden, "unauthorized: wrong role", interfaces.ErrUnauthorized},
		{http.StatusUnprocessableEntity, "cryptographic operation failed", interfaces.ErrCrypto},
		{http.StatusGone, "unlock session is closed", interfaces.ErrSessionExpired},
		{http.StatusAccepted, "insufficient approvals", interfaces.ErrQuorumNotMet},
		{http.StatusTooManyRequests, "too many verification attempts", interfaces.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status)+"/"+tt.message, func(t *testing.T) {
			r := chi.NewRouter()
			r.Get("/vault/sessions/{id}/payload", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, api.ErrorResponse{Error: tt.message})
			})
			srv := httptest.NewServer(r)
			defer srv.Close()

			_, err := NewVaultClient(srv.URL, "tok").CollectPayload(context.Background(), uuid.New())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestVaultClient_ReleaseBelowQuorum(t *testing.T) {
	sessionID := uuid.New()

	r := chi.NewRouter()
	r.Post("/vault/sessions/{id}/release", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sessionID.String(), chi.URLParam(r, "id"))
		writeJSON(w, http.StatusAccepted, api.SessionStatusResponse{
			SessionID:          sessionID,
			ReleasedShardCount: 1,
			ShardsRequired:     2,
			Outcome:            interfaces.OutcomePending,
			Message:            "insufficient approvals",
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	status, err := NewVaultClient(srv.URL, "guardian-token").Release(context.Background(), sessionID, api.ReleaseRequestBody{GuardianID: uuid.New(), Approve: true})
	require.NoError(t, err)
	assert.Equal(t, 1, status.ReleasedShardCount)
	assert.Equal(t, "insufficient approvals", status.Message)
}

func TestVaultClient_WithToken(t *testing.T) {
	var gotAuth []string
	r := chi.NewRouter()
	r.Get("/vault/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, api.SessionStatusResponse{Outcome: interfaces.OutcomeSuccess})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	base := NewVaultClient(srv.URL, "")
	_, err := base.WithToken("beneficiary").SessionStatus(context.Background(), uuid.New())
	require.NoError(t, err)
	_, err = base.SessionStatus(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer beneficiary", ""}, gotAuth)
}
