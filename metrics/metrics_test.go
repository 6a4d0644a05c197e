package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("soulbox_vault")

	m.IdentityCheck("verified")
	m.IdentityCheck("mismatch")
	m.IdentityCheck("mismatch")
	m.UnlockSession("success")
	m.ShardRelease("approved")
	m.Notification("failed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.identityChecks.WithLabelValues("verified")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.identityChecks.WithLabelValues("mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unlockSessions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shardReleases.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("failed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IdentityCheck("verified")
		m.UnlockSession("expired")
		m.ShardRelease("denied")
		m.Notification("sent")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("soulbox_vault")
	m.UnlockSession("expired")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `soulbox_vault_unlock_sessions_total{outcome="expired"} 1`)
}
