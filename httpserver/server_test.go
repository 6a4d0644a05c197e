package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/soulbox-vault/api"
	"github.com/ruteri/soulbox-vault/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

type MockReadiness struct {
	mock.Mock
}

func (m *MockReadiness) Ready(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	cfg := &api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            time.Hour,
		GracefulShutdownDuration: time.Second,
	}
	return New(cfg, pingRoutes{}, ready, metrics.NewMetrics("test"))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestServer_MountsRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := get(t, srv.Handler(), "/ping")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", rr.Body.String())

	rr = get(t, srv.Handler(), "/livez")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rr.Body.String())

	rr = get(t, srv.Handler(), "/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_DrainUndrain(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.stopDrainTimer()
	h := srv.Handler()

	steps := []struct {
		path   string
		status string
		code   int
	}{
		{"/readyz", "ready", http.StatusOK},
		{"/drain", "draining", http.StatusOK},
		{"/drain", "already draining", http.StatusOK},
		{"/readyz", "not ready", http.StatusServiceUnavailable},
		{"/undrain", "ready", http.StatusOK},
		{"/undrain", "already ready", http.StatusOK},
		{"/readyz", "ready", http.StatusOK},
	}
	for _, step := range steps {
		rr := get(t, h, step.path)
		require.Equal(t, step.code, rr.Code, step.path)
		assert.JSONEq(t, `{"status":"`+step.status+`"}`, rr.Body.String(), step.path)
	}
}

func TestServer_ReadinessFollowsDependencies(t *testing.T) {
	ready := new(MockReadiness)
	ready.On("Ready", mock.Anything).Return(errors.New("database unavailable")).Once()
	ready.On("Ready", mock.Anything).Return(nil).Once()

	srv := newTestServer(t, ready)

	rr := get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)

	ready.AssertExpectations(t)
}

func TestServer_Pprof(t *testing.T) {
	cfg := &api.HTTPServerConfig{
		ListenAddr:  "127.0.0.1:0",
		EnablePprof: true,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	srv := New(cfg, pingRoutes{}, nil, nil)

	rr := get(t, srv.Handler(), "/debug/pprof/")
	assert.Equal(t, http.StatusOK, rr.Code)
}
