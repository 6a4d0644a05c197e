package vaulthandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ruteri/soulbox-vault/api"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// RequestError pairs an HTTP status code with the error that caused it.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// errorMapping lists the sentinel errors in the order they are checked.
var errorMapping = []struct {
	err    error
	status int
}{
	{interfaces.ErrValidation, http.StatusBadRequest},
	{interfaces.ErrNotFound, http.StatusNotFound},
	{interfaces.ErrIdentityMismatch, http.StatusUnauthorized},
	{interfaces.ErrCrypto, http.StatusUnprocessableEntity},
	{interfaces.ErrSessionExpired, http.StatusGone},
	{interfaces.ErrQuorumNotMet, http.StatusAccepted},
	{interfaces.ErrRateLimited, http.StatusTooManyRequests},
	{interfaces.ErrUnauthorized, http.StatusUnauthorized},
	{interfaces.ErrBackendUnavailable, http.StatusServiceUnavailable},
	{interfaces.ErrContentNotFound, http.StatusServiceUnavailable},
}

// classify returns the status code for err and the sentinel it matched.
func classify(err error) (int, error) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode, reqErr.Err
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.err
		}
	}
	return http.StatusInternalServerError, nil
}

// writeError responds with the status matching err. Creator endpoints get the
// full error text; everyone else only sees the generic sentinel message so
// that responses never name a guardian or a field.
func writeError(w http.ResponseWriter, log *slog.Logger, err error, detailed bool) {
	status, sentinel := classify(err)

	msg := http.StatusText(status)
	switch {
	case status == http.StatusInternalServerError:
		log.Error("request failed", "err", err)
		msg = "internal error"
	case detailed:
		msg = err.Error()
	case sentinel != nil:
		msg = sentinel.Error()
	}

	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
