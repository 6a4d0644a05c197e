package vaulthandler

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/token"
)

// TokenParser validates bearer tokens.
type TokenParser interface {
	Parse(tokenString string) (*token.Claims, error)
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*token.Claims)
	return claims
}

// requireRole rejects requests without a valid bearer token of one of roles.
func (h *Handler) requireRole(roles ...token.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, h.log, &RequestError{http.StatusUnauthorized, interfaces.ErrUnauthorized}, false)
				return
			}

			claims, err := h.tokens.Parse(raw)
			if err != nil {
				writeError(w, h.log, &RequestError{http.StatusUnauthorized, interfaces.ErrUnauthorized}, false)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeError(w, h.log, forbidden("token role %q not allowed", claims.Role), false)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func forbidden(format string, args ...any) error {
	return &RequestError{
		StatusCode: http.StatusForbidden,
		Err:        fmt.Errorf("%w: "+format, append([]any{interfaces.ErrUnauthorized}, args...)...),
	}
}
