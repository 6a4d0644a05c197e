package interfaces

import "errors"

var (
	// ErrValidation is returned for bad input shape or range, e.g. a
	// shardsRequired outside [1, len(guardians)].
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for an unknown guardian, beneficiary, item or session.
	ErrNotFound = errors.New("not found")

	// ErrIdentityMismatch is returned for any failed beneficiary verification.
	// It deliberately carries no detail about which check failed.
	ErrIdentityMismatch = errors.New("verification failed")

	// ErrCrypto is returned when share generation or key reconstruction fails,
	// including corrupted shares and an invalid (k, n) pair.
	ErrCrypto = errors.New("cryptographic operation failed")

	// ErrSessionExpired is returned for any action against a terminal or timed-out session.
	ErrSessionExpired = errors.New("unlock session is closed")

	// ErrQuorumNotMet reports that a release was accepted but the threshold has not
	// been reached yet. It is informational, not a failure.
	ErrQuorumNotMet = errors.New("insufficient approvals")

	// ErrRateLimited is returned when a beneficiary exhausted its verification attempts.
	ErrRateLimited = errors.New("too many verification attempts")

	// ErrUnauthorized is returned when a bearer token does not grant the requested action.
	ErrUnauthorized = errors.New("unauthorized")
)
