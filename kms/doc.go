// Package kms splits and reconstructs sealed item keys and protects the
// resulting shares at rest.
//
// # Threshold Sharing
//
// SplitKey divides a key into n shares such that any k of them reconstruct it
// and k-1 reveal nothing. For k >= 2 it delegates to hashicorp/vault/shamir,
// which evaluates a random degree k-1 polynomial over GF(2^8) at distinct
// non-zero points. For k == 1 every share is the key itself tagged with a
// distinct x coordinate, which is the degree-0 case of the same scheme and
// combines correctly through Lagrange interpolation.
//
// Each share is encoded as the y values followed by a one-byte x coordinate:
//
//	[y_0 ... y_len(key)-1][x]
//
// Reconstructor collects shares from distinct holders until a threshold is met
// and then combines them, wiping every share from memory afterwards.
//
// # Share Sealers
//
// Server-custody shares are encrypted with an interfaces.ShareSealer bound to
// the holding guardian:
//
//   - LocalSealer derives a per-guardian AES-256-GCM key from a server master
//     secret with HKDF-SHA256.
//   - TransitSealer delegates to HashiCorp Vault's Transit engine using a
//     derived key with the guardian ID as context, so the master secret never
//     leaves Vault.
package kms
