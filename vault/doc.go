// Package vault implements the SoulBox guardian vault.
//
// A creator seals items whose AES-256-GCM key is split among guardians with
// Shamir's Secret Sharing. A beneficiary who passes identity verification
// opens an unlock session; once enough guardians approve the release of their
// shares the key is reconstructed, the payload is decrypted exactly once and
// the session is closed.
//
// # Unlock session states
//
//	pending ──quorum──> success
//	   │  └──deny / reconstruction failure──> failed
//	   └──timeout──> expired
//
// A session never leaves a terminal state. Calls for one session are
// serialized by a per-session mutex and the store closes a session with a
// compare-and-set on its outcome, so at most one caller ever reconstructs the
// key.
//
// # Share custody
//
// Shares of guardians without a registered public key are sealed at rest with
// the server ShareSealer and opened on approval. Shares of guardians with a
// P-256 key are ECIES-encrypted to that key; such a guardian decrypts its share
// locally and submits it with the approval. Either way the share is checked
// against its stored SHA-256 digest before it counts.
//
// Every state transition is appended to the audit log.
package vault
