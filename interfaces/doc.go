// Package interfaces defines the domain types, error taxonomy and component
// contracts of the guardian vault, separating them from their implementations.
//
// # Domain Types
//
//   - Guardian: a trusted party holding one share of a sealed item's key
//   - Beneficiary: the party that may unlock an item after identity verification
//   - SealedItem: an encrypted vault entry whose key was split among guardians
//   - ShardRecord: one guardian's encrypted share of one item's key
//   - UnlockSession: a single attempt by a beneficiary to unlock one item
//   - ReleaseRequest: a guardian's pending or decided answer within a session
//   - AuditRecord: an append-only entry describing one state transition
//
// # Store Interfaces
//
// VaultStore aggregates GuardianStore, BeneficiaryStore, SealedItemStore,
// SessionStore and AuditStore. Implementations must give SessionStore's
// CloseSession and DecideReleaseRequest compare-and-set semantics so that the
// quorum transition happens exactly once even across processes.
//
// # Storage Interfaces
//
//   - StorageBackend: content-addressed blob storage for sealed payloads
//   - StorageBackendFactory: creates storage backends from URI strings
//
// # Collaborators
//
//   - ShareSealer: encrypts a key share so only the server (or a KMS) can open it
//   - Notifier: delivers guardian release requests and beneficiary tokens
//   - TokenIssuer: mints scoped bearer tokens for guardians and beneficiaries
//
// # Errors
//
// All components return the sentinel errors declared in errors.go, wrapped with
// context via fmt.Errorf("%w: ..."). Callers classify them with errors.Is.
package interfaces
