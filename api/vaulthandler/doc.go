// Package vaulthandler exposes the vault over HTTP.
//
// Creator endpoints require a creator bearer token. The identity verification
// endpoint is public and returns a beneficiary token bound to the new unlock
// session. Guardians act with the release token they receive out of band,
// which is bound to one session and one guardian.
//
//	POST   /guardians                             creator
//	GET    /guardians                             creator
//	PUT    /guardians/{id}                        creator
//	DELETE /guardians/{id}                        creator
//	POST   /beneficiaries                         creator
//	GET    /beneficiaries                         creator
//	DELETE /beneficiaries/{id}                    creator
//	POST   /beneficiaries/{id}/send-token         creator
//	POST   /vault/items                           creator
//	GET    /vault/items                           creator
//	GET    /vault/items/{id}/audit                creator
//	POST   /vault/verify-identity                 public
//	POST   /vault/sessions/{id}/request-release   beneficiary
//	GET    /vault/sessions/{id}                   beneficiary, guardian
//	GET    /vault/sessions/{id}/payload           beneficiary
//	POST   /vault/sessions/{id}/release           guardian
//
// Responses never contain plaintext payloads. A beneficiary receives the
// payload only as an ECIES envelope addressed to the delivery key supplied at
// verification time.
package vaulthandler
