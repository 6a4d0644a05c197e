// Package cryptoutils provides the cryptographic building blocks of the vault.
//
// # Asymmetric Envelopes
//
// EncryptWithPublicKey and DecryptWithPrivateKey implement ECIES over NIST
// P-256: an ephemeral ECDH key agreement, SHA-256 key derivation and AES-GCM.
// They protect guardian-custody key shares and the one-time delivery envelope
// that carries an unlocked payload to the beneficiary.
//
//	[ephemeral key length (2 bytes)][ephemeral key][iv (12 bytes)][ciphertext]
//
// # Symmetric Sealing
//
// SealAESGCM and OpenAESGCM encrypt payloads and server-custody shares with
// AES-256-GCM, producing nonce||ciphertext and binding optional additional data.
//
// # Beneficiary Secrets
//
// HashSecret and VerifySecret store ID numbers and secret tokens as salted
// Argon2id digests, compared in constant time. GenerateSecretToken produces the
// human readable SB-XXXX-XXXX tokens handed to beneficiaries.
package cryptoutils
