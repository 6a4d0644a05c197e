package cryptoutils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

// SecretParams are the Argon2id cost parameters used to hash beneficiary secrets.
type SecretParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultSecretParams mirror the Argon2id parameters used for key derivation
// elsewhere in the service.
var DefaultSecretParams = SecretParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

const (
	secretSaltSize = 16
	secretHashSize = 32
	// version(1) time(4) memory(4) threads(1)
	secretHeaderSize = 10
	secretVersion    = 1
)

// NormalizeSecret trims and case-folds a secret so that comparisons are
// insensitive to surrounding whitespace and letter case.
func NormalizeSecret(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName additionally collapses internal runs of whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// HashSecret returns a self-describing Argon2id digest of the normalized secret.
func HashSecret(secret string, params SecretParams) ([]byte, error) {
	salt := make([]byte, secretSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(NormalizeSecret(secret)), salt, params.Time, params.MemoryKiB, params.Threads, secretHashSize)

	out := make([]byte, 0, secretHeaderSize+secretSaltSize+secretHashSize)
	out = append(out, secretVersion)
	out = binary.BigEndian.AppendUint32(out, params.Time)
	out = binary.BigEndian.AppendUint32(out, params.MemoryKiB)
	out = append(out, params.Threads)
	out = append(out, salt...)
	out = append(out, key...)
	return out, nil
}

// VerifySecret checks a candidate against a digest produced by HashSecret.
// The final comparison runs in constant time.
func VerifySecret(candidate string, digest []byte) (bool, error) {
	if len(digest) != secretHeaderSize+secretSaltSize+secretHashSize || digest[0] != secretVersion {
		return false, errors.New("malformed secret digest")
	}

	timeCost := binary.BigEndian.Uint32(digest[1:5])
	memory := binary.BigEndian.Uint32(digest[5:9])
	threads := digest[9]
	salt := digest[secretHeaderSize : secretHeaderSize+secretSaltSize]
	expected := digest[secretHeaderSize+secretSaltSize:]

	key := argon2.IDKey([]byte(NormalizeSecret(candidate)), salt, timeCost, memory, threads, secretHashSize)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// EqualFold compares two normalized names in constant time.
func EqualFold(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(NormalizeName(a)), []byte(NormalizeName(b))) == 1
}

// tokenAlphabet omits characters that are easy to confuse when read aloud (0/O, 1/I).
const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateSecretToken returns a random token of the form SB-XXXX-XXXX.
func GenerateSecretToken() (string, error) {
	var b strings.Builder
	b.WriteString("SB-")
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}
