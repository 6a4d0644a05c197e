package kms

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// MaxShares is the largest number of shares the GF(2^8) scheme can address.
const MaxShares = 255

// Share is one point of a split key: the y values followed by the x coordinate.
type Share []byte

// SplitKey splits key into n shares with reconstruction threshold k.
func SplitKey(key []byte, n, k int) ([]Share, error) {
	switch {
	case len(key) == 0:
		return nil, fmt.Errorf("%w: cannot split an empty key", interfaces.ErrCrypto)
	case n < 1:
		return nil, fmt.Errorf("%w: share count %d must be at least 1", interfaces.ErrCrypto, n)
	case n > MaxShares:
		return nil, fmt.Errorf("%w: share count %d exceeds %d", interfaces.ErrCrypto, n, MaxShares)
	case k < 1:
		return nil, fmt.Errorf("%w: threshold %d must be at least 1", interfaces.ErrCrypto, k)
	case k > n:
		return nil, fmt.Errorf("%w: threshold %d exceeds share count %d", interfaces.ErrCrypto, k, n)
	}

	if k == 1 {
		shares := make([]Share, n)
		for i := range shares {
			share := make([]byte, len(key)+1)
			copy(share, key)
			share[len(key)] = byte(i + 1)
			shares[i] = share
		}
		return shares, nil
	}

	parts, err := shamir.Split(key, n, k)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to split key: %v", interfaces.ErrCrypto, err)
	}

	shares := make([]Share, len(parts))
	for i, part := range parts {
		shares[i] = part
	}
	return shares, nil
}

// CombineShares reconstructs the key from shares. Passing fewer shares than the
// threshold used at split time yields a wrong key, not an error.
func CombineShares(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: no shares to combine", interfaces.ErrCrypto)
	}

	if len(shares) == 1 {
		if len(shares[0]) < 2 {
			return nil, fmt.Errorf("%w: share too short", interfaces.ErrCrypto)
		}
		key := make([]byte, len(shares[0])-1)
		copy(key, shares[0])
		return key, nil
	}

	parts := make([][]byte, len(shares))
	for i, share := range shares {
		parts[i] = share
	}

	key, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to reconstruct key: %v", interfaces.ErrCrypto, err)
	}
	return key, nil
}

// ShareDigest is the commitment stored next to each share to detect corruption.
func ShareDigest(share Share) []byte {
	digest := sha256.Sum256(share)
	return digest[:]
}

// VerifyShare checks a share against its commitment in constant time.
func VerifyShare(share Share, digest []byte) bool {
	computed := sha256.Sum256(share)
	return subtle.ConstantTimeCompare(computed[:], digest) == 1
}

// Reconstructor accumulates shares from distinct holders and combines them
// once the threshold is met.
type Reconstructor struct {
	mu             sync.Mutex
	threshold      int
	receivedShares map[uuid.UUID]Share
}

// NewReconstructor creates a collector that needs threshold shares.
func NewReconstructor(threshold int) *Reconstructor {
	return &Reconstructor{
		threshold:      threshold,
		receivedShares: make(map[uuid.UUID]Share),
	}
}

// Submit adds a holder's share. A holder can contribute only once.
func (r *Reconstructor) Submit(holder uuid.UUID, share Share) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.receivedShares[holder]; found {
		return fmt.Errorf("%w: duplicate share from %s", interfaces.ErrValidation, holder)
	}
	r.receivedShares[holder] = share
	return nil
}

// Reconstruct combines the received shares into the key. All shares are wiped
// afterwards whether or not reconstruction succeeded.
func (r *Reconstructor) Reconstruct() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.receivedShares) < r.threshold {
		return nil, fmt.Errorf("%w: have %d of %d shares", interfaces.ErrQuorumNotMet, len(r.receivedShares), r.threshold)
	}

	shares := make([]Share, 0, len(r.receivedShares))
	for _, share := range r.receivedShares {
		shares = append(shares, share)
	}

	key, err := CombineShares(shares)

	for holder, share := range r.receivedShares {
		cryptoutils.Wipe(share)
		delete(r.receivedShares, holder)
	}

	return key, err
}
