package memstore

import (
	"slices"
	"time"

	"github.com/ruteri/soulbox-vault/interfaces"
)

// Values handed in and out of the store are copied so callers never alias
// the store's byte slices or time pointers.

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneGuardian(g interfaces.Guardian) interfaces.Guardian {
	g.PublicKey = slices.Clone(g.PublicKey)
	return g
}

func cloneBeneficiary(b interfaces.Beneficiary) interfaces.Beneficiary {
	b.IDNumberHash = slices.Clone(b.IDNumberHash)
	b.SecretTokenHash = slices.Clone(b.SecretTokenHash)
	return b
}

func cloneItem(item interfaces.SealedItem) interfaces.SealedItem {
	item.GuardianIDs = slices.Clone(item.GuardianIDs)
	return item
}

func cloneShard(shard interfaces.ShardRecord) interfaces.ShardRecord {
	shard.EncryptedShare = slices.Clone(shard.EncryptedShare)
	shard.ShareDigest = slices.Clone(shard.ShareDigest)
	shard.ReleasedAt = cloneTime(shard.ReleasedAt)
	shard.RevokedAt = cloneTime(shard.RevokedAt)
	return shard
}

func cloneSession(session interfaces.UnlockSession) interfaces.UnlockSession {
	session.ClosedAt = cloneTime(session.ClosedAt)
	session.DeliveryPublicKey = slices.Clone(session.DeliveryPublicKey)
	session.DeliveryEnvelope = slices.Clone(session.DeliveryEnvelope)
	return session
}

func cloneRelease(r interfaces.ReleaseRequest) interfaces.ReleaseRequest {
	r.DecidedAt = cloneTime(r.DecidedAt)
	r.SealedShare = slices.Clone(r.SealedShare)
	return r
}
