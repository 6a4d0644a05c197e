// Package storetest holds behavioural tests shared by every
// interfaces.VaultStore implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The store is closed by the caller.
type Factory func(t *testing.T) interfaces.VaultStore

// Run exercises the full VaultStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s interfaces.VaultStore)
	}{
		{"guardian lifecycle", testGuardianLifecycle},
		{"delete guardian revokes shards", testDeleteGuardianRevokesShards},
		{"beneficiary lifecycle", testBeneficiaryLifecycle},
		{"item status transitions", testItemStatusTransitions},
		{"close session is compare-and-set", testCloseSessionCAS},
		{"concurrent close has one winner", testConcurrentClose},
		{"claim session is exclusive", testClaimSession},
		{"release decisions", testReleaseDecisions},
		{"delivery envelope is taken once", testDeliveryEnvelope},
		{"audit ordering", testAuditOrdering},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Fixture is a minimal account with two guardians, one beneficiary and one
// 2-of-2 item.
type Fixture struct {
	AccountID   uuid.UUID
	Guardians   []interfaces.Guardian
	Beneficiary interfaces.Beneficiary
	Item        interfaces.SealedItem
}

// Seed writes a Fixture into s.
func Seed(t *testing.T, s interfaces.VaultStore) Fixture {
	t.Helper()
	ctx := context.Background()

	f := Fixture{AccountID: uuid.New()}
	for i, name := range []string{"Alice", "Bob"} {
		g := interfaces.Guardian{
			ID:        uuid.New(),
			AccountID: f.AccountID,
			Name:      name,
			Email:     name + "@example.com",
			CreatedAt: epoch.Add(time.Duration(i) * time.Second),
			UpdatedAt: epoch.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateGuardian(ctx, g))
		f.Guardians = append(f.Guardians, g)
	}

	f.Beneficiary = interfaces.Beneficiary{
		ID:              uuid.New(),
		AccountID:       f.AccountID,
		FirstName:       "Jane",
		LastName:        "Doe",
		Email:           "jane@example.com",
		IDNumberHash:    []byte{1, 2, 3},
		SecretTokenHash: []byte{4, 5, 6},
		CreatedAt:       epoch,
	}
	require.NoError(t, s.CreateBeneficiary(ctx, f.Beneficiary))

	f.Item = interfaces.SealedItem{
		ID:             uuid.New(),
		AccountID:      f.AccountID,
		Title:          "letter",
		Type:           interfaces.ItemTypeMessage,
		PayloadRef:     interfaces.ComputeID([]byte("ciphertext")),
		PayloadSize:    10,
		Status:         interfaces.ItemSealed,
		ShardsRequired: 2,
		GuardianIDs:    []uuid.UUID{f.Guardians[0].ID, f.Guardians[1].ID},
		CreatedAt:      epoch,
	}
	var shards []interfaces.ShardRecord
	for i, g := range f.Guardians {
		shards = append(shards, interfaces.ShardRecord{
			SealedItemID:   f.Item.ID,
			GuardianID:     g.ID,
			ShareIndex:     i + 1,
			EncryptedShare: []byte{byte(i), 0xAA},
			ShareDigest:    []byte{byte(i), 0xBB},
			Custody:        interfaces.CustodyServer,
		})
	}
	require.NoError(t, s.CreateSealedItem(ctx, f.Item, shards))
	return f
}

// OpenSession creates a pending session on the fixture's item.
func OpenSession(t *testing.T, s interfaces.VaultStore, f Fixture) interfaces.UnlockSession {
	t.Helper()
	session := interfaces.UnlockSession{
		ID:               uuid.New(),
		AccountID:        f.AccountID,
		SealedItemID:     f.Item.ID,
		BeneficiaryID:    f.Beneficiary.ID,
		StartedAt:        epoch,
		ExpiresAt:        epoch.Add(time.Hour),
		IdentityVerified: true,
		Outcome:          interfaces.OutcomePending,
	}
	require.NoError(t, s.CreateSession(context.Background(), session))
	return session
}

func testGuardianLifecycle(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)

	list, err := s.ListGuardians(ctx, f.AccountID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alice", list[0].Name)
	assert.Equal(t, "Bob", list[1].Name)

	updated := f.Guardians[0]
	updated.Name = "Alicia"
	updated.UpdatedAt = epoch.Add(time.Minute)
	require.NoError(t, s.UpdateGuardian(ctx, updated))

	got, err := s.GetGuardian(ctx, updated.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.Name)

	updated.AccountID = uuid.New()
	assert.ErrorIs(t, s.UpdateGuardian(ctx, updated), interfaces.ErrNotFound)

	_, err = s.GetGuardian(ctx, uuid.New())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	other, err := s.ListGuardians(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testDeleteGuardianRevokesShards(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)
	target := f.Guardians[0].ID

	// Another account cannot delete it.
	revoked, err := s.DeleteGuardian(ctx, uuid.New(), target, epoch)
	require.NoError(t, err)
	assert.Empty(t, revoked)

	revoked, err = s.DeleteGuardian(ctx, f.AccountID, target, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.Item.ID}, revoked)

	shard, err := s.GetShard(ctx, f.Item.ID, target)
	require.NoError(t, err)
	assert.True(t, shard.Revoked)
	require.NotNil(t, shard.RevokedAt)
	assert.True(t, shard.RevokedAt.Equal(epoch.Add(time.Minute)))

	other, err := s.GetShard(ctx, f.Item.ID, f.Guardians[1].ID)
	require.NoError(t, err)
	assert.False(t, other.Revoked)

	// Idempotent.
	revoked, err = s.DeleteGuardian(ctx, f.AccountID, target, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, revoked)

	_, err = s.GetGuardian(ctx, target)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testBeneficiaryLifecycle(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)

	got, err := s.GetBeneficiary(ctx, f.Beneficiary.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Beneficiary.IDNumberHash, got.IDNumberHash)

	require.NoError(t, s.UpdateSecretToken(ctx, f.AccountID, f.Beneficiary.ID, []byte{9, 9}))
	got, err = s.GetBeneficiary(ctx, f.Beneficiary.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, got.SecretTokenHash)

	assert.ErrorIs(t, s.UpdateSecretToken(ctx, uuid.New(), f.Beneficiary.ID, []byte{1}), interfaces.ErrNotFound)

	list, err := s.ListBeneficiaries(ctx, f.AccountID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteBeneficiary(ctx, f.AccountID, f.Beneficiary.ID))
	require.NoError(t, s.DeleteBeneficiary(ctx, f.AccountID, f.Beneficiary.ID))
	_, err = s.GetBeneficiary(ctx, f.Beneficiary.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testItemStatusTransitions(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)

	item, err := s.GetSealedItem(ctx, f.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ItemSealed, item.Status)
	assert.ElementsMatch(t, f.Item.GuardianIDs, item.GuardianIDs)

	shards, err := s.ListShards(ctx, f.Item.ID)
	require.NoError(t, err)
	require.Len(t, shards, 2)
	assert.Equal(t, 1, shards[0].ShareIndex)

	ok, err := s.TransitionItemStatus(ctx, f.Item.ID, interfaces.ItemUnsealing, interfaces.ItemUnsealed)
	require.NoError(t, err)
	assert.False(t, ok)

	session := OpenSession(t, s, f)
	ok, err = s.TransitionItemStatus(ctx, f.Item.ID, interfaces.ItemSealed, interfaces.ItemUnsealing)
	require.NoError(t, err)
	assert.True(t, ok)

	// A pending session keeps the item unsealing.
	require.NoError(t, s.RevertItemStatus(ctx, f.Item.ID))
	item, err = s.GetSealedItem(ctx, f.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ItemUnsealing, item.Status)

	_, err = s.CloseSession(ctx, session.ID, interfaces.OutcomeFailed, epoch.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.RevertItemStatus(ctx, f.Item.ID))
	item, err = s.GetSealedItem(ctx, f.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ItemSealed, item.Status)

	_, err = s.TransitionItemStatus(ctx, uuid.New(), interfaces.ItemSealed, interfaces.ItemUnsealing)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	items, err := s.ListSealedItems(ctx, f.AccountID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func testCloseSessionCAS(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)
	session := OpenSession(t, s, f)

	pending, err := s.ListPendingSessions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, session.ID, pending[0].ID)

	ok, err := s.CloseSession(ctx, session.ID, interfaces.OutcomeExpired, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CloseSession(ctx, session.ID, interfaces.OutcomeSuccess, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.OutcomeExpired, got.Outcome)
	require.NotNil(t, got.ClosedAt)

	pending, err = s.ListPendingSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.CloseSession(ctx, uuid.New(), interfaces.OutcomeFailed, epoch)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testConcurrentClose(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)
	session := OpenSession(t, s, f)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.CloseSession(ctx, session.ID, interfaces.OutcomeSuccess, epoch)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testClaimSession(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)
	session := OpenSession(t, s, f)
	lease := time.Minute

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimSession(ctx, session.ID, epoch, lease)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	ok, err := s.ClaimSession(ctx, session.ID, epoch.Add(30*time.Second), lease)
	require.NoError(t, err)
	assert.False(t, ok, "claim is held within the lease")

	ok, err = s.ClaimSession(ctx, session.ID, epoch.Add(2*time.Minute), lease)
	require.NoError(t, err)
	assert.True(t, ok, "a stale claim can be taken over")

	ok, err = s.CloseSession(ctx, session.ID, interfaces.OutcomeSuccess, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ClaimSession(ctx, session.ID, epoch.Add(time.Hour), lease)
	require.NoError(t, err)
	assert.False(t, ok, "closed sessions cannot be claimed")

	_, err = s.ClaimSession(ctx, uuid.New(), epoch, lease)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testReleaseDecisions(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)
	session := OpenSession(t, s, f)
	alice, bob := f.Guardians[0].ID, f.Guardians[1].ID

	_, err := s.DecideReleaseRequest(ctx, session.ID, alice, interfaces.DecisionApproved, []byte("s"), epoch)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	for _, g := range []uuid.UUID{alice, bob} {
		created, err := s.CreateReleaseRequest(ctx, interfaces.ReleaseRequest{
			SessionID:   session.ID,
			GuardianID:  g,
			RequestedAt: epoch,
			Decision:    interfaces.DecisionPending,
		})
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := s.CreateReleaseRequest(ctx, interfaces.ReleaseRequest{SessionID: session.ID, GuardianID: alice, RequestedAt: epoch, Decision: interfaces.DecisionPending})
	require.NoError(t, err)
	assert.False(t, created)

	count, err := s.DecideReleaseRequest(ctx, session.ID, alice, interfaces.DecisionApproved, []byte("sealed-a"), epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.DecideReleaseRequest(ctx, session.ID, alice, interfaces.DecisionApproved, []byte("sealed-a"), epoch.Add(time.Minute))
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	shard, err := s.GetShard(ctx, f.Item.ID, alice)
	require.NoError(t, err)
	require.NotNil(t, shard.ReleasedAt)
	firstRelease := *shard.ReleasedAt

	approved, err := s.ListApprovedReleases(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, []byte("sealed-a"), approved[0].SealedShare)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReleasedShardCount)

	_, err = s.CloseSession(ctx, session.ID, interfaces.OutcomeFailed, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = s.DecideReleaseRequest(ctx, session.ID, bob, interfaces.DecisionApproved, []byte("sealed-b"), epoch.Add(3*time.Minute))
	assert.ErrorIs(t, err, interfaces.ErrSessionExpired)

	// ReleasedAt survives later sessions.
	second := OpenSession(t, s, f)
	_, err = s.CreateReleaseRequest(ctx, interfaces.ReleaseRequest{SessionID: second.ID, GuardianID: alice, RequestedAt: epoch, Decision: interfaces.DecisionPending})
	require.NoError(t, err)
	count, err = s.DecideReleaseRequest(ctx, second.ID, alice, interfaces.DecisionApproved, []byte("sealed-a2"), epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	shard, err = s.GetShard(ctx, f.Item.ID, alice)
	require.NoError(t, err)
	assert.True(t, shard.ReleasedAt.Equal(firstRelease))

	r, err := s.GetReleaseRequest(ctx, second.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, interfaces.DecisionApproved, r.Decision)
}

func testDeliveryEnvelope(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)
	session := OpenSession(t, s, f)

	_, err := s.TakeDeliveryEnvelope(ctx, session.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, s.SetDeliveryEnvelope(ctx, session.ID, []byte("envelope")))

	envelope, err := s.TakeDeliveryEnvelope(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("envelope"), envelope)

	_, err = s.TakeDeliveryEnvelope(ctx, session.ID)
	assert.ErrorIs(t, err, interfaces.ErrSessionExpired)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.Delivered)
	assert.Empty(t, got.DeliveryEnvelope)
}

func testAuditOrdering(t *testing.T, s interfaces.VaultStore) {
	ctx := context.Background()
	f := Seed(t, s)

	actions := []interfaces.AuditAction{
		interfaces.AuditIdentityCheck,
		interfaces.AuditShardRequested,
		interfaces.AuditShardReleased,
	}
	var lastID int64
	for i, action := range actions {
		r, err := s.AppendAudit(ctx, interfaces.AuditRecord{
			AccountID:    f.AccountID,
			SealedItemID: f.Item.ID,
			ActorID:      f.Beneficiary.ID,
			Action:       action,
			Result:       "ok",
			Timestamp:    epoch.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.Greater(t, r.ID, lastID)
		lastID = r.ID
	}

	// Same timestamp as the last one: ordered by ID.
	_, err := s.AppendAudit(ctx, interfaces.AuditRecord{
		AccountID:    f.AccountID,
		SealedItemID: f.Item.ID,
		Action:       interfaces.AuditQuorumReached,
		Result:       "success",
		Timestamp:    epoch.Add(2 * time.Second),
	})
	require.NoError(t, err)

	// Other accounts never see these records.
	_, err = s.AppendAudit(ctx, interfaces.AuditRecord{
		AccountID:    uuid.New(),
		SealedItemID: f.Item.ID,
		Action:       interfaces.AuditIdentityCheck,
		Timestamp:    epoch,
	})
	require.NoError(t, err)

	records, err := s.ListAuditByItem(ctx, f.AccountID, f.Item.ID)
	require.NoError(t, err)
	require.Len(t, records, 4)
	var got []interfaces.AuditAction
	for _, r := range records {
		got = append(got, r.Action)
	}
	assert.Equal(t, append(actions, interfaces.AuditQuorumReached), got)
}
