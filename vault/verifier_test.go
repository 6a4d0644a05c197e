package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/store/memstore"
	"github.com/ruteri/soulbox-vault/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestVerifyIdentity_OpensSession(t *testing.T) {
	env := newTestEnv(t)
	guardians := env.addGuardians("alice", "bob")
	item := env.seal(2, guardians, "secret")
	b, tok := env.addBeneficiary()

	res, err := env.svc.VerifyIdentity(context.Background(), VerifyInput{
		BeneficiaryID: b.ID,
		SealedItemID:  item.ID,
		FullName:      "  jane    DOE ",
		IDNumber:      " ab123456 ",
		SecretToken:   " " + tok + " ",
	})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, epoch.Add(time.Hour), res.ExpiresAt)

	claims, err := env.jwt.Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, token.RoleBeneficiary, claims.Role)
	assert.Equal(t, res.SessionID, claims.SessionID)
	assert.Equal(t, b.ID, claims.BeneficiaryID)

	session := env.session(res.SessionID)
	assert.Equal(t, interfaces.OutcomePending, session.Outcome)
	assert.True(t, session.IdentityVerified)
	assert.Equal(t, 0, session.ReleasedShardCount)
	assert.Equal(t, interfaces.ItemUnsealing, env.itemStatus(item.ID))

	assert.Equal(t, []string{"identity_check/verified"}, env.trail(item.ID))
}

func TestVerifyIdentity_GenericMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	guardians := env.addGuardians("alice")
	item := env.seal(1, guardians, "secret")
	b, tok := env.addBeneficiary()

	otherAccountItem := func() interfaces.SealedItem {
		other := newTestEnvWith(t, env.store, env.clock, &recordingNotifier{})
		return other.seal(1, other.addGuardians("zed"), "other")
	}()

	good := VerifyInput{
		BeneficiaryID: b.ID,
		SealedItemID:  item.ID,
		FullName:      "Jane Doe",
		IDNumber:      testIDNumber,
		SecretToken:   tok,
	}

	tests := []struct {
		name   string
		mutate func(*VerifyInput)
	}{
		{name: "wrong token", mutate: func(in *VerifyInput) { in.SecretToken = "SB-AAAA-AAAA" }},
		{name: "wrong name", mutate: func(in *VerifyInput) { in.FullName = "John Doe" }},
		{name: "wrong id number", mutate: func(in *VerifyInput) { in.IDNumber = "ZZ999" }},
		{name: "unknown beneficiary", mutate: func(in *VerifyInput) { in.BeneficiaryID = uuid.New() }},
		{name: "unknown item", mutate: func(in *VerifyInput) { in.SealedItemID = uuid.New() }},
		{name: "item of another account", mutate: func(in *VerifyInput) { in.SealedItemID = otherAccountItem.ID }},
	}

	var messages []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := good
			tt.mutate(&in)
			_, err := env.svc.VerifyIdentity(ctx, in)
			require.ErrorIs(t, err, interfaces.ErrIdentityMismatch)
			messages = append(messages, err.Error())
		})
		// Failures are spread out so the rate limiter does not kick in.
		env.clock.Add(10 * time.Minute)
	}

	for _, msg := range messages {
		assert.Equal(t, interfaces.ErrIdentityMismatch.Error(), msg)
	}
}

func TestVerifyIdentity_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.seal(1, env.addGuardians("alice"), "secret")
	b, tok := env.addBeneficiary()

	wrong := VerifyInput{BeneficiaryID: b.ID, SealedItemID: item.ID, FullName: "Jane Doe", IDNumber: testIDNumber, SecretToken: "SB-WRNG-WRNG"}
	for i := 0; i < 3; i++ {
		_, err := env.svc.VerifyIdentity(ctx, wrong)
		require.ErrorIs(t, err, interfaces.ErrIdentityMismatch)
	}

	right := wrong
	right.SecretToken = tok
	_, err := env.svc.VerifyIdentity(ctx, right)
	require.ErrorIs(t, err, interfaces.ErrRateLimited)

	env.clock.Add(15 * time.Minute)
	_, err = env.svc.VerifyIdentity(ctx, right)
	require.NoError(t, err)

	want := []string{
		"identity_check/mismatch",
		"identity_check/mismatch",
		"identity_check/mismatch",
		"identity_check/rate_limited",
		"identity_check/verified",
	}
	if diff := cmp.Diff(want, env.trail(item.ID)); diff != "" {
		t.Errorf("audit trail mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyIdentity_InvalidDeliveryKey(t *testing.T) {
	env := newTestEnv(t)
	item := env.seal(1, env.addGuardians("alice"), "secret")
	b, tok := env.addBeneficiary()

	_, err := env.svc.VerifyIdentity(context.Background(), VerifyInput{
		BeneficiaryID:     b.ID,
		SealedItemID:      item.ID,
		FullName:          "Jane Doe",
		IDNumber:          testIDNumber,
		SecretToken:       tok,
		DeliveryPublicKey: []byte("not a key"),
	})
	require.ErrorIs(t, err, interfaces.ErrValidation)
	assert.Equal(t, interfaces.ItemSealed, env.itemStatus(item.ID))
}

func TestVerifyIdentity_ConcurrentGuessesLimited(t *testing.T) {
	cfg := testConfig()
	cfg.SecretParams = cryptoutils.DefaultSecretParams
	env := newTestEnvConfig(t, cfg, memstore.New(), clockAt(epoch), &recordingNotifier{})
	item := env.seal(1, env.addGuardians("alice"), "secret")
	b, _ := env.addBeneficiary()

	const attempts = 20
	var (
		wg         sync.WaitGroup
		mismatches atomic.Int32
		limited    atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.VerifyIdentity(context.Background(), VerifyInput{
				BeneficiaryID: b.ID,
				SealedItemID:  item.ID,
				FullName:      "Jane Doe",
				IDNumber:      testIDNumber,
				SecretToken:   "SB-WRNG-WRNG",
			})
			switch {
			case errors.Is(err, interfaces.ErrIdentityMismatch):
				mismatches.Inc()
			case errors.Is(err, interfaces.ErrRateLimited):
				limited.Inc()
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(cfg.MaxFailures), mismatches.Load())
	assert.Equal(t, int32(attempts-cfg.MaxFailures), limited.Load())
}

func TestVerifyIdentity_UnknownBeneficiaryRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.seal(1, env.addGuardians("alice"), "secret")

	in := VerifyInput{BeneficiaryID: uuid.New(), SealedItemID: item.ID, FullName: "Jane Doe", IDNumber: testIDNumber, SecretToken: "SB-WRNG-WRNG"}
	for i := 0; i < 3; i++ {
		_, err := env.svc.VerifyIdentity(ctx, in)
		require.ErrorIs(t, err, interfaces.ErrIdentityMismatch)
	}
	_, err := env.svc.VerifyIdentity(ctx, in)
	require.ErrorIs(t, err, interfaces.ErrRateLimited)
}

func TestFailureLimiter(t *testing.T) {
	l := newFailureLimiter(2, time.Minute)
	id := uuid.New()

	_, ok := l.Reserve(id, epoch)
	require.True(t, ok)
	_, ok = l.Reserve(id, epoch)
	require.True(t, ok)
	_, ok = l.Reserve(id, epoch)
	assert.False(t, ok)

	_, ok = l.Reserve(uuid.New(), epoch)
	assert.True(t, ok)

	r, ok := l.Reserve(id, epoch.Add(30*time.Second))
	require.True(t, ok)
	r.CancelAt(epoch.Add(30 * time.Second))
	_, ok = l.Reserve(id, epoch.Add(30*time.Second))
	assert.True(t, ok, "a cancelled reservation gives its token back")
	_, ok = l.Reserve(id, epoch.Add(30*time.Second))
	assert.False(t, ok)
}

func TestFailureLimiter_PrunesRefilledBuckets(t *testing.T) {
	l := newFailureLimiter(2, time.Minute)
	l.pruneAt = 3

	busy := uuid.New()
	l.Reserve(busy, epoch)
	l.Reserve(busy, epoch)
	for i := 0; i < 2; i++ {
		l.Reserve(uuid.New(), epoch.Add(-time.Hour))
	}
	require.Len(t, l.buckets, 3)

	l.Reserve(uuid.New(), epoch)
	assert.Len(t, l.buckets, 2)
	assert.Contains(t, l.buckets, busy)
}
