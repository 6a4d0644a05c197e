package vault

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddGuardian_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, pub, err := cryptoutils.GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   GuardianInput
		wantErr error
	}{
		{name: "valid", input: GuardianInput{Name: "Alice", Email: "alice@example.com"}},
		{name: "valid with key", input: GuardianInput{Name: "Alice", Email: "alice@example.com", PublicKey: pub}},
		{name: "display name email", input: GuardianInput{Name: "Alice", Email: "Alice <alice@example.com>"}},
		{name: "empty name", input: GuardianInput{Name: "  ", Email: "alice@example.com"}, wantErr: interfaces.ErrValidation},
		{name: "bad email", input: GuardianInput{Name: "Alice", Email: "not-an-email"}, wantErr: interfaces.ErrValidation},
		{name: "bad key", input: GuardianInput{Name: "Alice", Email: "alice@example.com", PublicKey: []byte("garbage")}, wantErr: interfaces.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := env.svc.AddGuardian(context.Background(), env.account, tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", g.Email)
			assert.Equal(t, env.account, g.AccountID)
		})
	}
}

func TestUpdateGuardian(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g := env.addGuardians("alice")[0]

	updated, err := env.svc.UpdateGuardian(ctx, env.account, g.ID, "Alice Smith", "asmith@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", updated.Name)

	got, err := env.svc.GetGuardian(ctx, env.account, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "asmith@example.com", got.Email)

	_, err = env.svc.UpdateGuardian(ctx, uuid.New(), g.ID, "Mallory", "m@example.com")
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = env.svc.UpdateGuardian(ctx, env.account, uuid.New(), "Nobody", "n@example.com")
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = env.svc.UpdateGuardian(ctx, env.account, g.ID, "", "a@example.com")
	require.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestListGuardians_CreationOrder(t *testing.T) {
	env := newTestEnv(t)
	created := env.addGuardians("alice", "bob", "carol")

	got, err := env.svc.ListGuardians(context.Background(), env.account)
	require.NoError(t, err)
	assert.Equal(t, ids(created), ids(got))

	other, err := env.svc.ListGuardians(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAddBeneficiary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b, tok, err := env.svc.AddBeneficiary(ctx, env.account, BeneficiaryInput{
		FirstName: " Jane ",
		LastName:  "Doe",
		Email:     "jane@example.com",
		IDNumber:  "AB123456",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^SB-[A-Z2-9]{4}-[A-Z2-9]{4}$`, tok)
	assert.Equal(t, "Jane", b.FirstName)
	assert.NotContains(t, string(b.SecretTokenHash), tok)

	ok, err := cryptoutils.VerifySecret(tok, b.SecretTokenHash)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cryptoutils.VerifySecret("ab123456", b.IDNumberHash)
	require.NoError(t, err)
	assert.True(t, ok)

	for name, in := range map[string]BeneficiaryInput{
		"no first name": {LastName: "Doe", Email: "jane@example.com", IDNumber: "1"},
		"no last name":  {FirstName: "Jane", Email: "jane@example.com", IDNumber: "1"},
		"bad email":     {FirstName: "Jane", LastName: "Doe", Email: "jane", IDNumber: "1"},
		"no id number":  {FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", IDNumber: "  "},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := env.svc.AddBeneficiary(ctx, env.account, in)
			require.ErrorIs(t, err, interfaces.ErrValidation)
		})
	}
}

func TestDeleteBeneficiary_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b, _ := env.addBeneficiary()

	require.NoError(t, env.svc.DeleteBeneficiary(ctx, env.account, b.ID))
	require.NoError(t, env.svc.DeleteBeneficiary(ctx, env.account, b.ID))

	_, err := env.svc.GetBeneficiary(ctx, env.account, b.ID)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestSendToken_RotatesToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	guardians := env.addGuardians("alice")
	item := env.seal(1, guardians, "hello")
	b, oldToken := env.addBeneficiary()

	require.NoError(t, env.svc.SendToken(ctx, env.account, b.ID, interfaces.DeliverySMS))
	delivery := env.notifier.lastToken()
	assert.Equal(t, interfaces.DeliverySMS, delivery.Method)
	assert.Equal(t, b.ID, delivery.Beneficiary.ID)
	assert.NotEqual(t, oldToken, delivery.Token)

	_, err := env.svc.VerifyIdentity(ctx, VerifyInput{
		BeneficiaryID: b.ID, SealedItemID: item.ID,
		FullName: "Jane Doe", IDNumber: testIDNumber, SecretToken: oldToken,
	})
	require.ErrorIs(t, err, interfaces.ErrIdentityMismatch)

	env.verify(b, delivery.Token, item)
}

func TestSendToken_MissingContact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b, _, err := env.svc.AddBeneficiary(ctx, env.account, BeneficiaryInput{
		FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", IDNumber: "X1",
	})
	require.NoError(t, err)

	require.ErrorIs(t, env.svc.SendToken(ctx, env.account, b.ID, interfaces.DeliverySMS), interfaces.ErrValidation)
	require.ErrorIs(t, env.svc.SendToken(ctx, env.account, b.ID, "pigeon"), interfaces.ErrValidation)
	require.ErrorIs(t, env.svc.SendToken(ctx, uuid.New(), b.ID, interfaces.DeliveryEmail), interfaces.ErrNotFound)
}
