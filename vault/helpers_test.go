package vault

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/kms"
	"github.com/ruteri/soulbox-vault/store/memstore"
	"github.com/ruteri/soulbox-vault/token"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memBlobs is an in-memory StorageBackend that counts fetches.
type memBlobs struct {
	mu      sync.Mutex
	data    map[interfaces.ContentID][]byte
	fetches atomic.Int32
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[interfaces.ContentID][]byte)}
}

func (b *memBlobs) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	b.fetches.Inc()
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[id]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return bytes.Clone(data), nil
}

func (b *memBlobs) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[id] = bytes.Clone(data)
	return id, nil
}

func (b *memBlobs) Available(ctx context.Context) bool { return true }
func (b *memBlobs) Name() string                       { return "mem" }
func (b *memBlobs) LocationURI() string                { return "mem://" }

// recordingNotifier keeps every notification it was asked to send.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []interfaces.ReleaseNotice
	tokens  []interfaces.TokenDelivery
}

func (n *recordingNotifier) NotifyGuardian(ctx context.Context, notice interfaces.ReleaseNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) SendBeneficiaryToken(ctx context.Context, delivery interfaces.TokenDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, delivery)
	return nil
}

func (n *recordingNotifier) noticeFor(guardianID uuid.UUID) (interfaces.ReleaseNotice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.notices {
		if notice.Guardian.ID == guardianID {
			return notice, true
		}
	}
	return interfaces.ReleaseNotice{}, false
}

func (n *recordingNotifier) lastToken() interfaces.TokenDelivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[len(n.tokens)-1]
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyGuardian(ctx context.Context, notice interfaces.ReleaseNotice) error {
	args := m.Called(ctx, notice)
	return args.Error(0)
}

func (m *MockNotifier) SendBeneficiaryToken(ctx context.Context, delivery interfaces.TokenDelivery) error {
	args := m.Called(ctx, delivery)
	return args.Error(0)
}

type testEnv struct {
	t        *testing.T
	svc      *Service
	store    *memstore.Store
	blobs    *memBlobs
	notifier *recordingNotifier
	clock    *clock.Mock
	jwt      *token.JWT
	account  uuid.UUID
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SessionTimeout = time.Hour
	cfg.MaxFailures = 3
	cfg.FailureWindow = 15 * time.Minute
	cfg.SecretParams = cryptoutils.SecretParams{Time: 1, MemoryKiB: 1024, Threads: 1}
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, memstore.New(), clockAt(epoch), &recordingNotifier{})
}

func clockAt(at time.Time) *clock.Mock {
	clk := clock.NewMock()
	clk.Set(at)
	return clk
}

func newTestEnvWith(t *testing.T, store *memstore.Store, clk *clock.Mock, notifier interfaces.Notifier) *testEnv {
	t.Helper()
	return newTestEnvConfig(t, testConfig(), store, clk, notifier)
}

func newTestEnvConfig(t *testing.T, cfg Config, store *memstore.Store, clk *clock.Mock, notifier interfaces.Notifier) *testEnv {
	t.Helper()

	sealer, err := kms.NewLocalSealer(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	jwt, err := token.NewJWT("test-secret-0123456789")
	require.NoError(t, err)
	jwt.WithClock(clk.Now)

	blobs := newMemBlobs()
	svc, err := New(cfg, store, blobs, sealer, notifier, jwt, discardLogger())
	require.NoError(t, err)
	svc.WithClock(clk)
	t.Cleanup(svc.Close)

	env := &testEnv{
		t:       t,
		svc:     svc,
		store:   store,
		blobs:   blobs,
		clock:   clk,
		jwt:     jwt,
		account: uuid.New(),
	}
	if rn, ok := notifier.(*recordingNotifier); ok {
		env.notifier = rn
	}
	return env
}

func (e *testEnv) addGuardians(names ...string) []interfaces.Guardian {
	e.t.Helper()
	out := make([]interfaces.Guardian, len(names))
	for i, name := range names {
		g, err := e.svc.AddGuardian(context.Background(), e.account, GuardianInput{
			Name:  name,
			Email: name + "@example.com",
		})
		require.NoError(e.t, err)
		out[i] = g
	}
	return out
}

const (
	testFirstName = "Jane"
	testLastName  = "Doe"
	testIDNumber  = "AB123456"
)

func (e *testEnv) addBeneficiary() (interfaces.Beneficiary, string) {
	e.t.Helper()
	b, tok, err := e.svc.AddBeneficiary(context.Background(), e.account, BeneficiaryInput{
		FirstName: testFirstName,
		LastName:  testLastName,
		Email:     "jane@example.com",
		Phone:     "+15550100",
		IDNumber:  testIDNumber,
	})
	require.NoError(e.t, err)
	return b, tok
}

func ids(guardians []interfaces.Guardian) []uuid.UUID {
	out := make([]uuid.UUID, len(guardians))
	for i, g := range guardians {
		out[i] = g.ID
	}
	return out
}

func (e *testEnv) seal(k int, guardians []interfaces.Guardian, payload string) interfaces.SealedItem {
	e.t.Helper()
	item, err := e.svc.CreateSealedItem(context.Background(), e.account, SealInput{
		Title:          "Letter to Jane",
		Type:           interfaces.ItemTypeMessage,
		Payload:        []byte(payload),
		ShardsRequired: k,
		GuardianIDs:    ids(guardians),
	})
	require.NoError(e.t, err)
	return item
}

func (e *testEnv) verify(b interfaces.Beneficiary, secretToken string, item interfaces.SealedItem) VerifyResult {
	e.t.Helper()
	res, err := e.svc.VerifyIdentity(context.Background(), VerifyInput{
		BeneficiaryID: b.ID,
		SealedItemID:  item.ID,
		FullName:      testFirstName + " " + testLastName,
		IDNumber:      testIDNumber,
		SecretToken:   secretToken,
	})
	require.NoError(e.t, err)
	return res
}

// openSession seals a k-of-n item and opens a verified session for it.
func (e *testEnv) openSession(k int, names ...string) ([]interfaces.Guardian, interfaces.SealedItem, VerifyResult) {
	e.t.Helper()
	guardians := e.addGuardians(names...)
	item := e.seal(k, guardians, "the combination is 12-34-56")
	b, tok := e.addBeneficiary()
	return guardians, item, e.verify(b, tok, item)
}

func (e *testEnv) request(sessionID uuid.UUID, guardians ...interfaces.Guardian) {
	e.t.Helper()
	for _, g := range guardians {
		_, err := e.svc.RequestShardRelease(context.Background(), sessionID, g.ID)
		require.NoError(e.t, err)
	}
}

func (e *testEnv) approve(sessionID uuid.UUID, g interfaces.Guardian) (ReleaseResult, error) {
	return e.svc.ReleaseShare(context.Background(), ReleaseInput{SessionID: sessionID, GuardianID: g.ID, Approve: true})
}

// trail renders an item's audit log as action/result pairs.
func (e *testEnv) trail(itemID uuid.UUID) []string {
	e.t.Helper()
	records, err := e.svc.QueryBySealedItem(context.Background(), e.account, itemID)
	require.NoError(e.t, err)
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r.Action) + "/" + r.Result
	}
	return out
}

func (e *testEnv) session(id uuid.UUID) interfaces.UnlockSession {
	e.t.Helper()
	s, err := e.store.GetSession(context.Background(), id)
	require.NoError(e.t, err)
	return s
}

func (e *testEnv) itemStatus(id uuid.UUID) interfaces.ItemStatus {
	e.t.Helper()
	item, err := e.store.GetSealedItem(context.Background(), id)
	require.NoError(e.t, err)
	return item.Status
}
