package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/cryptoutils"
	"github.com/ruteri/soulbox-vault/interfaces"
	"github.com/ruteri/soulbox-vault/metrics"
)

// Config contains the unlock policy of a Service.
type Config struct {
	SessionTimeout time.Duration
	MaxFailures    int
	FailureWindow  time.Duration
	SecretParams   cryptoutils.SecretParams
}

// DefaultConfig returns a 72 hour session timeout and 5 verification
// failures per 15 minutes.
func DefaultConfig() Config {
	return Config{
		SessionTimeout: 72 * time.Hour,
		MaxFailures:    5,
		FailureWindow:  15 * time.Minute,
		SecretParams:   cryptoutils.DefaultSecretParams,
	}
}

// Service is the vault: guardian and beneficiary registries, sealed items,
// identity verification and the unlock coordinator.
type Service struct {
	cfg      Config
	store    interfaces.VaultStore
	blobs    interfaces.StorageBackend
	sealer   interfaces.ShareSealer
	notifier interfaces.Notifier
	tokens   interfaces.TokenIssuer
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger

	limiter  *failureLimiter
	sessions *keyedMutex

	// dummyDigest keeps verification timing uniform for unknown beneficiaries.
	dummyDigest []byte

	bgMu   sync.Mutex
	bg     sync.WaitGroup
	closed bool
	timers map[uuid.UUID]*clock.Timer
}

// New creates a Service. Call Close to stop session timers and wait for
// in-flight notifications.
func New(cfg Config, store interfaces.VaultStore, blobs interfaces.StorageBackend, sealer interfaces.ShareSealer, notifier interfaces.Notifier, tokens interfaces.TokenIssuer, log *slog.Logger) (*Service, error) {
	if cfg.SessionTimeout <= 0 {
		return nil, fmt.Errorf("%w: session timeout must be positive", interfaces.ErrValidation)
	}
	if cfg.MaxFailures < 1 || cfg.FailureWindow <= 0 {
		return nil, fmt.Errorf("%w: failure limit must be positive", interfaces.ErrValidation)
	}

	dummy, err := cryptoutils.HashSecret("", cfg.SecretParams)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:         cfg,
		store:       store,
		blobs:       blobs,
		sealer:      sealer,
		notifier:    notifier,
		tokens:      tokens,
		clock:       clock.New(),
		log:         log,
		limiter:     newFailureLimiter(cfg.MaxFailures, cfg.FailureWindow),
		sessions:    newKeyedMutex(),
		dummyDigest: dummy,
		timers:      make(map[uuid.UUID]*clock.Timer),
	}, nil
}

// WithClock replaces the wall clock. It must be called before any session is opened.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// WithMetrics makes the service count its operations in m.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Close stops all session timers and waits for background work to finish.
// Sessions left pending are expired by ExpireStale on the next start.
func (s *Service) Close() {
	s.bgMu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.bgMu.Unlock()

	s.bg.Wait()
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// goBackground runs fn unless the service is closing.
func (s *Service) goBackground(fn func()) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return false
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
	return true
}

// record appends an audit entry. The transition it describes has already
// happened, so a failing append is logged rather than returned.
func (s *Service) record(ctx context.Context, rec interfaces.AuditRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if _, err := s.store.AppendAudit(ctx, rec); err != nil {
		s.log.Error("failed to append audit record",
			slog.String("action", string(rec.Action)),
			slog.String("result", rec.Result),
			slog.String("item", rec.SealedItemID.String()),
			"err", err)
	}
}

// Record appends rec to the audit log.
func (s *Service) Record(ctx context.Context, rec interfaces.AuditRecord) (interfaces.AuditRecord, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	return s.store.AppendAudit(ctx, rec)
}

// QueryBySealedItem returns an item's audit trail in chronological order.
func (s *Service) QueryBySealedItem(ctx context.Context, accountID, itemID uuid.UUID) ([]interfaces.AuditRecord, error) {
	if _, err := s.GetSealedItem(ctx, accountID, itemID); err != nil {
		return nil, err
	}
	return s.store.ListAuditByItem(ctx, accountID, itemID)
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}
