package vault

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

// openSession loads a session and expires it if its deadline has passed.
// The caller must hold the session lock.
func (s *Service) openSession(ctx context.Context, sessionID uuid.UUID) (interfaces.UnlockSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return interfaces.UnlockSession{}, err
	}
	if session.Outcome == interfaces.OutcomePending && !s.clock.Now().Before(session.ExpiresAt) {
		if err := s.expire(ctx, &session); err != nil {
			return interfaces.UnlockSession{}, err
		}
	}
	return session, nil
}

// expire closes a pending session as expired. session is updated in place.
// The caller must hold the session lock.
func (s *Service) expire(ctx context.Context, session *interfaces.UnlockSession) error {
	now := s.now()
	won, err := s.store.CloseSession(ctx, session.ID, interfaces.OutcomeExpired, now)
	if err != nil {
		return err
	}
	s.stopTimer(session.ID)

	if !won {
		// Closed elsewhere in the meantime, reload the actual outcome.
		current, err := s.store.GetSession(ctx, session.ID)
		if err != nil {
			return err
		}
		*session = current
		return nil
	}

	s.record(ctx, interfaces.AuditRecord{
		AccountID:    session.AccountID,
		SealedItemID: session.SealedItemID,
		SessionID:    session.ID,
		ActorID:      session.BeneficiaryID,
		Action:       interfaces.AuditSessionExpired,
		Result:       string(interfaces.OutcomeExpired),
		Timestamp:    now,
	})
	s.revertItem(ctx, session.SealedItemID)
	s.metrics.UnlockSession(string(interfaces.OutcomeExpired))

	s.log.Info("unlock session expired", slog.String("session", session.ID.String()))

	session.Outcome = interfaces.OutcomeExpired
	session.ClosedAt = &now
	return nil
}

func (s *Service) revertItem(ctx context.Context, itemID uuid.UUID) {
	if err := s.store.RevertItemStatus(ctx, itemID); err != nil {
		s.log.Error("failed to revert item status", slog.String("item", itemID.String()), "err", err)
	}
}

// armTimer schedules the expiry of a pending session.
func (s *Service) armTimer(sessionID uuid.UUID, expiresAt time.Time) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[sessionID]; ok {
		old.Stop()
	}

	d := expiresAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timers[sessionID] = s.clock.AfterFunc(d, func() { s.onTimer(sessionID) })
}

func (s *Service) stopTimer(sessionID uuid.UUID) {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

func (s *Service) onTimer(sessionID uuid.UUID) {
	s.bgMu.Lock()
	if s.closed {
		s.bgMu.Unlock()
		return
	}
	delete(s.timers, sessionID)
	s.bg.Add(1)
	s.bgMu.Unlock()
	defer s.bg.Done()

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	if _, err := s.openSession(context.Background(), sessionID); err != nil {
		s.log.Error("failed to expire session", slog.String("session", sessionID.String()), "err", err)
	}
}

// ExpireStale expires every pending session whose deadline passed while no
// process was watching it and arms timers for the rest. It returns the number
// of sessions expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingSessions(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range pending {
		if s.clock.Now().Before(p.ExpiresAt) {
			s.armTimer(p.ID, p.ExpiresAt)
			continue
		}

		unlock := s.sessions.Lock(p.ID)
		session, err := s.openSession(ctx, p.ID)
		unlock()
		if err != nil {
			return expired, err
		}
		if session.Outcome == interfaces.OutcomeExpired {
			expired++
		}
	}

	if expired > 0 {
		s.log.Info("expired stale unlock sessions", slog.Int("count", expired))
	}
	return expired, nil
}
