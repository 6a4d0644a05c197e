package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

const sessionColumns = `id, account_id, sealed_item_id, beneficiary_id, started_at, expires_at, identity_verified,
	released_shard_count, outcome, closed_at, delivery_public_key, delivery_envelope, delivered`

const releaseColumns = `session_id, guardian_id, requested_at, decision, decided_at, sealed_share`

func scanSession(row rowScanner) (interfaces.UnlockSession, error) {
	var (
		session  interfaces.UnlockSession
		closedAt sql.NullTime
	)
	err := row.Scan(&session.ID, &session.AccountID, &session.SealedItemID, &session.BeneficiaryID,
		&session.StartedAt, &session.ExpiresAt, &session.IdentityVerified, &session.ReleasedShardCount,
		&session.Outcome, &closedAt, &session.DeliveryPublicKey, &session.DeliveryEnvelope, &session.Delivered)
	session.ClosedAt = timePtr(closedAt)
	return session, err
}

func scanRelease(row rowScanner) (interfaces.ReleaseRequest, error) {
	var (
		r         interfaces.ReleaseRequest
		decidedAt sql.NullTime
	)
	err := row.Scan(&r.SessionID, &r.GuardianID, &r.RequestedAt, &r.Decision, &decidedAt, &r.SealedShare)
	r.DecidedAt = timePtr(decidedAt)
	return r, err
}

func (s *Store) CreateSession(ctx context.Context, session interfaces.UnlockSession) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO unlock_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		session.ID, session.AccountID, session.SealedItemID, session.BeneficiaryID, session.StartedAt,
		session.ExpiresAt, session.IdentityVerified, session.ReleasedShardCount, string(session.Outcome),
		nullTime(session.ClosedAt), session.DeliveryPublicKey, session.DeliveryEnvelope, session.Delivered)
	return mapError(err, "unlock session")
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (interfaces.UnlockSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM unlock_sessions WHERE id = $1`, id))
	if err != nil {
		return interfaces.UnlockSession{}, mapError(err, "session "+id.String())
	}
	return session, nil
}

func (s *Store) CloseSession(ctx context.Context, id uuid.UUID, outcome interfaces.Outcome, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE unlock_sessions SET outcome = $2, closed_at = $3 WHERE id = $1 AND outcome = 'pending'`,
		id, string(outcome), at)
	if err != nil {
		return false, mapError(err, "unlock session")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM unlock_sessions WHERE id = $1`, id).Scan(&one)
	return false, mapError(err, "session "+id.String())
}

func (s *Store) ClaimSession(ctx context.Context, id uuid.UUID, at time.Time, lease time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE unlock_sessions SET completing_at = $2
		WHERE id = $1 AND outcome = 'pending' AND (completing_at IS NULL OR completing_at < $3)`,
		id, at, at.Add(-lease))
	if err != nil {
		return false, mapError(err, "unlock session")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM unlock_sessions WHERE id = $1`, id).Scan(&one)
	return false, mapError(err, "session "+id.String())
}

func (s *Store) ListPendingSessions(ctx context.Context) ([]interfaces.UnlockSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM unlock_sessions WHERE outcome = 'pending' ORDER BY started_at`)
	if err != nil {
		return nil, mapError(err, "unlock sessions")
	}
	defer rows.Close()

	var out []interfaces.UnlockSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, mapError(err, "unlock sessions")
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) SetDeliveryEnvelope(ctx context.Context, id uuid.UUID, envelope []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE unlock_sessions SET delivery_envelope = $2 WHERE id = $1`, id, envelope)
	if err != nil {
		return mapError(err, "unlock session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", interfaces.ErrNotFound, id)
	}
	return nil
}

func (s *Store) TakeDeliveryEnvelope(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var envelope []byte
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var delivered bool
		err := tx.QueryRowContext(ctx,
			`SELECT delivered, delivery_envelope FROM unlock_sessions WHERE id = $1 FOR UPDATE`, id).
			Scan(&delivered, &envelope)
		if err != nil {
			return mapError(err, "session "+id.String())
		}
		if delivered {
			return fmt.Errorf("%w: payload already collected", interfaces.ErrSessionExpired)
		}
		if len(envelope) == 0 {
			return fmt.Errorf("%w: no payload awaiting collection", interfaces.ErrNotFound)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE unlock_sessions SET delivery_envelope = NULL, delivered = true WHERE id = $1`, id)
		return mapError(err, "unlock session")
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (s *Store) CreateReleaseRequest(ctx context.Context, r interfaces.ReleaseRequest) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO release_requests (session_id, guardian_id, requested_at, decision)
		VALUES ($1, $2, $3, $4) ON CONFLICT (session_id, guardian_id) DO NOTHING`,
		r.SessionID, r.GuardianID, r.RequestedAt, string(interfaces.DecisionPending))
	if err != nil {
		return false, mapError(err, "release request")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) GetReleaseRequest(ctx context.Context, sessionID, guardianID uuid.UUID) (interfaces.ReleaseRequest, error) {
	r, err := scanRelease(s.db.QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM release_requests WHERE session_id = $1 AND guardian_id = $2`, sessionID, guardianID))
	if err != nil {
		return interfaces.ReleaseRequest{}, mapError(err, "release request of guardian "+guardianID.String())
	}
	return r, nil
}

func (s *Store) DecideReleaseRequest(ctx context.Context, sessionID, guardianID uuid.UUID, decision interfaces.Decision, sealedShare []byte, at time.Time) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			outcome interfaces.Outcome
			itemID  uuid.UUID
		)
		err := tx.QueryRowContext(ctx,
			`SELECT outcome, released_shard_count, sealed_item_id FROM unlock_sessions WHERE id = $1 FOR UPDATE`, sessionID).
			Scan(&outcome, &count, &itemID)
		if err != nil {
			return mapError(err, "session "+sessionID.String())
		}

		var current interfaces.Decision
		err = tx.QueryRowContext(ctx,
			`SELECT decision FROM release_requests WHERE session_id = $1 AND guardian_id = $2 FOR UPDATE`, sessionID, guardianID).
			Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no release request for guardian %s", interfaces.ErrNotFound, guardianID)
		}
		if err != nil {
			return mapError(err, "release request")
		}

		if outcome != interfaces.OutcomePending {
			return fmt.Errorf("%w: session is %s", interfaces.ErrSessionExpired, outcome)
		}
		if current != interfaces.DecisionPending {
			return fmt.Errorf("%w: release already %s", interfaces.ErrValidation, current)
		}

		if decision != interfaces.DecisionApproved {
			sealedShare = nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE release_requests SET decision = $3, decided_at = $4, sealed_share = $5 WHERE session_id = $1 AND guardian_id = $2`,
			sessionID, guardianID, string(decision), at, sealedShare)
		if err != nil {
			return mapError(err, "release request")
		}
		if decision != interfaces.DecisionApproved {
			return nil
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE unlock_sessions SET released_shard_count = released_shard_count + 1 WHERE id = $1 RETURNING released_shard_count`,
			sessionID).Scan(&count)
		if err != nil {
			return mapError(err, "unlock session")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE shard_records SET released_at = $3 WHERE sealed_item_id = $1 AND guardian_id = $2 AND released_at IS NULL`,
			itemID, guardianID, at)
		return mapError(err, "shard record")
	})
	return count, err
}

func (s *Store) ListApprovedReleases(ctx context.Context, sessionID uuid.UUID) ([]interfaces.ReleaseRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+releaseColumns+` FROM release_requests WHERE session_id = $1 AND decision = 'approved' ORDER BY decided_at, guardian_id`,
		sessionID)
	if err != nil {
		return nil, mapError(err, "release requests")
	}
	defer rows.Close()

	var out []interfaces.ReleaseRequest
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, mapError(err, "release requests")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
