package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

func (s *Store) AppendAudit(ctx context.Context, r interfaces.AuditRecord) (interfaces.AuditRecord, error) {
	err := s.db.QueryRowContext(ctx, `INSERT INTO audit_log (account_id, sealed_item_id, session_id, actor_id, action, result, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		r.AccountID, r.SealedItemID, r.SessionID, r.ActorID, string(r.Action), r.Result, r.Timestamp).Scan(&r.ID)
	if err != nil {
		return interfaces.AuditRecord{}, mapError(err, "audit record")
	}
	return r, nil
}

func (s *Store) ListAuditByItem(ctx context.Context, accountID, itemID uuid.UUID) ([]interfaces.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, sealed_item_id, session_id, actor_id, action, result, ts
		FROM audit_log WHERE account_id = $1 AND sealed_item_id = $2 ORDER BY ts, id`, accountID, itemID)
	if err != nil {
		return nil, mapError(err, "audit log")
	}
	defer rows.Close()

	var out []interfaces.AuditRecord
	for rows.Next() {
		var r interfaces.AuditRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.SealedItemID, &r.SessionID, &r.ActorID, &r.Action, &r.Result, &r.Timestamp); err != nil {
			return nil, mapError(err, "audit log")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
