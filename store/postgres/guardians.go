package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

const guardianColumns = `id, account_id, name, email, public_key, created_at, updated_at`

func scanGuardian(row rowScanner) (interfaces.Guardian, error) {
	var g interfaces.Guardian
	err := row.Scan(&g.ID, &g.AccountID, &g.Name, &g.Email, &g.PublicKey, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func (s *Store) CreateGuardian(ctx context.Context, g interfaces.Guardian) error {
	const query = `INSERT INTO guardians (` + guardianColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, query, g.ID, g.AccountID, g.Name, g.Email, g.PublicKey, g.CreatedAt, g.UpdatedAt)
	return mapError(err, "guardian")
}

func (s *Store) UpdateGuardian(ctx context.Context, g interfaces.Guardian) error {
	const query = `UPDATE guardians SET name = $3, email = $4, updated_at = $5 WHERE id = $1 AND account_id = $2`
	res, err := s.db.ExecContext(ctx, query, g.ID, g.AccountID, g.Name, g.Email, g.UpdatedAt)
	if err != nil {
		return mapError(err, "guardian")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: guardian %s", interfaces.ErrNotFound, g.ID)
	}
	return nil
}

func (s *Store) GetGuardian(ctx context.Context, id uuid.UUID) (interfaces.Guardian, error) {
	const query = `SELECT ` + guardianColumns + ` FROM guardians WHERE id = $1`
	g, err := scanGuardian(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return interfaces.Guardian{}, mapError(err, "guardian "+id.String())
	}
	return g, nil
}

func (s *Store) ListGuardians(ctx context.Context, accountID uuid.UUID) ([]interfaces.Guardian, error) {
	const query = `SELECT ` + guardianColumns + ` FROM guardians WHERE account_id = $1 ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, mapError(err, "guardians")
	}
	defer rows.Close()

	var out []interfaces.Guardian
	for rows.Next() {
		g, err := scanGuardian(rows)
		if err != nil {
			return nil, mapError(err, "guardians")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) DeleteGuardian(ctx context.Context, accountID, id uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	var revoked []uuid.UUID
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM guardians WHERE id = $1 AND account_id = $2`, id, accountID)
		if err != nil {
			return mapError(err, "guardian")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		rows, err := tx.QueryContext(ctx,
			`UPDATE shard_records SET revoked = true, revoked_at = $2 WHERE guardian_id = $1 AND NOT revoked RETURNING sealed_item_id`,
			id, at)
		if err != nil {
			return mapError(err, "shard records")
		}
		defer rows.Close()

		for rows.Next() {
			var itemID uuid.UUID
			if err := rows.Scan(&itemID); err != nil {
				return mapError(err, "shard records")
			}
			revoked = append(revoked, itemID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(revoked, func(i, j int) bool {
		return bytes.Compare(revoked[i][:], revoked[j][:]) < 0
	})
	return revoked, nil
}
