package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

const itemColumns = `id, account_id, title, description, item_type, payload_ref, payload_size, status, shards_required, created_at`

const shardColumns = `sealed_item_id, guardian_id, share_index, encrypted_share, share_digest, custody, released_at, revoked, revoked_at`

func scanItem(row rowScanner) (interfaces.SealedItem, error) {
	var (
		item       interfaces.SealedItem
		payloadRef []byte
	)
	err := row.Scan(&item.ID, &item.AccountID, &item.Title, &item.Description, &item.Type, &payloadRef,
		&item.PayloadSize, &item.Status, &item.ShardsRequired, &item.CreatedAt)
	if err != nil {
		return item, err
	}
	item.PayloadRef, err = interfaces.NewContentIDFromBytes(payloadRef)
	return item, err
}

func scanShard(row rowScanner) (interfaces.ShardRecord, error) {
	var (
		shard      interfaces.ShardRecord
		releasedAt sql.NullTime
		revokedAt  sql.NullTime
	)
	err := row.Scan(&shard.SealedItemID, &shard.GuardianID, &shard.ShareIndex, &shard.EncryptedShare,
		&shard.ShareDigest, &shard.Custody, &releasedAt, &shard.Revoked, &revokedAt)
	shard.ReleasedAt = timePtr(releasedAt)
	shard.RevokedAt = timePtr(revokedAt)
	return shard, err
}

func (s *Store) CreateSealedItem(ctx context.Context, item interfaces.SealedItem, shards []interfaces.ShardRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sealed_items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, item.AccountID, item.Title, item.Description, string(item.Type), item.PayloadRef.Bytes(),
			item.PayloadSize, string(item.Status), item.ShardsRequired, item.CreatedAt)
		if err != nil {
			return mapError(err, "sealed item")
		}

		for _, shard := range shards {
			if shard.SealedItemID != item.ID {
				return fmt.Errorf("%w: shard belongs to item %s", interfaces.ErrValidation, shard.SealedItemID)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO shard_records (sealed_item_id, guardian_id, share_index, encrypted_share, share_digest, custody) VALUES ($1, $2, $3, $4, $5, $6)`,
				shard.SealedItemID, shard.GuardianID, shard.ShareIndex, shard.EncryptedShare, shard.ShareDigest, string(shard.Custody))
			if err != nil {
				return mapError(err, "shard record")
			}
		}
		return nil
	})
}

func (s *Store) GetSealedItem(ctx context.Context, id uuid.UUID) (interfaces.SealedItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM sealed_items WHERE id = $1`, id))
	if err != nil {
		return interfaces.SealedItem{}, mapError(err, "sealed item "+id.String())
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT guardian_id FROM shard_records WHERE sealed_item_id = $1 ORDER BY share_index`, id)
	if err != nil {
		return interfaces.SealedItem{}, mapError(err, "shard records")
	}
	defer rows.Close()

	for rows.Next() {
		var guardianID uuid.UUID
		if err := rows.Scan(&guardianID); err != nil {
			return interfaces.SealedItem{}, mapError(err, "shard records")
		}
		item.GuardianIDs = append(item.GuardianIDs, guardianID)
	}
	return item, rows.Err()
}

func (s *Store) ListSealedItems(ctx context.Context, accountID uuid.UUID) ([]interfaces.SealedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM sealed_items WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, mapError(err, "sealed items")
	}
	defer rows.Close()

	var (
		out   []interfaces.SealedItem
		index = map[uuid.UUID]int{}
	)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, mapError(err, "sealed items")
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	guardianRows, err := s.db.QueryContext(ctx,
		`SELECT s.sealed_item_id, s.guardian_id FROM shard_records s JOIN sealed_items i ON i.id = s.sealed_item_id WHERE i.account_id = $1 ORDER BY s.sealed_item_id, s.share_index`,
		accountID)
	if err != nil {
		return nil, mapError(err, "shard records")
	}
	defer guardianRows.Close()

	for guardianRows.Next() {
		var itemID, guardianID uuid.UUID
		if err := guardianRows.Scan(&itemID, &guardianID); err != nil {
			return nil, mapError(err, "shard records")
		}
		if i, ok := index[itemID]; ok {
			out[i].GuardianIDs = append(out[i].GuardianIDs, guardianID)
		}
	}
	return out, guardianRows.Err()
}

func (s *Store) TransitionItemStatus(ctx context.Context, id uuid.UUID, from, to interfaces.ItemStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sealed_items SET status = $3 WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return false, mapError(err, "sealed item")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	return false, s.itemExists(ctx, id)
}

func (s *Store) RevertItemStatus(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sealed_items SET status = 'sealed'
		WHERE id = $1 AND status = 'unsealing'
		AND NOT EXISTS (SELECT 1 FROM unlock_sessions WHERE sealed_item_id = $1 AND outcome = 'pending')`, id)
	if err != nil {
		return mapError(err, "sealed item")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.itemExists(ctx, id)
}

func (s *Store) itemExists(ctx context.Context, id uuid.UUID) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sealed_items WHERE id = $1`, id).Scan(&one)
	return mapError(err, "sealed item "+id.String())
}

func (s *Store) GetShard(ctx context.Context, itemID, guardianID uuid.UUID) (interfaces.ShardRecord, error) {
	shard, err := scanShard(s.db.QueryRowContext(ctx,
		`SELECT `+shardColumns+` FROM shard_records WHERE sealed_item_id = $1 AND guardian_id = $2`, itemID, guardianID))
	if err != nil {
		return interfaces.ShardRecord{}, mapError(err, "shard of guardian "+guardianID.String())
	}
	return shard, nil
}

func (s *Store) ListShards(ctx context.Context, itemID uuid.UUID) ([]interfaces.ShardRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shardColumns+` FROM shard_records WHERE sealed_item_id = $1 ORDER BY share_index`, itemID)
	if err != nil {
		return nil, mapError(err, "shard records")
	}
	defer rows.Close()

	var out []interfaces.ShardRecord
	for rows.Next() {
		shard, err := scanShard(rows)
		if err != nil {
			return nil, mapError(err, "shard records")
		}
		out = append(out, shard)
	}
	return out, rows.Err()
}
