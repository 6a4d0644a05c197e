package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ruteri/soulbox-vault/interfaces"
)

const beneficiaryColumns = `id, account_id, first_name, last_name, email, phone, relationship, secret_question, id_number_hash, secret_token_hash, created_at`

func scanBeneficiary(row rowScanner) (interfaces.Beneficiary, error) {
	var b interfaces.Beneficiary
	err := row.Scan(&b.ID, &b.AccountID, &b.FirstName, &b.LastName, &b.Email, &b.Phone,
		&b.Relationship, &b.SecretQuestion, &b.IDNumberHash, &b.SecretTokenHash, &b.CreatedAt)
	return b, err
}

func (s *Store) CreateBeneficiary(ctx context.Context, b interfaces.Beneficiary) error {
	const query = `INSERT INTO beneficiaries (` + beneficiaryColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, query, b.ID, b.AccountID, b.FirstName, b.LastName, b.Email, b.Phone,
		b.Relationship, b.SecretQuestion, b.IDNumberHash, b.SecretTokenHash, b.CreatedAt)
	return mapError(err, "beneficiary")
}

func (s *Store) GetBeneficiary(ctx context.Context, id uuid.UUID) (interfaces.Beneficiary, error) {
	const query = `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE id = $1`
	b, err := scanBeneficiary(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return interfaces.Beneficiary{}, mapError(err, "beneficiary "+id.String())
	}
	return b, nil
}

func (s *Store) ListBeneficiaries(ctx context.Context, accountID uuid.UUID) ([]interfaces.Beneficiary, error) {
	const query = `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE account_id = $1 ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, mapError(err, "beneficiaries")
	}
	defer rows.Close()

	var out []interfaces.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, mapError(err, "beneficiaries")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSecretToken(ctx context.Context, accountID, id uuid.UUID, tokenHash []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE beneficiaries SET secret_token_hash = $3 WHERE id = $1 AND account_id = $2`,
		id, accountID, tokenHash)
	if err != nil {
		return mapError(err, "beneficiary")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: beneficiary %s", interfaces.ErrNotFound, id)
	}
	return nil
}

func (s *Store) DeleteBeneficiary(ctx context.Context, accountID, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM beneficiaries WHERE id = $1 AND account_id = $2`, id, accountID)
	return mapError(err, "beneficiary")
}
