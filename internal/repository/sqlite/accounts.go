package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
)

type accounts tx

func (r *accounts) Create(ctx context.Context, account *domain.FundsAccount) error {
	_, err := r.tx.ExecContext(ctx, `
INSERT INTO funds_accounts (owner_id, available_funds, version, created_at, last_activity_at)
VALUES (?, ?, ?, ?, ?)`,
		account.OwnerID,
		account.AvailableFunds.String(),
		account.Version,
		toMillis(account.CreatedAt),
		toMillis(account.LastActivityAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.OwnerID)
		}
		return fmt.Errorf("insert account %s: %w", account.OwnerID, err)
	}
	return nil
}

func (r *accounts) Get(ctx context.Context, ownerID string) (*domain.FundsAccount, error) {
	row := r.tx.QueryRowContext(ctx, `
SELECT owner_id, available_funds, version, created_at, last_activity_at
FROM funds_accounts WHERE owner_id = ?`, ownerID)

	var (
		account            domain.FundsAccount
		createdAt, touched int64
	)
	err := row.Scan(&account.OwnerID, &account.AvailableFunds, &account.Version, &createdAt, &touched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", ownerID, err)
	}
	account.CreatedAt = fromMillis(createdAt)
	account.LastActivityAt = fromMillis(touched)
	return &account, nil
}

func (r *accounts) Update(ctx context.Context, account *domain.FundsAccount) error {
	account.LastActivityAt = time.Now().UTC()
	res, err := r.tx.ExecContext(ctx, `
UPDATE funds_accounts
SET available_funds = ?, version = version + 1, last_activity_at = ?
WHERE owner_id = ? AND version = ?`,
		account.AvailableFunds.String(),
		toMillis(account.LastActivityAt),
		account.OwnerID,
		account.Version,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", account.OwnerID, err)
	}
	if err := (*tx)(r).expectOneRow(ctx, res, `SELECT 1 FROM funds_accounts WHERE owner_id = ?`, "account", account.OwnerID); err != nil {
		return err
	}
	account.Version++
	return nil
}

// expectOneRow tells a missing row apart from a stale version after a
// versioned UPDATE touched nothing.
func (t *tx) expectOneRow(ctx context.Context, res sql.Result, probe, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", kind, id, err)
	}
	if n == 1 {
		return nil
	}
	var found int
	err = t.tx.QueryRowContext(ctx, probe, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", repository.ErrNotFound, kind, id)
	}
	if err != nil {
		return fmt.Errorf("probe %s %s: %w", kind, id, err)
	}
	return fmt.Errorf("%w: %s %s changed concurrently", repository.ErrTransactionConflict, kind, id)
}
