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

type parameters tx

const parameterColumns = `version, min_amount, max_amount, min_interest_rate, max_interest_rate,
min_duration_months, max_duration_months, active, defined_by, created_at`

// Activate relies on BEGIN IMMEDIATE: the write lock is already held, so
// reading the latest version and inserting the next one cannot interleave.
func (r *parameters) Activate(ctx context.Context, params *domain.LoanParameters) error {
	var latest int
	if err := r.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM loan_parameters`).Scan(&latest); err != nil {
		return fmt.Errorf("read latest parameters version: %w", err)
	}
	if _, err := r.tx.ExecContext(ctx, `UPDATE loan_parameters SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate parameters: %w", err)
	}

	params.Version = latest + 1
	params.Active = true
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now().UTC()
	}
	_, err := r.tx.ExecContext(ctx, `INSERT INTO loan_parameters (`+parameterColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		params.Version,
		params.MinAmount.String(),
		params.MaxAmount.String(),
		params.MinInterestRate.String(),
		params.MaxInterestRate.String(),
		params.MinDurationMonths,
		params.MaxDurationMonths,
		params.DefinedBy,
		toMillis(params.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: parameters version %d", repository.ErrTransactionConflict, params.Version)
		}
		return fmt.Errorf("insert parameters version %d: %w", params.Version, err)
	}
	return nil
}

func (r *parameters) Active(ctx context.Context) (*domain.LoanParameters, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+parameterColumns+` FROM loan_parameters WHERE active = 1`)
	params, err := scanParameters(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: active loan parameters", repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active parameters: %w", err)
	}
	return params, nil
}

func (r *parameters) GetVersion(ctx context.Context, version int) (*domain.LoanParameters, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+parameterColumns+` FROM loan_parameters WHERE version = ?`, version)
	params, err := scanParameters(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: loan parameters version %d", repository.ErrNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("get parameters version %d: %w", version, err)
	}
	return params, nil
}

func (r *parameters) List(ctx context.Context) ([]*domain.LoanParameters, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+parameterColumns+` FROM loan_parameters ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	defer rows.Close()

	result := []*domain.LoanParameters{}
	for rows.Next() {
		params, err := scanParameters(rows)
		if err != nil {
			return nil, fmt.Errorf("scan parameters: %w", err)
		}
		result = append(result, params)
	}
	return result, rows.Err()
}

func scanParameters(row scanner) (*domain.LoanParameters, error) {
	var (
		p         domain.LoanParameters
		active    int
		createdAt int64
	)
	if err := row.Scan(
		&p.Version,
		&p.MinAmount,
		&p.MaxAmount,
		&p.MinInterestRate,
		&p.MaxInterestRate,
		&p.MinDurationMonths,
		&p.MaxDurationMonths,
		&active,
		&p.DefinedBy,
		&createdAt,
	); err != nil {
		return nil, err
	}
	p.Active = active == 1
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}
