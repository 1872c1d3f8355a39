package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"loan_manager/internal/domain"
	"loan_manager/internal/repository"

	"github.com/shopspring/decimal"
)

type loans tx

const loanColumns = `id, provider_id, customer_id, principal, interest_rate, start_date, end_date,
term_months, status, outstanding_balance, total_interest, parameters_version, version, created_at, updated_at`

func (r *loans) Create(ctx context.Context, loan *domain.Loan) error {
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now().UTC()
	}
	loan.UpdatedAt = loan.CreatedAt

	_, err := r.tx.ExecContext(ctx, `INSERT INTO loans (`+loanColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID,
		loan.ProviderID,
		loan.CustomerID,
		loan.Principal.String(),
		loan.InterestRate.String(),
		loan.StartDate.Format(dateLayout),
		loan.EndDate.Format(dateLayout),
		loan.TermMonths,
		string(loan.Status),
		loan.OutstandingBalance.String(),
		loan.TotalInterest.String(),
		loan.ParametersVersion,
		loan.Version,
		toMillis(loan.CreatedAt),
		toMillis(loan.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: loan %s", repository.ErrDuplicate, loan.ID)
		}
		return fmt.Errorf("insert loan %s: %w", loan.ID, err)
	}
	return r.replaceSchedule(ctx, loan)
}

func (r *loans) Get(ctx context.Context, id string) (*domain.Loan, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: loan %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get loan %s: %w", id, err)
	}
	if loan.Schedule, err = r.schedule(ctx, id); err != nil {
		return nil, err
	}
	return loan, nil
}

func (r *loans) Update(ctx context.Context, loan *domain.Loan) error {
	loan.UpdatedAt = time.Now().UTC()
	res, err := r.tx.ExecContext(ctx, `
UPDATE loans
SET status = ?, outstanding_balance = ?, total_interest = ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ?`,
		string(loan.Status),
		loan.OutstandingBalance.String(),
		loan.TotalInterest.String(),
		toMillis(loan.UpdatedAt),
		loan.ID,
		loan.Version,
	)
	if err != nil {
		return fmt.Errorf("update loan %s: %w", loan.ID, err)
	}
	if err := (*tx)(r).expectOneRow(ctx, res, `SELECT 1 FROM loans WHERE id = ?`, "loan", loan.ID); err != nil {
		return err
	}
	loan.Version++
	return r.replaceSchedule(ctx, loan)
}

func (r *loans) List(ctx context.Context, filter repository.LoanFilter) ([]*domain.Loan, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.ProviderID != "" {
		where = append(where, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	result := []*domain.Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		result = append(result, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}

	for _, loan := range result {
		if loan.Schedule, err = r.schedule(ctx, loan.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *loans) AppendStatus(ctx context.Context, change domain.StatusChange) error {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	_, err := r.tx.ExecContext(ctx, `
INSERT INTO loan_status_history (loan_id, from_status, to_status, reason, at)
VALUES (?, ?, ?, ?, ?)`,
		change.LoanID, string(change.From), string(change.To), change.Reason, toMillis(change.At))
	if err != nil {
		return fmt.Errorf("append status for loan %s: %w", change.LoanID, err)
	}
	return nil
}

func (r *loans) History(ctx context.Context, loanID string) ([]domain.StatusChange, error) {
	rows, err := r.tx.QueryContext(ctx, `
SELECT loan_id, from_status, to_status, reason, at
FROM loan_status_history WHERE loan_id = ? ORDER BY id`, loanID)
	if err != nil {
		return nil, fmt.Errorf("query history for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	result := []domain.StatusChange{}
	for rows.Next() {
		var (
			change   domain.StatusChange
			from, to string
			at       int64
		)
		if err := rows.Scan(&change.LoanID, &from, &to, &change.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		change.From = domain.LoanStatus(from)
		change.To = domain.LoanStatus(to)
		change.At = fromMillis(at)
		result = append(result, change)
	}
	return result, rows.Err()
}

// replaceSchedule rewrites the installments when the loan carries a schedule.
// A loan without one keeps whatever is stored.
func (r *loans) replaceSchedule(ctx context.Context, loan *domain.Loan) error {
	if len(loan.Schedule) == 0 {
		return nil
	}
	if _, err := r.tx.ExecContext(ctx, `DELETE FROM loan_installments WHERE loan_id = ?`, loan.ID); err != nil {
		return fmt.Errorf("clear schedule for loan %s: %w", loan.ID, err)
	}

	stmt, err := r.tx.PrepareContext(ctx, `
INSERT INTO loan_installments
    (loan_id, sequence, due_date, payment_amount, principal_component, interest_component, remaining_balance)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare schedule insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range loan.Schedule {
		if _, err := stmt.ExecContext(ctx,
			loan.ID,
			inst.Sequence,
			inst.DueDate.Format(dateLayout),
			inst.PaymentAmount.String(),
			inst.PrincipalComponent.String(),
			inst.InterestComponent.String(),
			inst.RemainingBalance.String(),
		); err != nil {
			return fmt.Errorf("insert installment %d for loan %s: %w", inst.Sequence, loan.ID, err)
		}
	}
	return nil
}

func (r *loans) schedule(ctx context.Context, loanID string) ([]domain.Installment, error) {
	rows, err := r.tx.QueryContext(ctx, `
SELECT sequence, due_date, payment_amount, principal_component, interest_component, remaining_balance
FROM loan_installments WHERE loan_id = ? ORDER BY sequence`, loanID)
	if err != nil {
		return nil, fmt.Errorf("query schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var result []domain.Installment
	for rows.Next() {
		var (
			inst domain.Installment
			due  string
		)
		if err := rows.Scan(&inst.Sequence, &due, &inst.PaymentAmount,
			&inst.PrincipalComponent, &inst.InterestComponent, &inst.RemainingBalance); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		if inst.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*domain.Loan, error) {
	var (
		loan                 domain.Loan
		start, end, status   string
		principal, rate      decimal.Decimal
		outstanding, accrued decimal.Decimal
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&loan.ID,
		&loan.ProviderID,
		&loan.CustomerID,
		&principal,
		&rate,
		&start,
		&end,
		&loan.TermMonths,
		&status,
		&outstanding,
		&accrued,
		&loan.ParametersVersion,
		&loan.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if loan.StartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if loan.EndDate, err = parseDate(end); err != nil {
		return nil, err
	}
	loan.Principal = principal
	loan.InterestRate = rate
	loan.Status = domain.LoanStatus(status)
	loan.OutstandingBalance = outstanding
	loan.TotalInterest = accrued
	loan.CreatedAt = fromMillis(createdAt)
	loan.UpdatedAt = fromMillis(updatedAt)
	return &loan, nil
}
