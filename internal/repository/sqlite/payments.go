package sqlite

import (
	"context"
	"fmt"

	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
)

type payments tx

func (r *payments) Create(ctx context.Context, payment *domain.Payment) error {
	_, err := r.tx.ExecContext(ctx, `
INSERT INTO loan_payments (id, loan_id, amount, date, created_at)
VALUES (?, ?, ?, ?, ?)`,
		payment.ID,
		payment.LoanID,
		payment.Amount.String(),
		payment.Date.Format(dateLayout),
		toMillis(payment.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payment %s", repository.ErrDuplicate, payment.ID)
		}
		return fmt.Errorf("insert payment %s: %w", payment.ID, err)
	}
	return nil
}

func (r *payments) ListByLoan(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	rows, err := r.tx.QueryContext(ctx, `
SELECT id, loan_id, amount, date, created_at
FROM loan_payments WHERE loan_id = ? ORDER BY created_at, rowid`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var result []*domain.Payment
	for rows.Next() {
		var (
			p         domain.Payment
			date      string
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.LoanID, &p.Amount, &date, &createdAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		p.CreatedAt = fromMillis(createdAt)
		result = append(result, &p)
	}
	return result, rows.Err()
}
