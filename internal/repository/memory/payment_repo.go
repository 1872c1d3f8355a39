package memory

import (
	"context"
	"fmt"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"sort"
)

type txPayments tx

func (r *txPayments) Create(ctx context.Context, payment *domain.Payment) error {
	t := (*tx)(r)
	for _, p := range t.payments {
		if p.ID == payment.ID {
			return fmt.Errorf("%w: payment %s", repository.ErrDuplicate, payment.ID)
		}
	}

	t.store.mu.RLock()
	for _, p := range t.store.payments[payment.LoanID] {
		if p.ID == payment.ID {
			t.store.mu.RUnlock()
			return fmt.Errorf("%w: payment %s", repository.ErrDuplicate, payment.ID)
		}
	}
	t.store.mu.RUnlock()

	stored := *payment
	t.payments = append(t.payments, &stored)
	return nil
}

func (r *txPayments) ListByLoan(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	t := (*tx)(r)

	var result []*domain.Payment
	t.store.mu.RLock()
	for _, p := range t.store.payments[loanID] {
		out := *p
		result = append(result, &out)
	}
	t.store.mu.RUnlock()

	for _, p := range t.payments {
		if p.LoanID == loanID {
			out := *p
			result = append(result, &out)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
