package memory

import (
	"context"
	"fmt"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"sort"
	"time"
)

type txLoans tx

func loanKey(id string) string { return "loan:" + id }

func (r *txLoans) Create(ctx context.Context, loan *domain.Loan) error {
	t := (*tx)(r)
	if _, staged := t.loans[loan.ID]; staged {
		return fmt.Errorf("%w: loan %s", repository.ErrDuplicate, loan.ID)
	}
	t.store.mu.RLock()
	_, exists := t.store.loans[loan.ID]
	t.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: loan %s", repository.ErrDuplicate, loan.ID)
	}

	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now().UTC()
	}
	loan.UpdatedAt = loan.CreatedAt
	t.loans[loan.ID] = loan.Clone()
	t.newLoans = append(t.newLoans, loan.ID)
	return nil
}

// Get returns the loan and keeps it locked until the transaction ends.
func (r *txLoans) Get(ctx context.Context, id string) (*domain.Loan, error) {
	t := (*tx)(r)
	if err := t.lock(ctx, loanKey(id)); err != nil {
		return nil, err
	}

	if staged, ok := t.loans[id]; ok {
		return staged.Clone(), nil
	}

	t.store.mu.RLock()
	loan, exists := t.store.loans[id]
	t.store.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: loan %s", repository.ErrNotFound, id)
	}
	return loan.Clone(), nil
}

func (r *txLoans) Update(ctx context.Context, loan *domain.Loan) error {
	t := (*tx)(r)
	current, err := r.Get(ctx, loan.ID)
	if err != nil {
		return err
	}
	if current.Version != loan.Version {
		return fmt.Errorf("%w: loan %s version %d, have %d",
			repository.ErrTransactionConflict, loan.ID, loan.Version, current.Version)
	}

	loan.Version = current.Version + 1
	loan.UpdatedAt = time.Now().UTC()
	t.loans[loan.ID] = loan.Clone()
	return nil
}

// List reads committed loans overlaid with this transaction's writes. It
// takes no entity locks.
func (r *txLoans) List(ctx context.Context, filter repository.LoanFilter) ([]*domain.Loan, error) {
	t := (*tx)(r)

	seen := make(map[string]bool)
	var result []*domain.Loan
	consider := func(loan *domain.Loan) {
		if seen[loan.ID] {
			return
		}
		seen[loan.ID] = true
		if filter.CustomerID != "" && loan.CustomerID != filter.CustomerID {
			return
		}
		if filter.ProviderID != "" && loan.ProviderID != filter.ProviderID {
			return
		}
		if filter.Status != "" && loan.Status != filter.Status {
			return
		}
		result = append(result, loan.Clone())
	}

	for _, loan := range t.loans {
		consider(loan)
	}

	t.store.mu.RLock()
	switch {
	case filter.CustomerID != "":
		for _, id := range t.store.customerIndex[filter.CustomerID] {
			consider(t.store.loans[id])
		}
	case filter.ProviderID != "":
		for _, id := range t.store.providerIndex[filter.ProviderID] {
			consider(t.store.loans[id])
		}
	default:
		for _, loan := range t.store.loans {
			consider(loan)
		}
	}
	t.store.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, filter.Limit, filter.Offset), nil
}

func (r *txLoans) AppendStatus(ctx context.Context, change domain.StatusChange) error {
	t := (*tx)(r)
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	t.history = append(t.history, change)
	return nil
}

func (r *txLoans) History(ctx context.Context, loanID string) ([]domain.StatusChange, error) {
	t := (*tx)(r)

	t.store.mu.RLock()
	committed := t.store.history[loanID]
	result := make([]domain.StatusChange, 0, len(committed))
	result = append(result, committed...)
	t.store.mu.RUnlock()

	for _, change := range t.history {
		if change.LoanID == loanID {
			result = append(result, change)
		}
	}
	return result, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
