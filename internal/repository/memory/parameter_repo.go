package memory

import (
	"context"
	"fmt"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"time"
)

type txParameters tx

// Activate serializes with every other activation until the transaction ends.
func (r *txParameters) Activate(ctx context.Context, params *domain.LoanParameters) error {
	t := (*tx)(r)
	if err := t.lockParameters(ctx); err != nil {
		return err
	}

	t.store.mu.RLock()
	latest := 0
	if n := len(t.store.params); n > 0 {
		latest = t.store.params[n-1].Version
	}
	t.store.mu.RUnlock()
	if t.params != nil {
		latest = t.params.Version
	}

	params.Version = latest + 1
	params.Active = true
	if params.CreatedAt.IsZero() {
		params.CreatedAt = time.Now().UTC()
	}
	stored := *params
	t.params = &stored
	return nil
}

func (r *txParameters) Active(ctx context.Context) (*domain.LoanParameters, error) {
	t := (*tx)(r)
	if t.params != nil {
		out := *t.params
		return &out, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for i := len(t.store.params) - 1; i >= 0; i-- {
		if p := t.store.params[i]; p.Active {
			out := *p
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: active loan parameters", repository.ErrNotFound)
}

func (r *txParameters) GetVersion(ctx context.Context, version int) (*domain.LoanParameters, error) {
	t := (*tx)(r)
	if t.params != nil && t.params.Version == version {
		out := *t.params
		return &out, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, p := range t.store.params {
		if p.Version == version {
			out := *p
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: loan parameters version %d", repository.ErrNotFound, version)
}

func (r *txParameters) List(ctx context.Context) ([]*domain.LoanParameters, error) {
	t := (*tx)(r)

	t.store.mu.RLock()
	result := make([]*domain.LoanParameters, 0, len(t.store.params)+1)
	for _, p := range t.store.params {
		out := *p
		if t.params != nil {
			out.Active = false
		}
		result = append(result, &out)
	}
	t.store.mu.RUnlock()

	if t.params != nil {
		out := *t.params
		result = append(result, &out)
	}
	return result, nil
}
