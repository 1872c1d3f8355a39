package memory

import (
	"context"
	"fmt"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"time"
)

type txAccounts tx

func accountKey(ownerID string) string { return "account:" + ownerID }

func (r *txAccounts) Create(ctx context.Context, account *domain.FundsAccount) error {
	t := (*tx)(r)
	if err := t.lock(ctx, accountKey(account.OwnerID)); err != nil {
		return err
	}

	if _, staged := t.accounts[account.OwnerID]; staged {
		return fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.OwnerID)
	}
	t.store.mu.RLock()
	_, exists := t.store.accounts[account.OwnerID]
	t.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: account %s", repository.ErrDuplicate, account.OwnerID)
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.LastActivityAt = now
	stored := *account
	t.accounts[account.OwnerID] = &stored
	return nil
}

// Get returns the account and keeps it locked until the transaction ends.
func (r *txAccounts) Get(ctx context.Context, ownerID string) (*domain.FundsAccount, error) {
	t := (*tx)(r)
	if err := t.lock(ctx, accountKey(ownerID)); err != nil {
		return nil, err
	}

	if staged, ok := t.accounts[ownerID]; ok {
		out := *staged
		return &out, nil
	}

	t.store.mu.RLock()
	account, exists := t.store.accounts[ownerID]
	t.store.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: account %s", repository.ErrNotFound, ownerID)
	}
	out := *account
	return &out, nil
}

func (r *txAccounts) Update(ctx context.Context, account *domain.FundsAccount) error {
	t := (*tx)(r)
	current, err := r.Get(ctx, account.OwnerID)
	if err != nil {
		return err
	}
	if current.Version != account.Version {
		return fmt.Errorf("%w: account %s version %d, have %d",
			repository.ErrTransactionConflict, account.OwnerID, account.Version, current.Version)
	}

	account.Version = current.Version + 1
	account.LastActivityAt = time.Now().UTC()
	stored := *account
	t.accounts[account.OwnerID] = &stored
	return nil
}
