// Package ledger moves money in and out of provider funds accounts.
package ledger

import (
	"context"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Debit removes amount from the owner's account inside tx. The account stays
// locked until tx ends.
func Debit(ctx context.Context, tx repository.Tx, ownerID string, amount decimal.Decimal) (domain.BalanceUpdate, error) {
	return post(ctx, tx, ownerID, domain.EntryDebit, amount)
}

// Credit adds amount to the owner's account inside tx.
func Credit(ctx context.Context, tx repository.Tx, ownerID string, amount decimal.Decimal) (domain.BalanceUpdate, error) {
	return post(ctx, tx, ownerID, domain.EntryCredit, amount)
}

func post(ctx context.Context, tx repository.Tx, ownerID string, entry domain.EntryType, amount decimal.Decimal) (domain.BalanceUpdate, error) {
	account, err := tx.Accounts().Get(ctx, ownerID)
	if err != nil {
		return domain.BalanceUpdate{}, err
	}

	var next domain.FundsAccount
	switch entry {
	case domain.EntryDebit:
		next, err = account.Debit(amount)
	default:
		next, err = account.Credit(amount)
	}
	if err != nil {
		return domain.BalanceUpdate{}, err
	}
	if err := tx.Accounts().Update(ctx, &next); err != nil {
		return domain.BalanceUpdate{}, err
	}

	return domain.BalanceUpdate{
		OwnerID:         ownerID,
		Type:            entry,
		Amount:          amount,
		PreviousBalance: account.AvailableFunds,
		CurrentBalance:  next.AvailableFunds,
		Timestamp:       next.LastActivityAt,
	}, nil
}

// Ledger runs standalone account operations, each in its own transaction.
type Ledger struct {
	store  repository.Store
	logger *slog.Logger
}

func New(store repository.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

func (l *Ledger) Open(ctx context.Context, ownerID string, initial decimal.Decimal) (*domain.FundsAccount, error) {
	if ownerID == "" {
		return nil, domain.NewError(domain.ErrInvalidAccount, "open account",
			domain.FieldError{Field: "owner_id", Reason: "is required"})
	}
	if initial.IsNegative() {
		return nil, domain.NewError(domain.ErrInvalidAmount, "open account",
			domain.FieldError{Field: "initial_funds", Reason: "must not be negative"})
	}

	account := domain.NewFundsAccount(ownerID, initial)
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Accounts().Create(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "Funds account opened",
		slog.String("provider_id", ownerID),
		slog.String("amount", initial.StringFixed(2)))
	return account, nil
}

func (l *Ledger) Deposit(ctx context.Context, ownerID string, amount decimal.Decimal) (domain.BalanceUpdate, error) {
	return l.standalone(ctx, ownerID, domain.EntryCredit, amount)
}

func (l *Ledger) Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal) (domain.BalanceUpdate, error) {
	return l.standalone(ctx, ownerID, domain.EntryDebit, amount)
}

func (l *Ledger) Balance(ctx context.Context, ownerID string) (*domain.FundsAccount, error) {
	var account *domain.FundsAccount
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		account, err = tx.Accounts().Get(ctx, ownerID)
		return err
	})
	return account, err
}

func (l *Ledger) standalone(ctx context.Context, ownerID string, entry domain.EntryType, amount decimal.Decimal) (domain.BalanceUpdate, error) {
	start := time.Now()
	var update domain.BalanceUpdate
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		update, err = post(ctx, tx, ownerID, entry, amount)
		return err
	})
	if err != nil {
		l.logger.WarnContext(ctx, "Funds operation failed",
			slog.String("provider_id", ownerID),
			slog.String("type", string(entry)),
			slog.String("amount", amount.StringFixed(2)),
			slog.String("error", err.Error()))
		return domain.BalanceUpdate{}, err
	}

	l.logger.InfoContext(ctx, "Funds operation completed",
		slog.String("provider_id", ownerID),
		slog.String("type", string(entry)),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("balance", update.CurrentBalance.StringFixed(2)),
		slog.Duration("took", time.Since(start)))
	return update, nil
}
