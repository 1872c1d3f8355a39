package repository

import (
	"context"
	"errors"
	"loan_manager/internal/domain"
)

// Store runs units of work. Everything fn does through tx commits together
// or not at all; a non-nil error from fn rolls the whole unit back.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx scopes repositories to one transaction. Loans and accounts read through
// a Tx stay locked until the transaction ends; take a loan before an account.
type Tx interface {
	Accounts() AccountRepository
	Loans() LoanRepository
	Payments() PaymentRepository
	Parameters() ParameterRepository
}

type AccountRepository interface {
	Create(ctx context.Context, account *domain.FundsAccount) error
	Get(ctx context.Context, ownerID string) (*domain.FundsAccount, error)
	Update(ctx context.Context, account *domain.FundsAccount) error
}

type LoanFilter struct {
	CustomerID string
	ProviderID string
	Status     domain.LoanStatus
	Limit      int
	Offset     int
}

type LoanRepository interface {
	Create(ctx context.Context, loan *domain.Loan) error
	Get(ctx context.Context, id string) (*domain.Loan, error)
	Update(ctx context.Context, loan *domain.Loan) error
	List(ctx context.Context, filter LoanFilter) ([]*domain.Loan, error)
	AppendStatus(ctx context.Context, change domain.StatusChange) error
	History(ctx context.Context, loanID string) ([]domain.StatusChange, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	ListByLoan(ctx context.Context, loanID string) ([]*domain.Payment, error)
}

type ParameterRepository interface {
	// Activate stores params as the newest version and deactivates the previous one.
	Activate(ctx context.Context, params *domain.LoanParameters) error
	Active(ctx context.Context) (*domain.LoanParameters, error)
	GetVersion(ctx context.Context, version int) (*domain.LoanParameters, error)
	List(ctx context.Context) ([]*domain.LoanParameters, error)
}

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate entry")
	ErrTransactionConflict = errors.New("transaction conflict")
)

// ScheduleCache holds computed schedules. Schedules never change after
// approval, so entries are only ever added or expired.
type ScheduleCache interface {
	Get(ctx context.Context, loanID string) ([]domain.Installment, bool, error)
	Set(ctx context.Context, loanID string, schedule []domain.Installment) error
}
