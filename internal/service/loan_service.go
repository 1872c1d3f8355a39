package service

import (
	"context"
	"loan_manager/internal/amortization"
	"loan_manager/internal/domain"
	"loan_manager/internal/ledger"
	"loan_manager/internal/policy"
	"loan_manager/internal/processor"
	"loan_manager/internal/repository"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Metrics is the part of the metrics collector the service reports to.
type Metrics interface {
	RecordOperation(operation string, duration time.Duration, err error)
	RecordApproval(principal float64)
	RecordClosed()
	UpdateProviderFunds(providerID string, balance float64)
	RecordCacheLookup(result string)
}

type Notifier interface {
	NotifyLoanEvent(ctx context.Context, event LoanEvent)
}

// LoanService is the entry point for request handlers. Callers are expected
// to have authorized the principal already.
type LoanService struct {
	store     repository.Store
	policy    *policy.ParameterPolicy
	ledger    *ledger.Ledger
	lifecycle *processor.LoanLifecycle
	payments  *processor.PaymentProcessor
	cache     repository.ScheduleCache
	metrics   Metrics
	notifier  Notifier
	logger    *slog.Logger
}

func NewLoanService(
	store repository.Store,
	cache repository.ScheduleCache,
	metrics Metrics,
	notifier Notifier,
	overPayment domain.OverPaymentPolicy,
	logger *slog.Logger,
) *LoanService {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &LoanService{
		store:     store,
		policy:    policy.NewParameterPolicy(store, logger),
		ledger:    ledger.New(store, logger),
		lifecycle: processor.NewLoanLifecycle(store, logger),
		payments:  processor.NewPaymentProcessor(store, overPayment, logger),
		cache:     cache,
		metrics:   metrics,
		notifier:  notifier,
		logger:    logger,
	}
}

func (s *LoanService) observe(operation string, start time.Time, err error) {
	s.metrics.RecordOperation(operation, time.Since(start), err)
}

func (s *LoanService) DefineParameters(ctx context.Context, params domain.LoanParameters) (defined *domain.LoanParameters, err error) {
	defer func(start time.Time) { s.observe("define_parameters", start, err) }(time.Now())
	return s.policy.Define(ctx, params)
}

func (s *LoanService) ActiveParameters(ctx context.Context) (*domain.LoanParameters, error) {
	return s.policy.Active(ctx)
}

func (s *LoanService) ParameterHistory(ctx context.Context) ([]*domain.LoanParameters, error) {
	return s.policy.History(ctx)
}

func (s *LoanService) ApplyForLoan(ctx context.Context, app domain.LoanApplication) (loan *domain.Loan, err error) {
	defer func(start time.Time) { s.observe("apply", start, err) }(time.Now())
	return s.lifecycle.Apply(ctx, app)
}

func (s *LoanService) ApproveLoan(ctx context.Context, loanID string) (approval *processor.Approval, err error) {
	defer func(start time.Time) { s.observe("approve", start, err) }(time.Now())

	approval, err = s.lifecycle.Approve(ctx, loanID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordApproval(approval.Principal.InexactFloat64())
	s.metrics.UpdateProviderFunds(approval.ProviderID, approval.Debit.CurrentBalance.InexactFloat64())
	s.storeSchedule(ctx, approval.ID, approval.Schedule)
	s.notifier.NotifyLoanEvent(ctx, LoanEvent{
		Type:       EventLoanApproved,
		LoanID:     approval.ID,
		CustomerID: approval.CustomerID,
		ProviderID: approval.ProviderID,
		Amount:     approval.Principal,
		Balance:    approval.OutstandingBalance,
	})
	return approval, nil
}

func (s *LoanService) RejectLoan(ctx context.Context, loanID, reason string) (loan *domain.Loan, err error) {
	defer func(start time.Time) { s.observe("reject", start, err) }(time.Now())

	loan, err = s.lifecycle.Reject(ctx, loanID, reason)
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyLoanEvent(ctx, LoanEvent{
		Type:       EventLoanRejected,
		LoanID:     loan.ID,
		CustomerID: loan.CustomerID,
		ProviderID: loan.ProviderID,
		Amount:     loan.Principal,
		Reason:     reason,
	})
	return loan, nil
}

func (s *LoanService) MakePayment(ctx context.Context, loanID string, amount decimal.Decimal, date time.Time) (result processor.PaymentResult, err error) {
	defer func(start time.Time) { s.observe("payment", start, err) }(time.Now())

	result, err = s.payments.ApplyPayment(ctx, loanID, amount, date)
	if err != nil {
		return processor.PaymentResult{}, err
	}

	s.metrics.UpdateProviderFunds(result.ProviderID, result.ProviderFunds.InexactFloat64())
	event := LoanEvent{
		Type:       EventPaymentApplied,
		LoanID:     loanID,
		CustomerID: result.CustomerID,
		ProviderID: result.ProviderID,
		Amount:     result.Applied,
		Balance:    result.NewBalance,
	}
	s.notifier.NotifyLoanEvent(ctx, event)
	if result.Closed {
		s.metrics.RecordClosed()
		event.Type = EventLoanClosed
		s.notifier.NotifyLoanEvent(ctx, event)
	}
	return result, nil
}

// GetAmortizationSchedule returns the stored schedule of an approved or
// closed loan. For a pending loan it returns the schedule the loan would
// get if approved now; rejected loans have none.
func (s *LoanService) GetAmortizationSchedule(ctx context.Context, loanID string) ([]domain.Installment, error) {
	if s.cache != nil {
		schedule, ok, err := s.cache.Get(ctx, loanID)
		switch {
		case err != nil:
			s.metrics.RecordCacheLookup("error")
			s.logger.WarnContext(ctx, "Schedule cache read failed",
				slog.String("loan_id", loanID),
				slog.String("error", err.Error()))
		case ok:
			s.metrics.RecordCacheLookup("hit")
			return schedule, nil
		default:
			s.metrics.RecordCacheLookup("miss")
		}
	}

	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	switch loan.Status {
	case domain.LoanApproved, domain.LoanClosed:
		s.storeSchedule(ctx, loan.ID, loan.Schedule)
		return loan.Schedule, nil
	case domain.LoanPending:
		projected, err := amortization.Compute(loan.Principal, loan.InterestRate, loan.TermMonths, loan.StartDate)
		if err != nil {
			return nil, err
		}
		return projected.Installments, nil
	default:
		return nil, domain.NewError(domain.ErrInvalidState, "amortization schedule",
			domain.FieldError{Field: "status", Reason: "loan is " + string(loan.Status)})
	}
}

func (s *LoanService) storeSchedule(ctx context.Context, loanID string, schedule []domain.Installment) {
	if s.cache == nil || len(schedule) == 0 {
		return
	}
	if err := s.cache.Set(ctx, loanID, schedule); err != nil {
		s.logger.WarnContext(ctx, "Schedule cache write failed",
			slog.String("loan_id", loanID),
			slog.String("error", err.Error()))
	}
}

func (s *LoanService) GetLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	var loan *domain.Loan
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		loan, err = tx.Loans().Get(ctx, loanID)
		return err
	})
	return loan, err
}

func (s *LoanService) ListLoans(ctx context.Context, filter repository.LoanFilter) ([]*domain.Loan, error) {
	var loans []*domain.Loan
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		loans, err = tx.Loans().List(ctx, filter)
		return err
	})
	return loans, err
}

func (s *LoanService) ListPayments(ctx context.Context, loanID string) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Loans().Get(ctx, loanID); err != nil {
			return err
		}
		var err error
		payments, err = tx.Payments().ListByLoan(ctx, loanID)
		return err
	})
	return payments, err
}

func (s *LoanService) LoanHistory(ctx context.Context, loanID string) ([]domain.StatusChange, error) {
	var history []domain.StatusChange
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.Loans().Get(ctx, loanID); err != nil {
			return err
		}
		var err error
		history, err = tx.Loans().History(ctx, loanID)
		return err
	})
	return history, err
}

func (s *LoanService) OpenFundsAccount(ctx context.Context, providerID string, initial decimal.Decimal) (account *domain.FundsAccount, err error) {
	defer func(start time.Time) { s.observe("open_account", start, err) }(time.Now())

	account, err = s.ledger.Open(ctx, providerID, initial)
	if err != nil {
		return nil, err
	}
	s.metrics.UpdateProviderFunds(providerID, account.AvailableFunds.InexactFloat64())
	return account, nil
}

func (s *LoanService) DepositFunds(ctx context.Context, providerID string, amount decimal.Decimal) (update domain.BalanceUpdate, err error) {
	defer func(start time.Time) { s.observe("deposit", start, err) }(time.Now())

	update, err = s.ledger.Deposit(ctx, providerID, amount)
	if err == nil {
		s.metrics.UpdateProviderFunds(providerID, update.CurrentBalance.InexactFloat64())
	}
	return update, err
}

func (s *LoanService) WithdrawFunds(ctx context.Context, providerID string, amount decimal.Decimal) (update domain.BalanceUpdate, err error) {
	defer func(start time.Time) { s.observe("withdraw", start, err) }(time.Now())

	update, err = s.ledger.Withdraw(ctx, providerID, amount)
	if err == nil {
		s.metrics.UpdateProviderFunds(providerID, update.CurrentBalance.InexactFloat64())
	}
	return update, err
}

func (s *LoanService) FundsBalance(ctx context.Context, providerID string) (*domain.FundsAccount, error) {
	return s.ledger.Balance(ctx, providerID)
}

type nopMetrics struct{}

func (nopMetrics) RecordOperation(string, time.Duration, error) {}
func (nopMetrics) RecordApproval(float64) {}
func (nopMetrics) RecordClosed() {}
func (nopMetrics) UpdateProviderFunds(string, float64) {}
func (nopMetrics) RecordCacheLookup(string) {}

type nopNotifier struct{}

func (nopNotifier) NotifyLoanEvent(context.Context, LoanEvent) {}
