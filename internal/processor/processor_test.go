package processor

import (
	"context"
	"errors"
	"loan_manager/internal/domain"
	"loan_manager/internal/ledger"
	"loan_manager/internal/policy"
	"loan_manager/internal/repository"
	"loan_manager/internal/repository/memory"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	jan2025 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2026 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store     *memory.Store
	ledger    *ledger.Ledger
	lifecycle *LoanLifecycle
	payments  *PaymentProcessor
}

func newFixture(t *testing.T, funds string, overPayment domain.OverPaymentPolicy) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	_, err := policy.NewParameterPolicy(store, nil).Define(ctx, domain.LoanParameters{
		MinAmount:         d("100"),
		MaxAmount:         d("10000"),
		MinInterestRate:   d("0"),
		MaxInterestRate:   d("20"),
		MinDurationMonths: 6,
		MaxDurationMonths: 60,
	})
	if err != nil {
		t.Fatalf("unexpected error defining parameters: %v", err)
	}

	l := ledger.New(store, nil)
	if _, err := l.Open(ctx, "p1", d(funds)); err != nil {
		t.Fatalf("unexpected error opening account: %v", err)
	}

	return &fixture{
		store:     store,
		ledger:    l,
		lifecycle: NewLoanLifecycle(store, nil),
		payments:  NewPaymentProcessor(store, overPayment, nil),
	}
}

func (f *fixture) apply(t *testing.T, amount string) *domain.Loan {
	t.Helper()
	loan, err := f.lifecycle.Apply(context.Background(), domain.LoanApplication{
		CustomerID:   "c1",
		ProviderID:   "p1",
		Amount:       d(amount),
		InterestRate: d("5.00"),
		StartDate:    jan2025,
		EndDate:      jan2026,
	})
	if err != nil {
		t.Fatalf("unexpected error applying: %v", err)
	}
	return loan
}

func (f *fixture) funds(t *testing.T) decimal.Decimal {
	t.Helper()
	account, err := f.ledger.Balance(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error reading funds: %v", err)
	}
	return account.AvailableFunds
}

func (f *fixture) loan(t *testing.T, id string) *domain.Loan {
	t.Helper()
	var loan *domain.Loan
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		loan, err = tx.Loans().Get(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error reading loan: %v", err)
	}
	return loan
}

// withBalance stores an approved loan owing outstanding.
func (f *fixture) withBalance(t *testing.T, outstanding string) *domain.Loan {
	t.Helper()
	loan := f.apply(t, "500.00")
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		stored, err := tx.Loans().Get(ctx, loan.ID)
		if err != nil {
			return err
		}
		if _, err := stored.Transition(domain.LoanApproved, ""); err != nil {
			return err
		}
		stored.OutstandingBalance = d(outstanding)
		return tx.Loans().Update(ctx, stored)
	})
	if err != nil {
		t.Fatalf("unexpected error seeding loan: %v", err)
	}
	return f.loan(t, loan.ID)
}

func TestLoanLifecycle_Apply_CreatesPendingLoan(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)

	loan := f.apply(t, "500.00")

	if loan.Status != domain.LoanPending {
		t.Errorf("expected pending, got %s", loan.Status)
	}
	if loan.TermMonths != 12 {
		t.Errorf("expected 12 months, got %d", loan.TermMonths)
	}
	if loan.ParametersVersion != 1 {
		t.Errorf("expected parameters version 1, got %d", loan.ParametersVersion)
	}
	if !f.funds(t).Equal(d("1000.00")) {
		t.Errorf("expected funds untouched by application, got %s", f.funds(t))
	}
}

func TestLoanLifecycle_Apply_DurationBelowPolicy(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)

	_, err := f.lifecycle.Apply(context.Background(), domain.LoanApplication{
		CustomerID:   "c1",
		ProviderID:   "p1",
		Amount:       d("500.00"),
		InterestRate: d("5.00"),
		StartDate:    jan2025,
		EndDate:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	if !errors.Is(err, domain.ErrPolicyViolation) || !errors.Is(err, domain.ErrOutOfBounds) {
		t.Fatalf("expected PolicyViolation wrapping OutOfBounds, got %v", err)
	}
	if fields := domain.FieldsOf(err); len(fields) != 1 || fields[0].Field != "duration_months" {
		t.Errorf("expected duration_months to be named, got %+v", fields)
	}
	if len(f.listLoans(t)) != 0 {
		t.Error("expected no loan to be created")
	}
}

func (f *fixture) listLoans(t *testing.T) []*domain.Loan {
	t.Helper()
	var loans []*domain.Loan
	_ = f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		loans, err = tx.Loans().List(ctx, repository.LoanFilter{})
		return err
	})
	return loans
}

func TestLoanLifecycle_Apply_NoParameters(t *testing.T) {
	store := memory.NewStore()
	lifecycle := NewLoanLifecycle(store, nil)

	_, err := lifecycle.Apply(context.Background(), domain.LoanApplication{
		CustomerID:   "c1",
		ProviderID:   "p1",
		Amount:       d("500.00"),
		InterestRate: d("5.00"),
		StartDate:    jan2025,
		EndDate:      jan2026,
	})

	if !errors.Is(err, domain.ErrPolicyNotConfigured) {
		t.Errorf("expected ErrPolicyNotConfigured, got %v", err)
	}
}

func TestLoanLifecycle_Apply_UnknownProvider(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)

	_, err := f.lifecycle.Apply(context.Background(), domain.LoanApplication{
		CustomerID:   "c1",
		ProviderID:   "nobody",
		Amount:       d("500.00"),
		InterestRate: d("5.00"),
		StartDate:    jan2025,
		EndDate:      jan2026,
	})

	if !errors.Is(err, domain.ErrInvalidAccount) {
		t.Errorf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestLoanLifecycle_Apply_ShorterThanOneMonth(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)

	_, err := f.lifecycle.Apply(context.Background(), domain.LoanApplication{
		CustomerID:   "c1",
		ProviderID:   "p1",
		Amount:       d("500.00"),
		InterestRate: d("5.00"),
		StartDate:    jan2025,
		EndDate:      jan2025.AddDate(0, 0, 20),
	})

	if !errors.Is(err, domain.ErrInvalidTerm) {
		t.Errorf("expected ErrInvalidTerm, got %v", err)
	}
}

func TestLoanLifecycle_Approve_DebitsProvider(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.apply(t, "500.00")

	approved, err := f.lifecycle.Approve(context.Background(), loan.ID)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved.Status != domain.LoanApproved {
		t.Errorf("expected approved, got %s", approved.Status)
	}
	if !f.funds(t).Equal(d("500.00")) {
		t.Errorf("expected funds 500.00, got %s", f.funds(t))
	}
	if len(approved.Schedule) != 12 {
		t.Fatalf("expected 12 installments, got %d", len(approved.Schedule))
	}
	if !approved.OutstandingBalance.Equal(d("500.00").Add(approved.TotalInterest)) {
		t.Errorf("expected outstanding = principal + interest, got %s", approved.OutstandingBalance)
	}
	if !approved.OutstandingBalance.Equal(d("513.63")) {
		t.Errorf("expected outstanding 513.63, got %s", approved.OutstandingBalance)
	}

	stored := f.loan(t, loan.ID)
	if len(stored.Schedule) != 12 || stored.Status != domain.LoanApproved {
		t.Errorf("expected stored loan approved with schedule, got %s with %d", stored.Status, len(stored.Schedule))
	}
}

func TestLoanLifecycle_Approve_InsufficientFunds(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.apply(t, "1500.00")

	_, err := f.lifecycle.Approve(context.Background(), loan.ID)

	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !f.funds(t).Equal(d("1000.00")) {
		t.Errorf("expected funds unchanged at 1000.00, got %s", f.funds(t))
	}
	stored := f.loan(t, loan.ID)
	if stored.Status != domain.LoanPending || len(stored.Schedule) != 0 {
		t.Errorf("expected loan to stay pending without schedule, got %s", stored.Status)
	}
}

func TestLoanLifecycle_Approve_Twice(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.apply(t, "500.00")
	if _, err := f.lifecycle.Approve(context.Background(), loan.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.lifecycle.Approve(context.Background(), loan.ID)

	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if !f.funds(t).Equal(d("500.00")) {
		t.Errorf("expected a single debit, funds %s", f.funds(t))
	}
}

func TestLoanLifecycle_Approve_ConcurrentSingleDebit(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.apply(t, "500.00")

	var succeeded atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := f.lifecycle.Approve(context.Background(), loan.ID)
			switch {
			case err == nil:
				succeeded.Add(1)
				return nil
			case errors.Is(err, domain.ErrInvalidState):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if succeeded.Load() != 1 {
		t.Errorf("expected exactly one approval, got %d", succeeded.Load())
	}
	if !f.funds(t).Equal(d("500.00")) {
		t.Errorf("expected funds 500.00 after one debit, got %s", f.funds(t))
	}
}

func TestLoanLifecycle_Reject_OnlyFromPending(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	rejected := f.apply(t, "200.00")
	approved := f.apply(t, "300.00")

	if _, err := f.lifecycle.Reject(context.Background(), rejected.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.lifecycle.Approve(context.Background(), approved.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := f.funds(t)

	for _, id := range []string{rejected.ID, approved.ID} {
		_, err := f.lifecycle.Reject(context.Background(), id, "again")
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("loan %s: expected ErrInvalidState, got %v", id, err)
		}
	}

	if f.loan(t, rejected.ID).Status != domain.LoanRejected {
		t.Error("expected rejected loan to stay rejected")
	}
	if f.loan(t, approved.ID).Status != domain.LoanApproved {
		t.Error("expected approved loan to stay approved")
	}
	if !f.funds(t).Equal(before) {
		t.Errorf("expected funds unchanged at %s, got %s", before, f.funds(t))
	}
}

func TestLoanLifecycle_HistoryIsAppendOnly(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.apply(t, "500.00")
	if _, err := f.lifecycle.Approve(context.Background(), loan.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var history []domain.StatusChange
	_ = f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		history, _ = tx.Loans().History(ctx, loan.ID)
		return nil
	})

	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].To != domain.LoanPending || history[1].From != domain.LoanPending || history[1].To != domain.LoanApproved {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestPaymentProcessor_PayInFullCloses(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.withBalance(t, "510.00")
	before := f.funds(t)

	result, err := f.payments.ApplyPayment(context.Background(), loan.ID, d("510.00"), jan2025)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NewBalance.IsZero() || !result.Closed {
		t.Errorf("expected zero balance and closed, got %s closed=%v", result.NewBalance, result.Closed)
	}
	if f.loan(t, loan.ID).Status != domain.LoanClosed {
		t.Errorf("expected stored loan closed")
	}
	if got := f.funds(t).Sub(before); !got.Equal(d("510.00")) {
		t.Errorf("expected provider credited 510.00, got %s", got)
	}
}

func TestPaymentProcessor_PartialPayment(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.withBalance(t, "510.00")

	result, err := f.payments.ApplyPayment(context.Background(), loan.ID, d("42.80"), jan2025)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NewBalance.Equal(d("467.20")) || result.Closed {
		t.Errorf("expected balance 467.20 still open, got %s closed=%v", result.NewBalance, result.Closed)
	}

	var payments []*domain.Payment
	_ = f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		payments, _ = tx.Payments().ListByLoan(ctx, loan.ID)
		return nil
	})
	if len(payments) != 1 || !payments[0].Amount.Equal(d("42.80")) {
		t.Errorf("expected one recorded payment of 42.80, got %+v", payments)
	}
}

func TestPaymentProcessor_OverPaymentRejected(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.withBalance(t, "510.00")
	before := f.funds(t)

	_, err := f.payments.ApplyPayment(context.Background(), loan.ID, d("510.01"), jan2025)

	if !errors.Is(err, domain.ErrOverPayment) {
		t.Fatalf("expected ErrOverPayment, got %v", err)
	}
	stored := f.loan(t, loan.ID)
	if !stored.OutstandingBalance.Equal(d("510.00")) || stored.Status != domain.LoanApproved {
		t.Errorf("expected loan untouched, got %s %s", stored.OutstandingBalance, stored.Status)
	}
	if !f.funds(t).Equal(before) {
		t.Errorf("expected funds untouched, got %s", f.funds(t))
	}
}

func TestPaymentProcessor_OverPaymentCapped(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentCap)
	loan := f.withBalance(t, "510.00")
	before := f.funds(t)

	result, err := f.payments.ApplyPayment(context.Background(), loan.ID, d("600.00"), jan2025)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Applied.Equal(d("510.00")) || !result.Requested.Equal(d("600.00")) {
		t.Errorf("expected 510.00 of 600.00 applied, got %s of %s", result.Applied, result.Requested)
	}
	if !result.Closed {
		t.Error("expected loan closed")
	}
	if got := f.funds(t).Sub(before); !got.Equal(d("510.00")) {
		t.Errorf("expected provider credited only 510.00, got %s", got)
	}
}

func TestPaymentProcessor_LoanNotActive(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	pending := f.apply(t, "500.00")

	_, err := f.payments.ApplyPayment(context.Background(), pending.ID, d("10.00"), jan2025)

	if !errors.Is(err, domain.ErrLoanNotActive) {
		t.Errorf("expected ErrLoanNotActive, got %v", err)
	}
}

func TestPaymentProcessor_NonPositiveAmount(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.withBalance(t, "510.00")

	for _, amount := range []string{"0", "-5"} {
		_, err := f.payments.ApplyPayment(context.Background(), loan.ID, d(amount), jan2025)
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestPaymentProcessor_UnknownLoan(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)

	_, err := f.payments.ApplyPayment(context.Background(), "missing", d("10.00"), jan2025)

	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPaymentProcessor_ConcurrentPaymentsNeverOverCredit(t *testing.T) {
	f := newFixture(t, "0.00", domain.OverPaymentReject)
	loan := f.withBalance(t, "100.00")

	var g errgroup.Group
	var applied atomic.Int32
	for i := 0; i < 15; i++ {
		g.Go(func() error {
			_, err := f.payments.ApplyPayment(context.Background(), loan.ID, d("10.00"), jan2025)
			switch {
			case err == nil:
				applied.Add(1)
				return nil
			case errors.Is(err, domain.ErrOverPayment), errors.Is(err, domain.ErrLoanNotActive):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if applied.Load() != 10 {
		t.Errorf("expected 10 payments applied, got %d", applied.Load())
	}
	if !f.funds(t).Equal(d("100.00")) {
		t.Errorf("expected provider credited exactly 100.00, got %s", f.funds(t))
	}
	if f.loan(t, loan.ID).Status != domain.LoanClosed {
		t.Error("expected loan closed")
	}
}

func TestConservation_ApproveThenRepay(t *testing.T) {
	f := newFixture(t, "1000.00", domain.OverPaymentReject)
	loan := f.apply(t, "500.00")
	approved, err := f.lifecycle.Approve(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, inst := range approved.Schedule {
		if _, err := f.payments.ApplyPayment(context.Background(), loan.ID, inst.PaymentAmount, inst.DueDate); err != nil {
			t.Fatalf("installment %d: unexpected error: %v", inst.Sequence, err)
		}
	}

	if f.loan(t, loan.ID).Status != domain.LoanClosed {
		t.Error("expected loan closed after paying the schedule")
	}
	want := d("1000.00").Add(approved.TotalInterest)
	if !f.funds(t).Equal(want) {
		t.Errorf("expected funds %s after full repayment, got %s", want, f.funds(t))
	}
}
