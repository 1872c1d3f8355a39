package processor

import (
	"context"
	"errors"
	"loan_manager/internal/amortization"
	"loan_manager/internal/domain"
	"loan_manager/internal/ledger"
	"loan_manager/internal/policy"
	"loan_manager/internal/repository"
	"loan_manager/pkg/validator"
	"log/slog"
)

// LoanLifecycle moves loans through pending, approved and rejected. Every
// operation is one unit of work on the store.
type LoanLifecycle struct {
	store     repository.Store
	validator *validator.LoanValidator
	logger    *slog.Logger
}

func NewLoanLifecycle(store repository.Store, logger *slog.Logger) *LoanLifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoanLifecycle{
		store:     store,
		validator: validator.NewLoanValidator(),
		logger:    logger,
	}
}

// Apply creates a pending loan after checking it against the active
// parameter set. The parameter read, the provider check and the insert
// happen in the same transaction.
func (p *LoanLifecycle) Apply(ctx context.Context, app domain.LoanApplication) (*domain.Loan, error) {
	if err := p.validator.ValidateApplication(app); err != nil {
		return nil, err
	}
	months := domain.MonthsBetween(app.StartDate, app.EndDate)
	if months < 1 {
		return nil, domain.NewError(domain.ErrInvalidTerm, "apply for loan",
			domain.FieldError{Field: "end_date", Reason: "loan must run at least one whole month"})
	}

	p.logger.InfoContext(ctx, "Processing loan application",
		slog.String("customer_id", app.CustomerID),
		slog.String("provider_id", app.ProviderID),
		slog.String("amount", app.Amount.StringFixed(2)),
		slog.Int("duration_months", months))

	var loan *domain.Loan
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		params, err := policy.ActiveIn(ctx, tx)
		if err != nil {
			return err
		}
		if err := policy.Evaluate(params, app.Amount, app.InterestRate, months); err != nil {
			return domain.Wrap(domain.ErrPolicyViolation, "apply for loan", err)
		}

		if _, err := tx.Accounts().Get(ctx, app.ProviderID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.NewError(domain.ErrInvalidAccount, "apply for loan",
					domain.FieldError{Field: "provider_id", Reason: "has no funds account"})
			}
			return err
		}

		loan = domain.NewLoan(app, months, params.Version)
		if err := tx.Loans().Create(ctx, loan); err != nil {
			return err
		}
		return tx.Loans().AppendStatus(ctx, domain.StatusChange{
			LoanID: loan.ID,
			To:     domain.LoanPending,
			Reason: "application submitted",
			At:     loan.CreatedAt,
		})
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Loan application rejected",
			slog.String("customer_id", app.CustomerID),
			slog.String("error", err.Error()))
		return nil, err
	}

	p.logger.InfoContext(ctx, "Loan application accepted",
		slog.String("loan_id", loan.ID),
		slog.Int("parameters_version", loan.ParametersVersion))
	return loan, nil
}

// Approve debits the provider, attaches the schedule and marks the loan
// approved. Insufficient funds leave the loan pending and nothing written.
func (p *LoanLifecycle) Approve(ctx context.Context, loanID string) (*Approval, error) {
	var approved *Approval
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		loan, err := tx.Loans().Get(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransition(domain.LoanApproved) {
			return stateError("approve", loan.Status, domain.LoanApproved)
		}

		schedule, err := amortization.Compute(loan.Principal, loan.InterestRate, loan.TermMonths, loan.StartDate)
		if err != nil {
			return err
		}

		debit, err := ledger.Debit(ctx, tx, loan.ProviderID, loan.Principal)
		if err != nil {
			return err
		}

		change, err := loan.Transition(domain.LoanApproved, "approved by provider")
		if err != nil {
			return err
		}
		loan.Schedule = schedule.Installments
		loan.TotalInterest = schedule.TotalInterest
		loan.OutstandingBalance = loan.Principal.Add(schedule.TotalInterest)
		if err := tx.Loans().Update(ctx, loan); err != nil {
			return err
		}
		if err := tx.Loans().AppendStatus(ctx, change); err != nil {
			return err
		}

		p.logger.InfoContext(ctx, "Provider funds debited",
			slog.String("loan_id", loan.ID),
			slog.String("provider_id", loan.ProviderID),
			slog.String("amount", debit.Amount.StringFixed(2)),
			slog.String("balance", debit.CurrentBalance.StringFixed(2)))
		approved = &Approval{Loan: loan, Debit: debit}
		return nil
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Loan approval failed",
			slog.String("loan_id", loanID),
			slog.String("error", err.Error()))
		return nil, err
	}

	p.logger.InfoContext(ctx, "Loan approved",
		slog.String("loan_id", approved.ID),
		slog.String("outstanding", approved.OutstandingBalance.StringFixed(2)))
	return approved, nil
}

// Reject closes out a pending application without moving funds.
func (p *LoanLifecycle) Reject(ctx context.Context, loanID, reason string) (*domain.Loan, error) {
	if reason == "" {
		reason = "rejected by provider"
	}

	var rejected *domain.Loan
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		loan, err := tx.Loans().Get(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.CanTransition(domain.LoanRejected) {
			return stateError("reject", loan.Status, domain.LoanRejected)
		}

		change, err := loan.Transition(domain.LoanRejected, reason)
		if err != nil {
			return err
		}
		if err := tx.Loans().Update(ctx, loan); err != nil {
			return err
		}
		if err := tx.Loans().AppendStatus(ctx, change); err != nil {
			return err
		}
		rejected = loan
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "Loan rejected",
		slog.String("loan_id", rejected.ID),
		slog.String("reason", reason))
	return rejected, nil
}

// Approval is an approved loan together with the debit that funded it.
type Approval struct {
	*domain.Loan
	Debit domain.BalanceUpdate `json:"-"`
}

func stateError(op string, from, to domain.LoanStatus) error {
	return domain.NewError(domain.ErrInvalidState, op,
		domain.FieldError{Field: "status", Reason: "cannot move from " + string(from) + " to " + string(to)})
}
