package processor

import (
	"context"
	"loan_manager/internal/domain"
	"loan_manager/internal/ledger"
	"loan_manager/internal/repository"
	"loan_manager/pkg/validator"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentResult struct {
	Payment    *domain.Payment `json:"payment"`
	Requested  decimal.Decimal `json:"requested"`
	Applied    decimal.Decimal `json:"applied"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Closed     bool            `json:"closed"`

	CustomerID    string          `json:"-"`
	ProviderID    string          `json:"-"`
	ProviderFunds decimal.Decimal `json:"-"`
}

type PaymentProcessor struct {
	store     repository.Store
	policy    domain.OverPaymentPolicy
	validator *validator.LoanValidator
	logger    *slog.Logger
}

func NewPaymentProcessor(store repository.Store, policy domain.OverPaymentPolicy, logger *slog.Logger) *PaymentProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = domain.OverPaymentReject
	}
	return &PaymentProcessor{
		store:     store,
		policy:    policy,
		validator: validator.NewLoanValidator(),
		logger:    logger,
	}
}

// ApplyPayment records a payment, reduces the balance, credits the provider
// and closes the loan when nothing is left owing, all in one transaction.
func (p *PaymentProcessor) ApplyPayment(ctx context.Context, loanID string, amount decimal.Decimal, date time.Time) (PaymentResult, error) {
	p.logger.InfoContext(ctx, "Processing payment",
		slog.String("loan_id", loanID),
		slog.String("amount", amount.StringFixed(2)))

	var result PaymentResult
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		loan, err := tx.Loans().Get(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != domain.LoanApproved {
			return domain.NewError(domain.ErrLoanNotActive, "apply payment",
				domain.FieldError{Field: "status", Reason: "loan is " + string(loan.Status)})
		}
		if err := p.validator.ValidatePayment(amount, date); err != nil {
			return err
		}

		applied := amount
		if amount.GreaterThan(loan.OutstandingBalance) {
			if p.policy != domain.OverPaymentCap {
				return domain.NewError(domain.ErrOverPayment, "apply payment",
					domain.FieldError{Field: "amount", Reason: "exceeds outstanding balance " + loan.OutstandingBalance.StringFixed(2)})
			}
			applied = loan.OutstandingBalance
		}

		payment := domain.NewPayment(loan.ID, applied, date)
		if err := tx.Payments().Create(ctx, payment); err != nil {
			return err
		}

		loan.OutstandingBalance = loan.OutstandingBalance.Sub(applied)
		var change *domain.StatusChange
		if loan.OutstandingBalance.IsZero() {
			c, err := loan.Transition(domain.LoanClosed, "paid in full")
			if err != nil {
				return err
			}
			change = &c
		}
		if err := tx.Loans().Update(ctx, loan); err != nil {
			return err
		}
		if change != nil {
			if err := tx.Loans().AppendStatus(ctx, *change); err != nil {
				return err
			}
		}

		credit, err := ledger.Credit(ctx, tx, loan.ProviderID, applied)
		if err != nil {
			return err
		}

		result = PaymentResult{
			Payment:       payment,
			Requested:     amount,
			Applied:       applied,
			NewBalance:    loan.OutstandingBalance,
			Closed:        change != nil,
			CustomerID:    loan.CustomerID,
			ProviderID:    loan.ProviderID,
			ProviderFunds: credit.CurrentBalance,
		}
		return nil
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Payment rejected",
			slog.String("loan_id", loanID),
			slog.String("error", err.Error()))
		return PaymentResult{}, err
	}

	p.logger.InfoContext(ctx, "Payment applied",
		slog.String("loan_id", loanID),
		slog.String("applied", result.Applied.StringFixed(2)),
		slog.String("balance", result.NewBalance.StringFixed(2)),
		slog.Bool("closed", result.Closed))
	return result, nil
}
