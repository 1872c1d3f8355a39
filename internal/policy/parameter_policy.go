// Package policy owns the versioned loan parameter sets that bound new loans.
package policy

import (
	"context"
	"errors"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"log/slog"

	"github.com/shopspring/decimal"
)

type ParameterPolicy struct {
	store  repository.Store
	logger *slog.Logger
}

func NewParameterPolicy(store repository.Store, logger *slog.Logger) *ParameterPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParameterPolicy{store: store, logger: logger}
}

// Define validates params and makes them the active set. A rejected set
// leaves the previous active set in place.
func (p *ParameterPolicy) Define(ctx context.Context, params domain.LoanParameters) (*domain.LoanParameters, error) {
	if err := params.Validate(); err != nil {
		p.logger.WarnContext(ctx, "Rejected loan parameters",
			slog.String("defined_by", params.DefinedBy),
			slog.String("error", err.Error()))
		return nil, err
	}

	defined := params
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		defined = params
		return tx.Parameters().Activate(ctx, &defined)
	})
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "Loan parameters activated",
		slog.Int("version", defined.Version),
		slog.String("defined_by", defined.DefinedBy))
	return &defined, nil
}

func (p *ParameterPolicy) Active(ctx context.Context) (*domain.LoanParameters, error) {
	var active *domain.LoanParameters
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		active, err = ActiveIn(ctx, tx)
		return err
	})
	return active, err
}

// Validate checks an application against the active set and returns the
// set that governed the decision.
func (p *ParameterPolicy) Validate(ctx context.Context, amount, rate decimal.Decimal, months int) (*domain.LoanParameters, error) {
	active, err := p.Active(ctx)
	if err != nil {
		return nil, err
	}
	if err := Evaluate(active, amount, rate, months); err != nil {
		return nil, err
	}
	return active, nil
}

func (p *ParameterPolicy) History(ctx context.Context) ([]*domain.LoanParameters, error) {
	var all []*domain.LoanParameters
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		all, err = tx.Parameters().List(ctx)
		return err
	})
	return all, err
}

// ActiveIn reads the active set inside tx, translating a missing set into
// ErrPolicyNotConfigured.
func ActiveIn(ctx context.Context, tx repository.Tx) (*domain.LoanParameters, error) {
	active, err := tx.Parameters().Active(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NewError(domain.ErrPolicyNotConfigured, "active parameters",
			domain.FieldError{Field: "parameters", Reason: "no active parameter set"})
	}
	return active, err
}

// Evaluate is the pure bounds check. A nil set means nothing is configured.
func Evaluate(params *domain.LoanParameters, amount, rate decimal.Decimal, months int) error {
	if params == nil {
		return domain.NewError(domain.ErrPolicyNotConfigured, "evaluate",
			domain.FieldError{Field: "parameters", Reason: "no active parameter set"})
	}
	return params.Check(amount, rate, months)
}
