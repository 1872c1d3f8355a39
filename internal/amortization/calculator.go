// Package amortization computes fixed-payment (annuity) schedules.
package amortization

import (
	"loan_manager/internal/domain"
	"time"

	"github.com/shopspring/decimal"
)

// workingPlaces bounds intermediate precision; money is rounded to cents.
const (
	workingPlaces = 28
	centPlaces    = 2
)

var (
	hundred       = decimal.NewFromInt(100)
	monthsPerYear = decimal.NewFromInt(12)
)

type Schedule struct {
	Installments  []domain.Installment `json:"installments"`
	Payment       decimal.Decimal      `json:"payment"`
	TotalInterest decimal.Decimal      `json:"total_interest"`
	TotalPayable  decimal.Decimal      `json:"total_payable"`
}

// Compute builds termMonths installments for principal at annualRatePct.
// Interest is charged on the remaining balance each month and the last
// installment takes whatever principal is left, so principal components
// always add up to principal exactly.
func Compute(principal, annualRatePct decimal.Decimal, termMonths int, start time.Time) (Schedule, error) {
	if termMonths <= 0 {
		return Schedule{}, domain.NewError(domain.ErrInvalidTerm, "compute schedule",
			domain.FieldError{Field: "term_months", Reason: "must be greater than zero"})
	}
	if !principal.IsPositive() {
		return Schedule{}, domain.NewError(domain.ErrInvalidPrincipal, "compute schedule",
			domain.FieldError{Field: "principal", Reason: "must be greater than zero"})
	}
	if annualRatePct.IsNegative() || annualRatePct.GreaterThan(hundred) {
		return Schedule{}, domain.NewError(domain.ErrInvalidRate, "compute schedule",
			domain.FieldError{Field: "interest_rate", Reason: "must be between 0 and 100"})
	}

	rate := MonthlyRate(annualRatePct)
	payment := Payment(principal, rate, termMonths)
	start = domain.DateOf(start)

	s := Schedule{
		Installments:  make([]domain.Installment, 0, termMonths),
		Payment:       payment,
		TotalInterest: decimal.Zero,
		TotalPayable:  decimal.Zero,
	}
	balance := principal
	for i := 1; i <= termMonths; i++ {
		interest := balance.Mul(rate).Round(centPlaces)
		part := payment.Sub(interest)
		if i == termMonths || part.GreaterThan(balance) {
			part = balance
		}
		if part.IsNegative() {
			part = decimal.Zero
		}
		balance = balance.Sub(part)

		inst := domain.Installment{
			Sequence:           i,
			DueDate:            domain.AddMonths(start, i),
			PaymentAmount:      part.Add(interest),
			PrincipalComponent: part,
			InterestComponent:  interest,
			RemainingBalance:   balance,
		}
		s.Installments = append(s.Installments, inst)
		s.TotalInterest = s.TotalInterest.Add(interest)
		s.TotalPayable = s.TotalPayable.Add(inst.PaymentAmount)
	}
	return s, nil
}

// MonthlyRate converts an annual percentage into a monthly fraction.
func MonthlyRate(annualRatePct decimal.Decimal) decimal.Decimal {
	return annualRatePct.DivRound(hundred.Mul(monthsPerYear), workingPlaces)
}

// Payment is the rounded fixed monthly payment; a zero rate splits the
// principal evenly.
func Payment(principal, monthlyRate decimal.Decimal, termMonths int) decimal.Decimal {
	n := decimal.NewFromInt(int64(termMonths))
	if monthlyRate.IsZero() {
		return principal.DivRound(n, centPlaces)
	}
	growth := pow(decimal.NewFromInt(1).Add(monthlyRate), termMonths)
	return principal.Mul(monthlyRate).Mul(growth).
		DivRound(growth.Sub(decimal.NewFromInt(1)), workingPlaces).
		Round(centPlaces)
}

// pow raises base to a non-negative integer power by squaring.
func pow(base decimal.Decimal, exp int) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base).Round(workingPlaces)
		}
		base = base.Mul(base).Round(workingPlaces)
		exp >>= 1
	}
	return result
}
