package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var maxRate = decimal.NewFromInt(100)

// LoanParameters bounds what new loans may look like. Only one version is
// active at a time; older versions stay for loans created under them.
type LoanParameters struct {
	Version           int             `json:"version"`
	MinAmount         decimal.Decimal `json:"min_amount"`
	MaxAmount         decimal.Decimal `json:"max_amount"`
	MinInterestRate   decimal.Decimal `json:"min_interest_rate"`
	MaxInterestRate   decimal.Decimal `json:"max_interest_rate"`
	MinDurationMonths int             `json:"min_duration_months"`
	MaxDurationMonths int             `json:"max_duration_months"`
	Active            bool            `json:"active"`
	DefinedBy         string          `json:"defined_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Validate reports every inconsistent bound at once.
func (p LoanParameters) Validate() error {
	var fields []FieldError

	if p.MinAmount.IsNegative() {
		fields = append(fields, FieldError{Field: "min_amount", Reason: "must not be negative"})
	}
	if p.MinAmount.GreaterThan(p.MaxAmount) {
		fields = append(fields, FieldError{Field: "min_amount", Reason: "must not exceed max_amount"})
	}
	if p.MinInterestRate.IsNegative() {
		fields = append(fields, FieldError{Field: "min_interest_rate", Reason: "must not be negative"})
	}
	if p.MaxInterestRate.GreaterThan(maxRate) {
		fields = append(fields, FieldError{Field: "max_interest_rate", Reason: "must not exceed 100"})
	}
	if p.MinInterestRate.GreaterThan(p.MaxInterestRate) {
		fields = append(fields, FieldError{Field: "min_interest_rate", Reason: "must not exceed max_interest_rate"})
	}
	if p.MinDurationMonths < 1 {
		fields = append(fields, FieldError{Field: "min_duration_months", Reason: "must be at least 1"})
	}
	if p.MinDurationMonths > p.MaxDurationMonths {
		fields = append(fields, FieldError{Field: "min_duration_months", Reason: "must not exceed max_duration_months"})
	}

	if len(fields) > 0 {
		return NewError(ErrInvalidParameters, "define parameters", fields...)
	}
	return nil
}

// Check evaluates one application against the bounds.
func (p LoanParameters) Check(amount, rate decimal.Decimal, months int) error {
	var fields []FieldError

	if amount.LessThan(p.MinAmount) {
		fields = append(fields, FieldError{Field: "amount", Reason: "below min_amount " + p.MinAmount.StringFixed(2)})
	}
	if amount.GreaterThan(p.MaxAmount) {
		fields = append(fields, FieldError{Field: "amount", Reason: "above max_amount " + p.MaxAmount.StringFixed(2)})
	}
	if rate.LessThan(p.MinInterestRate) {
		fields = append(fields, FieldError{Field: "interest_rate", Reason: "below min_interest_rate " + p.MinInterestRate.StringFixed(2)})
	}
	if rate.GreaterThan(p.MaxInterestRate) {
		fields = append(fields, FieldError{Field: "interest_rate", Reason: "above max_interest_rate " + p.MaxInterestRate.StringFixed(2)})
	}
	if months < p.MinDurationMonths {
		fields = append(fields, FieldError{Field: "duration_months", Reason: "below min_duration_months " + strconv.Itoa(p.MinDurationMonths)})
	}
	if months > p.MaxDurationMonths {
		fields = append(fields, FieldError{Field: "duration_months", Reason: "above max_duration_months " + strconv.Itoa(p.MaxDurationMonths)})
	}

	if len(fields) > 0 {
		return NewError(ErrOutOfBounds, "validate application", fields...)
	}
	return nil
}
