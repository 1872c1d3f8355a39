package validator

import (
	"loan_manager/internal/domain"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var maxRate = decimal.NewFromInt(100)

// LoanValidator checks the shape of incoming requests before any policy or
// state is consulted.
type LoanValidator struct {
	idRegex *regexp.Regexp
}

func NewLoanValidator() *LoanValidator {
	return &LoanValidator{
		idRegex: regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`),
	}
}

// ValidateApplication reports every malformed field of app. The error code
// is taken from the first failed check.
func (v *LoanValidator) ValidateApplication(app domain.LoanApplication) error {
	var (
		code   error
		fields []domain.FieldError
	)
	fail := func(c error, field, reason string) {
		if code == nil {
			code = c
		}
		fields = append(fields, domain.FieldError{Field: field, Reason: reason})
	}

	if !v.idRegex.MatchString(app.CustomerID) {
		fail(domain.ErrInvalidAccount, "customer_id", "is missing or malformed")
	}
	if !v.idRegex.MatchString(app.ProviderID) {
		fail(domain.ErrInvalidAccount, "provider_id", "is missing or malformed")
	}
	if !app.Amount.IsPositive() {
		fail(domain.ErrInvalidPrincipal, "amount", "must be greater than zero")
	} else if app.Amount.Exponent() < -2 {
		fail(domain.ErrInvalidPrincipal, "amount", "must have at most 2 decimal places")
	}
	if app.InterestRate.IsNegative() || app.InterestRate.GreaterThan(maxRate) {
		fail(domain.ErrInvalidRate, "interest_rate", "must be between 0 and 100")
	}
	if app.StartDate.IsZero() {
		fail(domain.ErrInvalidDates, "start_date", "is required")
	}
	if app.EndDate.IsZero() {
		fail(domain.ErrInvalidDates, "end_date", "is required")
	}
	if !app.StartDate.IsZero() && !app.EndDate.IsZero() && !domain.DateOf(app.EndDate).After(domain.DateOf(app.StartDate)) {
		fail(domain.ErrInvalidDates, "end_date", "must be after start_date")
	}

	if code != nil {
		return domain.NewError(code, "validate application", fields...)
	}
	return nil
}

func (v *LoanValidator) ValidatePayment(amount decimal.Decimal, date time.Time) error {
	if !amount.IsPositive() {
		return domain.NewError(domain.ErrInvalidAmount, "validate payment",
			domain.FieldError{Field: "amount", Reason: "must be greater than zero"})
	}
	if amount.Exponent() < -2 {
		return domain.NewError(domain.ErrInvalidAmount, "validate payment",
			domain.FieldError{Field: "amount", Reason: "must have at most 2 decimal places"})
	}
	if date.IsZero() {
		return domain.NewError(domain.ErrInvalidDates, "validate payment",
			domain.FieldError{Field: "date", Reason: "is required"})
	}
	return nil
}

func (v *LoanValidator) ValidateID(id string) bool {
	return v.idRegex.MatchString(id)
}
