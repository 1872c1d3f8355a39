package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validParameters() LoanParameters {
	return LoanParameters{
		MinAmount:         decimal.NewFromInt(100),
		MaxAmount:         decimal.NewFromInt(10000),
		MinInterestRate:   decimal.NewFromInt(1),
		MaxInterestRate:   decimal.NewFromInt(20),
		MinDurationMonths: 6,
		MaxDurationMonths: 60,
	}
}

func TestLoanParameters_Validate(t *testing.T) {
	if err := validParameters().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := validParameters()
	p.MinAmount = decimal.NewFromInt(20000)
	p.MaxInterestRate = decimal.NewFromInt(101)
	p.MinDurationMonths = 0

	err := p.Validate()
	if !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
	if got := len(FieldsOf(err)); got != 3 {
		t.Errorf("expected 3 failed fields, got %d: %v", got, FieldsOf(err))
	}
}

func TestLoanParameters_CheckBoundsInclusive(t *testing.T) {
	p := validParameters()

	if err := p.Check(decimal.NewFromInt(100), decimal.NewFromInt(20), 60); err != nil {
		t.Errorf("expected bounds to be inclusive, got %v", err)
	}
	if err := p.Check(decimal.NewFromInt(10000), decimal.NewFromInt(1), 6); err != nil {
		t.Errorf("expected bounds to be inclusive, got %v", err)
	}
}

func TestLoanParameters_CheckReportsEveryField(t *testing.T) {
	p := validParameters()

	err := p.Check(decimal.RequireFromString("99.99"), decimal.NewFromInt(25), 3)

	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	fields := FieldsOf(err)
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %v", fields)
	}
	for i, want := range []string{"amount", "interest_rate", "duration_months"} {
		if fields[i].Field != want {
			t.Errorf("field %d: expected %s, got %s", i, want, fields[i].Field)
		}
	}
}
