package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundsAccount holds the capital a provider has not yet committed to loans.
type FundsAccount struct {
	OwnerID        string          `json:"owner_id"`
	AvailableFunds decimal.Decimal `json:"available_funds"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// BalanceUpdate describes one applied debit or credit.
type BalanceUpdate struct {
	OwnerID         string
	Type            EntryType
	Amount          decimal.Decimal
	PreviousBalance decimal.Decimal
	CurrentBalance  decimal.Decimal
	Timestamp       time.Time
}

func NewFundsAccount(ownerID string, initial decimal.Decimal) *FundsAccount {
	now := time.Now().UTC()
	return &FundsAccount{
		OwnerID:        ownerID,
		AvailableFunds: initial,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Debit returns the account after removing amount. The receiver is not modified.
func (a FundsAccount) Debit(amount decimal.Decimal) (FundsAccount, error) {
	if !amount.IsPositive() {
		return FundsAccount{}, NewError(ErrInvalidAmount, "debit",
			FieldError{Field: "amount", Reason: "must be greater than zero"})
	}
	if amount.GreaterThan(a.AvailableFunds) {
		return FundsAccount{}, NewError(ErrInsufficientFunds, "debit",
			FieldError{Field: "available_funds", Reason: "is " + a.AvailableFunds.StringFixed(2) + ", need " + amount.StringFixed(2)})
	}
	a.AvailableFunds = a.AvailableFunds.Sub(amount)
	a.LastActivityAt = time.Now().UTC()
	return a, nil
}

// Credit returns the account after adding amount. The receiver is not modified.
func (a FundsAccount) Credit(amount decimal.Decimal) (FundsAccount, error) {
	if !amount.IsPositive() {
		return FundsAccount{}, NewError(ErrInvalidAmount, "credit",
			FieldError{Field: "amount", Reason: "must be greater than zero"})
	}
	a.AvailableFunds = a.AvailableFunds.Add(amount)
	a.LastActivityAt = time.Now().UTC()
	return a, nil
}
