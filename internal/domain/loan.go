package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanPending  LoanStatus = "pending"
	LoanApproved LoanStatus = "approved"
	LoanRejected LoanStatus = "rejected"
	LoanClosed   LoanStatus = "closed"
)

var transitions = map[LoanStatus][]LoanStatus{
	LoanPending:  {LoanApproved, LoanRejected},
	LoanApproved: {LoanClosed},
}

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanPending, LoanApproved, LoanRejected, LoanClosed:
		return true
	}
	return false
}

// CanTransition reports whether a loan in status s may move to next.
func (s LoanStatus) CanTransition(next LoanStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Loan struct {
	ID                 string          `json:"id"`
	ProviderID         string          `json:"provider_id"`
	CustomerID         string          `json:"customer_id"`
	Principal          decimal.Decimal `json:"principal"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
	TermMonths         int             `json:"term_months"`
	Status             LoanStatus      `json:"status"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	TotalInterest      decimal.Decimal `json:"total_interest"`
	Schedule           []Installment   `json:"schedule,omitempty"`
	ParametersVersion  int             `json:"parameters_version"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Installment is one line of an amortization schedule.
type Installment struct {
	Sequence           int             `json:"sequence"`
	DueDate            time.Time       `json:"due_date"`
	PaymentAmount      decimal.Decimal `json:"payment_amount"`
	PrincipalComponent decimal.Decimal `json:"principal_component"`
	InterestComponent  decimal.Decimal `json:"interest_component"`
	RemainingBalance   decimal.Decimal `json:"remaining_balance"`
}

type Payment struct {
	ID        string          `json:"id"`
	LoanID    string          `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatusChange is one entry of a loan's append-only status history.
type StatusChange struct {
	LoanID string     `json:"loan_id"`
	From   LoanStatus `json:"from,omitempty"`
	To     LoanStatus `json:"to"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

type LoanApplication struct {
	CustomerID   string
	ProviderID   string
	Amount       decimal.Decimal
	InterestRate decimal.Decimal
	StartDate    time.Time
	EndDate      time.Time
}

func NewLoan(app LoanApplication, termMonths, parametersVersion int) *Loan {
	now := time.Now().UTC()
	return &Loan{
		ID:                 uuid.NewString(),
		ProviderID:         app.ProviderID,
		CustomerID:         app.CustomerID,
		Principal:          app.Amount,
		InterestRate:       app.InterestRate,
		StartDate:          DateOf(app.StartDate),
		EndDate:            DateOf(app.EndDate),
		TermMonths:         termMonths,
		Status:             LoanPending,
		OutstandingBalance: decimal.Zero,
		TotalInterest:      decimal.Zero,
		ParametersVersion:  parametersVersion,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func NewPayment(loanID string, amount decimal.Decimal, date time.Time) *Payment {
	return &Payment{
		ID:        uuid.NewString(),
		LoanID:    loanID,
		Amount:    amount,
		Date:      DateOf(date),
		CreatedAt: time.Now().UTC(),
	}
}

// Transition moves the loan to next and returns the history entry for it.
func (l *Loan) Transition(next LoanStatus, reason string) (StatusChange, error) {
	if !l.Status.CanTransition(next) {
		return StatusChange{}, NewError(ErrInvalidState, "transition",
			FieldError{Field: "status", Reason: "cannot move from " + string(l.Status) + " to " + string(next)})
	}
	change := StatusChange{
		LoanID: l.ID,
		From:   l.Status,
		To:     next,
		Reason: reason,
		At:     time.Now().UTC(),
	}
	l.Status = next
	l.UpdatedAt = change.At
	return change, nil
}

// Clone returns a deep copy so stores never share schedule slices with callers.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	c := *l
	if l.Schedule != nil {
		c.Schedule = make([]Installment, len(l.Schedule))
		copy(c.Schedule, l.Schedule)
	}
	return &c
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthsBetween counts the whole months from start to end.
func MonthsBetween(start, end time.Time) int {
	start, end = DateOf(start), DateOf(end)
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() && end.Day() != daysIn(end.Year(), end.Month()) {
		months--
	}
	return months
}

// AddMonths adds n months to t, clamping to the last day of shorter months.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
