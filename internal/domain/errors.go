package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups domain failures by who can correct them.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindState          Kind = "state"
	KindResource       Kind = "resource"
	KindInfrastructure Kind = "infrastructure"
)

var (
	ErrInvalidParameters   = errors.New("invalid loan parameters")
	ErrOutOfBounds         = errors.New("value out of policy bounds")
	ErrPolicyNotConfigured = errors.New("loan parameters not configured")
	ErrPolicyViolation     = errors.New("loan application violates policy")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidPrincipal    = errors.New("invalid principal")
	ErrInvalidTerm         = errors.New("invalid term")
	ErrInvalidRate         = errors.New("invalid interest rate")
	ErrInvalidDates        = errors.New("invalid loan dates")
	ErrInvalidAccount      = errors.New("invalid funds account")

	ErrInvalidState  = errors.New("invalid loan state")
	ErrLoanNotActive = errors.New("loan not active")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverPayment       = errors.New("payment exceeds outstanding balance")
)

var kinds = map[error]Kind{
	ErrInvalidParameters:   KindValidation,
	ErrOutOfBounds:         KindValidation,
	ErrPolicyNotConfigured: KindValidation,
	ErrPolicyViolation:     KindValidation,
	ErrInvalidAmount:       KindValidation,
	ErrInvalidPrincipal:    KindValidation,
	ErrInvalidTerm:         KindValidation,
	ErrInvalidRate:         KindValidation,
	ErrInvalidDates:        KindValidation,
	ErrInvalidAccount:      KindValidation,
	ErrInvalidState:        KindState,
	ErrLoanNotActive:       KindState,
	ErrInsufficientFunds:   KindResource,
	ErrOverPayment:         KindResource,
}

// FieldError names one failed check.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error is a typed domain failure. Code is one of the sentinels above and
// Cause, when set, is a more specific domain error it was raised from.
type Error struct {
	Code   error
	Op     string
	Fields []FieldError
	Cause  error
}

func NewError(code error, op string, fields ...FieldError) *Error {
	return &Error{Code: code, Op: op, Fields: fields}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Code.Error())
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, fmt.Sprintf("%s %s", f.Field, f.Reason))
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Cause}
}

// Kind reports the taxonomy group of the error code.
func (e *Error) Kind() Kind {
	if k, ok := kinds[e.Code]; ok {
		return k
	}
	return KindInfrastructure
}

// Wrap raises code on top of a more specific domain error, keeping its fields.
func Wrap(code error, op string, cause error) *Error {
	e := &Error{Code: code, Op: op, Cause: cause}
	var inner *Error
	if errors.As(cause, &inner) {
		e.Fields = inner.Fields
	}
	return e
}

// KindOf classifies err. Errors that carry no domain code are infrastructure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind()
	}
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindInfrastructure
}

// FieldsOf returns the failed checks carried by err, if any.
func FieldsOf(err error) []FieldError {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
