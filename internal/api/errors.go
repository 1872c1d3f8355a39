package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"loan_manager/pkg/crypto"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: a wrapped domain error matches both its code and its
// cause, and the outer code must win.
var errorMappings = []errorMapping{
	{crypto.ErrMissingToken, http.StatusUnauthorized, "UNAUTHORIZED"},
	{crypto.ErrExpiredToken, http.StatusUnauthorized, "TOKEN_EXPIRED"},
	{crypto.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED"},
	{repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{repository.ErrDuplicate, http.StatusConflict, "DUPLICATE"},
	{repository.ErrTransactionConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrPolicyViolation, http.StatusUnprocessableEntity, "POLICY_VIOLATION"},
	{domain.ErrPolicyNotConfigured, http.StatusUnprocessableEntity, "POLICY_NOT_CONFIGURED"},
	{domain.ErrInvalidParameters, http.StatusBadRequest, "INVALID_PARAMETERS"},
	{domain.ErrOutOfBounds, http.StatusUnprocessableEntity, "OUT_OF_BOUNDS"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{domain.ErrInvalidPrincipal, http.StatusBadRequest, "INVALID_PRINCIPAL"},
	{domain.ErrInvalidTerm, http.StatusBadRequest, "INVALID_TERM"},
	{domain.ErrInvalidRate, http.StatusBadRequest, "INVALID_RATE"},
	{domain.ErrInvalidDates, http.StatusBadRequest, "INVALID_DATES"},
	{domain.ErrInvalidAccount, http.StatusBadRequest, "INVALID_ACCOUNT"},
	{domain.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{domain.ErrLoanNotActive, http.StatusConflict, "LOAN_NOT_ACTIVE"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
	{domain.ErrOverPayment, http.StatusUnprocessableEntity, "OVER_PAYMENT"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "TIMEOUT"},
}

// statusFor maps err to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR"
}

func (h *APIHandler) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		h.sendError(w, "internal server error", status, code, nil)
		return
	}
	h.sendError(w, err.Error(), status, code, domain.FieldsOf(err))
}
