package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"loan_manager/internal/service"
	"loan_manager/pkg/crypto"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type APIHandler struct {
	loans          *service.LoanService
	signer         *crypto.TokenSigner
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	loans *service.LoanService,
	signer *crypto.TokenSigner,
	requestTimeout time.Duration,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return &APIHandler{
		loans:          loans,
		signer:         signer,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

type DefineParametersRequest struct {
	MinAmount         decimal.Decimal `json:"min_amount"`
	MaxAmount         decimal.Decimal `json:"max_amount"`
	MinInterestRate   decimal.Decimal `json:"min_interest_rate"`
	MaxInterestRate   decimal.Decimal `json:"max_interest_rate"`
	MinDurationMonths int             `json:"min_duration_months"`
	MaxDurationMonths int             `json:"max_duration_months"`
}

type ApplyForLoanRequest struct {
	ProviderID   string          `json:"provider_id"`
	Amount       decimal.Decimal `json:"amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	StartDate    string          `json:"start_date"`
	EndDate      string          `json:"end_date"`
}

type RejectLoanRequest struct {
	Reason string `json:"reason,omitempty"`
}

type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date,omitempty"`
}

type OpenFundsRequest struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type FundsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BalanceResponse struct {
	OwnerID         string           `json:"owner_id"`
	Type            domain.EntryType `json:"type"`
	Amount          decimal.Decimal  `json:"amount"`
	PreviousBalance decimal.Decimal  `json:"previous_balance"`
	AvailableFunds  decimal.Decimal  `json:"available_funds"`
}

type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    string              `json:"code,omitempty"`
	Details string              `json:"details,omitempty"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

type authedHandler func(w http.ResponseWriter, r *http.Request, p domain.Principal)

// authenticated verifies the bearer token, checks the capability and runs
// next under the request timeout.
func (h *APIHandler) authenticated(capability domain.Capability, next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.signer.Verify(crypto.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			h.sendFailure(w, r, err)
			return
		}
		if !p.Can(capability) {
			h.sendError(w, "role "+string(p.Role)+" may not "+string(capability), http.StatusForbidden, "FORBIDDEN", nil)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()
		next(w, r.WithContext(ctx), p)
	}
}

// ownedLoan loads the loan named in the path and checks the caller is a
// party to it.
func (h *APIHandler) ownedLoan(w http.ResponseWriter, r *http.Request, p domain.Principal) (*domain.Loan, bool) {
	loan, err := h.loans.GetLoan(r.Context(), r.PathValue("id"))
	if err != nil {
		h.sendFailure(w, r, err)
		return nil, false
	}
	if !p.Owns(loan) {
		h.sendError(w, "loan belongs to another party", http.StatusForbidden, "FORBIDDEN", nil)
		return nil, false
	}
	return loan, true
}

func (h *APIHandler) DefineParametersHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req DefineParametersRequest
	if !h.decode(w, r, &req) {
		return
	}

	params, err := h.loans.DefineParameters(r.Context(), domain.LoanParameters{
		MinAmount:         req.MinAmount,
		MaxAmount:         req.MaxAmount,
		MinInterestRate:   req.MinInterestRate,
		MaxInterestRate:   req.MaxInterestRate,
		MinDurationMonths: req.MinDurationMonths,
		MaxDurationMonths: req.MaxDurationMonths,
		DefinedBy:         p.UserID,
	})
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Loan parameters defined",
		slog.Int("version", params.Version),
		slog.String("user_id", p.UserID))
	h.sendJSON(w, params, http.StatusCreated)
}

func (h *APIHandler) ActiveParametersHandler(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	params, err := h.loans.ActiveParameters(r.Context())
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, params, http.StatusOK)
}

func (h *APIHandler) ParameterHistoryHandler(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	history, err := h.loans.ParameterHistory(r.Context())
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, history, http.StatusOK)
}

func (h *APIHandler) ApplyForLoanHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req ApplyForLoanRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	loan, err := h.loans.ApplyForLoan(r.Context(), domain.LoanApplication{
		CustomerID:   p.SubjectID,
		ProviderID:   req.ProviderID,
		Amount:       req.Amount,
		InterestRate: req.InterestRate,
		StartDate:    start,
		EndDate:      end,
	})
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	h.sendJSON(w, loan, http.StatusCreated)
}

// ListLoansHandler scopes customers and providers to their own loans.
// Personnel may filter by any party.
func (h *APIHandler) ListLoansHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	q := r.URL.Query()
	filter := repository.LoanFilter{
		CustomerID: q.Get("customer_id"),
		ProviderID: q.Get("provider_id"),
		Status:     domain.LoanStatus(q.Get("status")),
	}
	switch p.Role {
	case domain.RoleCustomer:
		filter.CustomerID = p.SubjectID
	case domain.RoleProvider:
		filter.ProviderID = p.SubjectID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.sendError(w, "unknown status "+string(filter.Status), http.StatusBadRequest, "INVALID_REQUEST", nil)
		return
	}

	var ok bool
	if filter.Limit, ok = h.queryInt(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = h.queryInt(w, r, "offset"); !ok {
		return
	}

	loans, err := h.loans.ListLoans(r.Context(), filter)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, loans, http.StatusOK)
}

func (h *APIHandler) GetLoanHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	loan, ok := h.ownedLoan(w, r, p)
	if !ok {
		return
	}
	h.sendJSON(w, loan, http.StatusOK)
}

func (h *APIHandler) ApproveLoanHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	loan, ok := h.ownedLoan(w, r, p)
	if !ok {
		return
	}

	approval, err := h.loans.ApproveLoan(r.Context(), loan.ID)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	h.sendJSON(w, approval, http.StatusOK)
}

func (h *APIHandler) RejectLoanHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req RejectLoanRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	loan, ok := h.ownedLoan(w, r, p)
	if !ok {
		return
	}

	rejected, err := h.loans.RejectLoan(r.Context(), loan.ID, req.Reason)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, rejected, http.StatusOK)
}

func (h *APIHandler) MakePaymentHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	date := domain.DateOf(time.Now())
	if req.PaymentDate != "" {
		var err error
		if date, err = parseDate("payment_date", req.PaymentDate); err != nil {
			h.sendFailure(w, r, err)
			return
		}
	}
	loan, ok := h.ownedLoan(w, r, p)
	if !ok {
		return
	}

	result, err := h.loans.MakePayment(r.Context(), loan.ID, req.Amount, date)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}

	h.sendJSON(w, result, http.StatusCreated)
}

func (h *APIHandler) ListPaymentsHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	loan, ok := h.ownedLoan(w, r, p)
	if !ok {
		return
	}
	payments, err := h.loans.ListPayments(r.Context(), loan.ID)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, payments, http.StatusOK)
}

func (h *APIHandler) ScheduleHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	loan, ok := h.ownedLoan(w, r, p)
	if !ok {
		return
	}
	schedule, err := h.loans.GetAmortizationSchedule(r.Context(), loan.ID)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, schedule, http.StatusOK)
}

func (h *APIHandler) LoanHistoryHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	loan, ok := h.ownedLoan(w, r, p)
	if !ok {
		return
	}
	history, err := h.loans.LoanHistory(r.Context(), loan.ID)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, history, http.StatusOK)
}

func (h *APIHandler) OpenFundsHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	var req OpenFundsRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	account, err := h.loans.OpenFundsAccount(r.Context(), p.SubjectID, req.InitialBalance)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, account, http.StatusCreated)
}

func (h *APIHandler) DepositFundsHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	h.moveFunds(w, r, p, h.loans.DepositFunds)
}

func (h *APIHandler) WithdrawFundsHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	h.moveFunds(w, r, p, h.loans.WithdrawFunds)
}

func (h *APIHandler) moveFunds(
	w http.ResponseWriter,
	r *http.Request,
	p domain.Principal,
	move func(ctx context.Context, providerID string, amount decimal.Decimal) (domain.BalanceUpdate, error),
) {
	var req FundsRequest
	if !h.decode(w, r, &req) {
		return
	}
	update, err := move(r.Context(), p.SubjectID, req.Amount)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, BalanceResponse{
		OwnerID:         update.OwnerID,
		Type:            update.Type,
		Amount:          update.Amount,
		PreviousBalance: update.PreviousBalance,
		AvailableFunds:  update.CurrentBalance,
	}, http.StatusOK)
}

func (h *APIHandler) FundsBalanceHandler(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	account, err := h.loans.FundsBalance(r.Context(), p.SubjectID)
	if err != nil {
		h.sendFailure(w, r, err)
		return
	}
	h.sendJSON(w, account, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST", nil)
		return false
	}
	return true
}

// decodeOptional accepts an empty body and leaves dst untouched.
func (h *APIHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST", nil)
		return false
	}
	return true
}

func (h *APIHandler) queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		h.sendError(w, name+" must be a non-negative integer", http.StatusBadRequest, "INVALID_REQUEST", nil)
		return 0, false
	}
	return n, true
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, domain.NewError(domain.ErrInvalidDates, "parse request",
			domain.FieldError{Field: field, Reason: "must be a YYYY-MM-DD date"})
	}
	return t, nil
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string, fields []domain.FieldError) {
	errorResponse := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    code,
		Details: message,
		Fields:  fields,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/parameters", h.authenticated(domain.CapDefineParameters, h.DefineParametersHandler))
	mux.HandleFunc("GET /api/v1/parameters", h.authenticated(domain.CapViewLoans, h.ActiveParametersHandler))
	mux.HandleFunc("GET /api/v1/parameters/history", h.authenticated(domain.CapViewLoans, h.ParameterHistoryHandler))

	mux.HandleFunc("POST /api/v1/loans", h.authenticated(domain.CapApplyForLoan, h.ApplyForLoanHandler))
	mux.HandleFunc("GET /api/v1/loans", h.authenticated(domain.CapViewLoans, h.ListLoansHandler))
	mux.HandleFunc("GET /api/v1/loans/{id}", h.authenticated(domain.CapViewLoans, h.GetLoanHandler))
	mux.HandleFunc("POST /api/v1/loans/{id}/approve", h.authenticated(domain.CapDecideLoan, h.ApproveLoanHandler))
	mux.HandleFunc("POST /api/v1/loans/{id}/reject", h.authenticated(domain.CapDecideLoan, h.RejectLoanHandler))
	mux.HandleFunc("POST /api/v1/loans/{id}/payments", h.authenticated(domain.CapMakePayment, h.MakePaymentHandler))
	mux.HandleFunc("GET /api/v1/loans/{id}/payments", h.authenticated(domain.CapViewLoans, h.ListPaymentsHandler))
	mux.HandleFunc("GET /api/v1/loans/{id}/schedule", h.authenticated(domain.CapViewLoans, h.ScheduleHandler))
	mux.HandleFunc("GET /api/v1/loans/{id}/history", h.authenticated(domain.CapViewLoans, h.LoanHistoryHandler))

	mux.HandleFunc("POST /api/v1/funds", h.authenticated(domain.CapManageFunds, h.OpenFundsHandler))
	mux.HandleFunc("POST /api/v1/funds/deposit", h.authenticated(domain.CapManageFunds, h.DepositFundsHandler))
	mux.HandleFunc("POST /api/v1/funds/withdraw", h.authenticated(domain.CapManageFunds, h.WithdrawFundsHandler))
	mux.HandleFunc("GET /api/v1/funds", h.authenticated(domain.CapManageFunds, h.FundsBalanceHandler))

	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
}
