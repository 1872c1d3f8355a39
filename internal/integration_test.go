package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"loan_manager/internal/api"
	"loan_manager/internal/domain"
	"loan_manager/internal/repository"
	"loan_manager/internal/repository/cache"
	"loan_manager/internal/repository/memory"
	"loan_manager/internal/repository/sqlite"
	"loan_manager/internal/service"
	"loan_manager/pkg/crypto"
	"loan_manager/pkg/metrics"

	"github.com/shopspring/decimal"
)

type testEnv struct {
	server        *httptest.Server
	signer        *crypto.TokenSigner
	notifications *service.NotificationService
	email         *service.MockEmailService
	logger        *slog.Logger
}

type storeFactory func(t *testing.T) repository.Store

var stores = map[string]storeFactory{
	"memory": func(t *testing.T) repository.Store { return memory.NewStore() },
	"sqlite": func(t *testing.T) repository.Store {
		s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "loans.db"))
		if err != nil {
			t.Fatalf("open sqlite failed: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

func setup(t *testing.T, newStore storeFactory) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	metricsCollector := metrics.NewMetricsCollector(logger)
	email := &service.MockEmailService{}
	notifications := service.NewNotificationService(email, &service.MockSMSService{}, metricsCollector, 2, 100, logger)
	loans := service.NewLoanService(
		newStore(t),
		cache.NewMemoryCache(),
		metricsCollector,
		notifications,
		domain.OverPaymentReject,
		logger,
	)
	signer := crypto.NewTokenSigner("test-secret", time.Hour, logger)
	handler := api.NewAPIHandler(loans, signer, 5*time.Second, logger)
	limiter := api.NewRateLimiter(1000, time.Minute)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	server := httptest.NewServer(handler.RateLimitMiddleware(limiter, mux))
	t.Cleanup(func() {
		server.Close()
		limiter.Stop()
		_ = notifications.Shutdown(context.Background())
	})

	return &testEnv{
		server:        server,
		signer:        signer,
		notifications: notifications,
		email:         email,
		logger:        logger,
	}
}

func (env *testEnv) token(t *testing.T, role domain.Role, subject string) string {
	t.Helper()
	token, err := env.signer.Issue(domain.Principal{UserID: "user-" + subject, Role: role, SubjectID: subject})
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	return token
}

// call sends body as JSON and decodes a 2xx response into out.
func (env *testEnv) call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response failed: %v", err)
		}
	}
	return resp.StatusCode
}

func (env *testEnv) prepare(t *testing.T) {
	t.Helper()
	code := env.call(t, http.MethodPost, "/api/v1/parameters", env.token(t, domain.RolePersonnel, "bp1"), api.DefineParametersRequest{
		MinAmount:         decimal.NewFromInt(100),
		MaxAmount:         decimal.NewFromInt(10000),
		MinInterestRate:   decimal.Zero,
		MaxInterestRate:   decimal.NewFromInt(20),
		MinDurationMonths: 6,
		MaxDurationMonths: 60,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("define parameters: expected 201, got %d", code)
	}
	code = env.call(t, http.MethodPost, "/api/v1/funds", env.token(t, domain.RoleProvider, "p1"),
		api.OpenFundsRequest{InitialBalance: decimal.NewFromInt(1000)}, nil)
	if code != http.StatusCreated {
		t.Fatalf("open funds: expected 201, got %d", code)
	}
}

func (env *testEnv) apply(t *testing.T, amount string) domain.Loan {
	t.Helper()
	var loan domain.Loan
	code := env.call(t, http.MethodPost, "/api/v1/loans", env.token(t, domain.RoleCustomer, "c1"), api.ApplyForLoanRequest{
		ProviderID:   "p1",
		Amount:       decimal.RequireFromString(amount),
		InterestRate: decimal.RequireFromString("5.00"),
		StartDate:    "2025-01-01",
		EndDate:      "2026-01-01",
	}, &loan)
	if code != http.StatusCreated {
		t.Fatalf("apply: expected 201, got %d", code)
	}
	return loan
}

func (env *testEnv) funds(t *testing.T) decimal.Decimal {
	t.Helper()
	var account domain.FundsAccount
	if code := env.call(t, http.MethodGet, "/api/v1/funds", env.token(t, domain.RoleProvider, "p1"), nil, &account); code != http.StatusOK {
		t.Fatalf("funds: expected 200, got %d", code)
	}
	return account.AvailableFunds
}

func TestIntegration_LoanLifecycle(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			env := setup(t, newStore)
			env.prepare(t)
			provider := env.token(t, domain.RoleProvider, "p1")
			customer := env.token(t, domain.RoleCustomer, "c1")

			loan := env.apply(t, "500.00")
			if loan.Status != domain.LoanPending {
				t.Fatalf("expected pending loan, got %s", loan.Status)
			}

			var approved domain.Loan
			if code := env.call(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/approve", provider, nil, &approved); code != http.StatusOK {
				t.Fatalf("approve: expected 200, got %d", code)
			}
			if !approved.OutstandingBalance.Equal(decimal.RequireFromString("513.63")) {
				t.Fatalf("expected outstanding 513.63, got %s", approved.OutstandingBalance)
			}
			if got := env.funds(t); !got.Equal(decimal.NewFromInt(500)) {
				t.Fatalf("expected provider funds 500 after approval, got %s", got)
			}

			var schedule []domain.Installment
			if code := env.call(t, http.MethodGet, "/api/v1/loans/"+loan.ID+"/schedule", customer, nil, &schedule); code != http.StatusOK {
				t.Fatalf("schedule: expected 200, got %d", code)
			}
			if len(schedule) != 12 || !schedule[0].PaymentAmount.Equal(decimal.RequireFromString("42.80")) {
				t.Fatalf("unexpected schedule %+v", schedule)
			}

			code := env.call(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/payments", customer,
				api.PaymentRequest{Amount: decimal.NewFromInt(600), PaymentDate: "2025-02-01"}, nil)
			if code != http.StatusUnprocessableEntity {
				t.Fatalf("over-payment: expected 422, got %d", code)
			}

			var partial struct {
				NewBalance decimal.Decimal `json:"new_balance"`
				Closed     bool            `json:"closed"`
			}
			code = env.call(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/payments", customer,
				api.PaymentRequest{Amount: decimal.RequireFromString("42.80"), PaymentDate: "2025-02-01"}, &partial)
			if code != http.StatusCreated || partial.Closed || !partial.NewBalance.Equal(decimal.RequireFromString("470.83")) {
				t.Fatalf("partial payment: got %d %+v", code, partial)
			}

			var final struct {
				Closed bool `json:"closed"`
			}
			code = env.call(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/payments", customer,
				api.PaymentRequest{Amount: decimal.RequireFromString("470.83")}, &final)
			if code != http.StatusCreated || !final.Closed {
				t.Fatalf("final payment: got %d closed=%v", code, final.Closed)
			}
			if got := env.funds(t); !got.Equal(decimal.RequireFromString("1013.63")) {
				t.Fatalf("expected provider funds 1013.63 after repayment, got %s", got)
			}

			code = env.call(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/payments", customer,
				api.PaymentRequest{Amount: decimal.NewFromInt(1)}, nil)
			if code != http.StatusConflict {
				t.Fatalf("payment on closed loan: expected 409, got %d", code)
			}

			var payments []domain.Payment
			env.call(t, http.MethodGet, "/api/v1/loans/"+loan.ID+"/payments", customer, nil, &payments)
			if len(payments) != 2 {
				t.Fatalf("expected 2 payments recorded, got %d", len(payments))
			}

			var history []domain.StatusChange
			env.call(t, http.MethodGet, "/api/v1/loans/"+loan.ID+"/history", provider, nil, &history)
			if len(history) != 3 || history[2].To != domain.LoanClosed {
				t.Fatalf("unexpected history %+v", history)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := env.notifications.Shutdown(ctx); err != nil {
				t.Fatalf("notification shutdown failed: %v", err)
			}
			// approved, two payments applied, closed
			if got := env.email.Count(); got != 4 {
				t.Errorf("expected 4 customer emails, got %d", got)
			}
		})
	}
}

func TestIntegration_InsufficientFundsLeavesLoanPending(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			env := setup(t, newStore)
			env.prepare(t)
			provider := env.token(t, domain.RoleProvider, "p1")

			loan := env.apply(t, "1500.00")

			code := env.call(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/approve", provider, nil, nil)
			if code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d", code)
			}

			var got domain.Loan
			env.call(t, http.MethodGet, "/api/v1/loans/"+loan.ID, provider, nil, &got)
			if got.Status != domain.LoanPending {
				t.Fatalf("expected loan to stay pending, got %s", got.Status)
			}
			if funds := env.funds(t); !funds.Equal(decimal.NewFromInt(1000)) {
				t.Fatalf("expected funds untouched at 1000, got %s", funds)
			}
		})
	}
}

func TestIntegration_ConcurrentApprovalsDebitOnce(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			env := setup(t, newStore)
			env.prepare(t)
			provider := env.token(t, domain.RoleProvider, "p1")
			loan := env.apply(t, "400.00")

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				codes = map[int]int{}
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					code := env.call(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/approve", provider, nil, nil)
					mu.Lock()
					codes[code]++
					mu.Unlock()
				}()
			}
			wg.Wait()

			if codes[http.StatusOK] != 1 || codes[http.StatusConflict] != 7 {
				t.Fatalf("expected one approval and seven conflicts, got %v", codes)
			}
			if funds := env.funds(t); !funds.Equal(decimal.NewFromInt(600)) {
				t.Fatalf("expected a single debit leaving 600, got %s", funds)
			}
		})
	}
}

func TestIntegration_ParameterReplacement(t *testing.T) {
	env := setup(t, stores["memory"])
	env.prepare(t)
	personnel := env.token(t, domain.RolePersonnel, "bp1")

	code := env.call(t, http.MethodPost, "/api/v1/parameters", personnel, api.DefineParametersRequest{
		MinAmount:         decimal.NewFromInt(1000),
		MaxAmount:         decimal.NewFromInt(100),
		MaxInterestRate:   decimal.NewFromInt(5),
		MinDurationMonths: 1,
		MaxDurationMonths: 12,
	}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inconsistent bounds, got %d", code)
	}

	var active domain.LoanParameters
	env.call(t, http.MethodGet, "/api/v1/parameters", personnel, nil, &active)
	if active.Version != 1 || !active.MaxAmount.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected version 1 to stay active, got %+v", active)
	}

	code = env.call(t, http.MethodPost, "/api/v1/parameters", personnel, api.DefineParametersRequest{
		MinAmount:         decimal.NewFromInt(1000),
		MaxAmount:         decimal.NewFromInt(2000),
		MaxInterestRate:   decimal.NewFromInt(5),
		MinDurationMonths: 1,
		MaxDurationMonths: 12,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	code = env.call(t, http.MethodPost, "/api/v1/loans", env.token(t, domain.RoleCustomer, "c1"), api.ApplyForLoanRequest{
		ProviderID:   "p1",
		Amount:       decimal.NewFromInt(500),
		InterestRate: decimal.NewFromInt(3),
		StartDate:    "2025-01-01",
		EndDate:      "2026-01-01",
	}, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected the new minimum to apply, got %d", code)
	}

	var history []domain.LoanParameters
	env.call(t, http.MethodGet, "/api/v1/parameters/history", personnel, nil, &history)
	if len(history) != 2 {
		t.Fatalf("expected 2 parameter versions, got %d", len(history))
	}
}
