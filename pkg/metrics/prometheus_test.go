package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loan_manager/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOperation_LabelsOutcomeByKind(t *testing.T) {
	m := NewMetricsCollector(nil)

	m.RecordOperation("approve", time.Millisecond, nil)
	m.RecordOperation("approve", time.Millisecond, domain.NewError(domain.ErrInsufficientFunds, "debit"))
	m.RecordOperation("approve", time.Millisecond, errors.New("disk on fire"))

	if got := testutil.ToFloat64(m.operations.WithLabelValues("approve", "ok")); got != 1 {
		t.Errorf("expected 1 ok, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("approve", "resource")); got != 1 {
		t.Errorf("expected 1 resource failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("approve", "infrastructure")); got != 1 {
		t.Errorf("expected 1 infrastructure failure, got %v", got)
	}
}

func TestGauges(t *testing.T) {
	m := NewMetricsCollector(nil)

	m.UpdateProviderFunds("p1", 500)
	m.RecordClosed()
	m.RecordNotification("email", false)
	m.RecordCacheLookup("hit")

	if got := testutil.ToFloat64(m.providerFunds.WithLabelValues("p1")); got != 500 {
		t.Errorf("expected 500, got %v", got)
	}
	if got := testutil.ToFloat64(m.loansClosed); got != 1 {
		t.Errorf("expected 1 closed, got %v", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("email", "failed")); got != 1 {
		t.Errorf("expected 1 failed email, got %v", got)
	}
	if got := testutil.ToFloat64(m.scheduleCache.WithLabelValues("hit")); got != 1 {
		t.Errorf("expected 1 cache hit, got %v", got)
	}
}

func TestGetHandler_ExposesRegistry(t *testing.T) {
	m := NewMetricsCollector(nil)
	m.RecordApproval(500)

	rec := httptest.NewRecorder()
	m.GetHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "loan_approved_principal_count 1") {
		t.Errorf("expected approved principal histogram in output, got:\n%s", body)
	}
}
