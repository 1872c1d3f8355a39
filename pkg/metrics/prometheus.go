package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"loan_manager/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry          *prometheus.Registry
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	approvedPrincipal prometheus.Histogram
	loansClosed       prometheus.Counter
	providerFunds     *prometheus.GaugeVec
	notifications     *prometheus.CounterVec
	scheduleCache     *prometheus.CounterVec
	server            *http.Server
	logger            *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_operations_total",
			Help: "Loan operations by name and outcome kind",
		}, []string{"operation", "outcome"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loan_operation_duration_seconds",
			Help:    "Time taken by a loan operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		approvedPrincipal: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "loan_approved_principal",
			Help:    "Principal of approved loans",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		}),
		loansClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "loans_closed_total",
			Help: "Loans repaid in full",
		}),
		providerFunds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "provider_available_funds",
			Help: "Last observed available funds per provider",
		}, []string{"provider_id"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_notifications_total",
			Help: "Notifications by channel and result",
		}, []string{"channel", "result"}),
		scheduleCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_cache_lookups_total",
			Help: "Schedule cache lookups by result",
		}, []string{"result"}),
		logger: logger,
	}
}

// RecordOperation counts one call of operation, labelled with the kind of
// error it ended with or "ok".
func (m *MetricsCollector) RecordOperation(operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *MetricsCollector) RecordApproval(principal float64) {
	m.approvedPrincipal.Observe(principal)
}

func (m *MetricsCollector) RecordClosed() {
	m.loansClosed.Inc()
}

func (m *MetricsCollector) UpdateProviderFunds(providerID string, balance float64) {
	m.providerFunds.WithLabelValues(providerID).Set(balance)
}

func (m *MetricsCollector) RecordNotification(channel string, success bool) {
	result := "sent"
	if !success {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// RecordCacheLookup takes "hit", "miss" or "error".
func (m *MetricsCollector) RecordCacheLookup(result string) {
	m.scheduleCache.WithLabelValues(result).Inc()
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.server = server

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}
