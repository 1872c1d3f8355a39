package main

import (
	"context"
	"fmt"
	"loan_manager/internal/api"
	"loan_manager/internal/config"
	"loan_manager/internal/repository"
	"loan_manager/internal/repository/cache"
	"loan_manager/internal/repository/memory"
	"loan_manager/internal/repository/sqlite"
	"loan_manager/internal/service"
	"loan_manager/pkg/crypto"
	"loan_manager/pkg/metrics"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	appName = "loan_manager"
)

type store interface {
	repository.Store
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("Starting application",
		slog.String("name", appName),
		slog.String("storage", cfg.StorageDriver))

	ctx := context.Background()
	loanStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer loanStore.Close()

	scheduleCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metricsCollector := metrics.NewMetricsCollector(logger)
	signer := crypto.NewTokenSigner(cfg.TokenSecret, cfg.TokenTTL, logger)
	notificationService := setupNotificationService(cfg, metricsCollector, logger)
	loanService := service.NewLoanService(
		loanStore,
		scheduleCache,
		metricsCollector,
		notificationService,
		cfg.OverPaymentPolicy,
		logger,
	)
	apiHandler := api.NewAPIHandler(loanService, signer, cfg.RequestTimeout, logger)
	limiter := api.NewRateLimiter(cfg.RateLimitCapacity, cfg.RateLimitWindow)
	defer limiter.Stop()

	metricsCollector.StartMetricsServer(cfg.MetricsAddr)
	httpServer := startHTTPServer(cfg.HTTPAddr, apiHandler, limiter, logger)
	waitForShutdown(logger, httpServer, metricsCollector, notificationService)
	logger.Info("Application shutdown complete")
}

func setupLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, error) {
	if cfg.StorageDriver == config.DriverSQLite {
		s, err := sqlite.Open(ctx, cfg.SQLitePath,
			sqlite.WithMaxTries(cfg.TxMaxRetries),
			sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return memory.NewStore(), nil
}

func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.ScheduleCache, error) {
	if cfg.RedisAddr == "" {
		logger.Info("Using in-process schedule cache")
		return cache.NewMemoryCache(), nil
	}
	client, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	logger.Info("Using redis schedule cache", slog.String("addr", cfg.RedisAddr))
	return cache.NewRedisCache(client, cfg.RedisTTL), nil
}

func setupNotificationService(cfg config.Config, recorder service.NotificationRecorder, logger *slog.Logger) *service.NotificationService {
	sender := service.LogSender{Logger: logger}

	return service.NewNotificationService(
		sender,
		sender,
		recorder,
		cfg.NotificationWorkers,
		1000,
		logger,
	)
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, limiter *api.RateLimiter, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	apiHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      apiHandler.RateLimitMiddleware(limiter, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(
	logger *slog.Logger,
	httpServer *http.Server,
	metricsCollector *metrics.MetricsCollector,
	notificationService *service.NotificationService,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := notificationService.Shutdown(ctx); err != nil {
		logger.Error("Notification service shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsCollector.Shutdown(ctx); err != nil {
		logger.Error("Metrics collector shutdown failed", slog.String("error", err.Error()))
	}
}
