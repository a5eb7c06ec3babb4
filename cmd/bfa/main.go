package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/config"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/handler"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/cache"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/client"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/ledger"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("invoice_api_url", cfg.InvoiceAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Bool("tracing_enabled", cfg.TracingEnabled),
		zap.Bool("verify_aggregates", cfg.VerifyAggregates),
		zap.Bool("jwt_verification", cfg.JWTSecret != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "fleet-invoice-bfa", cfg.TracingEnabled)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Sessions ---
	sessions := cache.New[*ledger.Ledger](cfg.SessionTTL)
	defer sessions.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("invoice-api", logger)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	invoiceClient := client.NewInvoiceClient(httpClient, cfg.InvoiceAPIURL, cb, resilienceCfg)

	// --- Services ---
	invoiceSvc := service.NewInvoiceService(
		invoiceClient,
		invoiceClient,
		sessions,
		metrics,
		logger,
		cfg.VerifyAggregates,
	)

	// --- Router ---
	router := handler.NewRouter(invoiceSvc, metrics, logger, handler.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Breaker:        cb,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
