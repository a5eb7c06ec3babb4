package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// RouterConfig carries the settings NewRouter needs besides the service.
type RouterConfig struct {
	// JWTSecret verifies session tokens; empty reads them unverified.
	JWTSecret      string
	AllowedOrigins []string
	// Breaker is reported on /healthz when set.
	Breaker *gobreaker.CircuitBreaker
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.InvoiceService, metrics *observability.Metrics, logger *zap.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc, cfg.Breaker))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.JWTSecret, logger))

		// =============================================
		// Invoices
		// =============================================
		r.Post("/invoices/load", loadInvoicesHandler(svc, logger))
		r.Get("/invoices", listInvoicesHandler(svc, logger))
		r.Get("/invoices/summary", invoiceSummaryHandler(svc, logger))
		r.Get("/invoices/{invoiceId}", getInvoiceHandler(svc, logger))
		r.Post("/invoices", createInvoiceHandler(svc, logger))
		r.Patch("/invoices/{invoiceId}/status", transitionInvoiceHandler(svc, logger))

		// =============================================
		// Metrics
		// =============================================
		r.Get("/metrics/ledger", ledgerMetricsHandler(svc, metrics))
	})

	return r
}

func healthzHandler(svc *service.InvoiceService, cb *gobreaker.CircuitBreaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LastChecked: now},
		}
		overallStatus := "healthy"

		if cb != nil {
			state := cb.State()
			services = append(services, domain.ServiceHealth{
				Name: cb.Name(), Status: state.String(), LastChecked: now,
			})
			if state != gobreaker.StateClosed {
				overallStatus = "degraded"
			}
		}

		sessions := 0
		if svc != nil {
			sessions = svc.ActiveSessions()
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Sessions: sessions,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(svc *service.InvoiceService, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := 0
		if svc != nil {
			sessions = svc.ActiveSessions()
		}
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot(sessions))
	}
}
