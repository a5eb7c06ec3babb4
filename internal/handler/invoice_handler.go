package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Invoices
// ============================================================

func loadInvoicesHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/load")
		defer span.End()

		snap, err := svc.SubmitLoad(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("invoice.count", len(snap.Invoices)))
		writeJSON(w, http.StatusOK, snap)
	}
}

func listInvoicesHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/invoices")
		defer span.End()

		term := strings.TrimSpace(r.URL.Query().Get("q"))
		snap, err := svc.Records(ctx, term)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func invoiceSummaryHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := svc.Summary(r.Context())
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func getInvoiceHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceId")
		inv, err := svc.Get(r.Context(), invoiceID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	}
}

func createInvoiceHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices")
		defer span.End()

		var draft domain.InvoiceDraft
		if err := decodeJSON(w, r, &draft); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		resp, err := svc.SubmitCreate(ctx, &draft)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("invoice.id", resp.Invoice.ID))
		writeJSON(w, http.StatusCreated, resp)
	}
}

func transitionInvoiceHandler(svc *service.InvoiceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/invoices/{invoiceId}/status")
		defer span.End()

		invoiceID := chi.URLParam(r, "invoiceId")
		span.SetAttributes(attribute.String("invoice.id", invoiceID))

		var req domain.StatusChangeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		resp, err := svc.SubmitTransition(ctx, invoiceID, req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
