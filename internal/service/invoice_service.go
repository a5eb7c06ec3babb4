// Package service holds the presentation-facing operations of the BFA.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/observability"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/ledger"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/invoice")

const sessionCache = "session"

// InvoiceService serves one invoice ledger per session. Every submit awaits
// the invoicing API first, with no local state touched, and only on success
// enters the session ledger's local phase.
type InvoiceService struct {
	api       port.InvoiceAPI
	customers port.CustomerDirectory
	sessions  port.Cache[*ledger.Ledger]
	metrics   *observability.Metrics
	logger    *zap.Logger

	// verify re-checks the summary against a full recomputation after
	// every mutation.
	verify bool
}

// NewInvoiceService creates the invoice service with all dependencies injected.
// customers may be nil, in which case invoices keep whatever customer names
// the API embeds.
func NewInvoiceService(
	api port.InvoiceAPI,
	customers port.CustomerDirectory,
	sessions port.Cache[*ledger.Ledger],
	metrics *observability.Metrics,
	logger *zap.Logger,
	verify bool,
) *InvoiceService {
	return &InvoiceService{
		api:       api,
		customers: customers,
		sessions:  sessions,
		metrics:   metrics,
		logger:    logger,
		verify:    verify,
	}
}

// SubmitLoad fetches all invoices and replaces the session's ledger contents
// with them.
func (s *InvoiceService) SubmitLoad(ctx context.Context) (*domain.InvoiceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, l, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "InvoiceService.SubmitLoad")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("invoice.load", time.Since(start))
	}()

	var (
		records   []domain.InvoiceRecord
		customers []domain.Customer
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := s.api.ListInvoices(gCtx)
		if err != nil {
			s.upstreamFailed("list invoices", sess, err)
			return fmt.Errorf("invoices fetch: %w", err)
		}
		records = r
		return nil
	})

	if s.customers != nil {
		g.Go(func() error {
			c, err := s.customers.ListCustomers(gCtx)
			if err != nil {
				s.upstreamFailed("list customers", sess, err)
				return fmt.Errorf("customers fetch: %w", err)
			}
			customers = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.metrics.IncrMutation("load", "error")
		return nil, err
	}

	fillCustomerNames(records, customers)

	if err := l.LoadAll(records); err != nil {
		s.mutationFailed("load", sess, err)
		return nil, err
	}
	s.metrics.IncrMutation("load", "success")
	s.metrics.ObserveLoadSize(len(records))

	if err := s.verifyLedger("load", sess, l); err != nil {
		return nil, err
	}

	snap := l.Snapshot()
	s.logger.Info("invoices loaded",
		zap.String("session_id", sess.ID),
		zap.Int("records", len(snap.Invoices)),
		zap.Int("paid_count", snap.Summary.PaidCount),
		zap.Int("unpaid_count", snap.Summary.UnpaidCount),
	)
	return &snap, nil
}

// SubmitCreate validates a draft, creates it upstream and adds the stored
// invoice to the session ledger.
func (s *InvoiceService) SubmitCreate(ctx context.Context, draft *domain.InvoiceDraft) (*domain.InvoiceMutationResponse, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	sess, l, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "InvoiceService.SubmitCreate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("invoice.create", time.Since(start))
	}()

	rec, message, err := s.api.CreateInvoice(ctx, draft)
	if err != nil {
		s.upstreamFailed("create invoice", sess, err)
		s.metrics.IncrMutation("create", "error")
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	span.SetAttributes(attribute.String("invoice.id", rec.ID))

	summary, err := l.CreateInvoice(*rec)
	if err != nil {
		s.mutationFailed("create", sess, err)
		return nil, err
	}
	s.metrics.IncrMutation("create", "success")

	if err := s.verifyLedger("create", sess, l); err != nil {
		return nil, err
	}

	s.logger.Info("invoice created",
		zap.String("session_id", sess.ID),
		zap.String("invoice_id", rec.ID),
		zap.String("status", rec.Status.String()),
		zap.Int64("amount_minor", int64(rec.Amount)),
	)
	return &domain.InvoiceMutationResponse{
		Message: message,
		Invoice: *rec,
		Summary: summary,
	}, nil
}

// SubmitTransition changes an invoice's status upstream and applies the
// record the API returns. Unknown ids are rejected before any upstream call.
func (s *InvoiceService) SubmitTransition(ctx context.Context, id, status string) (*domain.InvoiceMutationResponse, error) {
	next, err := domain.ParseInvoiceStatus(status)
	if err != nil {
		return nil, err
	}
	sess, l, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	current, ok := l.Get(id)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}

	ctx, span := tracer.Start(ctx, "InvoiceService.SubmitTransition")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("invoice.id", id),
		attribute.String("invoice.status", next.String()),
	)

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("invoice.transition", time.Since(start))
	}()

	updated, err := s.api.SetInvoiceStatus(ctx, id, next)
	if err != nil {
		s.upstreamFailed("update invoice status", sess, err)
		s.metrics.IncrMutation("transition", "error")
		return nil, fmt.Errorf("update invoice %s: %w", id, err)
	}

	var (
		result  domain.InvoiceRecord
		prior   domain.InvoiceRecord
		summary domain.InvoiceSummary
	)
	if updated.ID == id {
		if updated.Customer == nil {
			updated.Customer = current.Customer
		}
		prior, summary, err = l.ApplyUpdate(*updated)
		result = *updated
	} else {
		// Responses that do not echo the invoice are applied as a bare
		// status change.
		s.logger.Warn("status response carries a different invoice, applying status only",
			zap.String("invoice_id", id),
			zap.String("response_id", updated.ID),
		)
		prior = current
		result, summary, err = l.TransitionStatus(id, next)
	}
	if err != nil {
		s.mutationFailed("transition", sess, err)
		return nil, err
	}
	s.metrics.IncrMutation("transition", "success")

	if err := s.verifyLedger("transition", sess, l); err != nil {
		return nil, err
	}

	s.logger.Info("invoice status changed",
		zap.String("session_id", sess.ID),
		zap.String("invoice_id", id),
		zap.String("from", prior.Status.String()),
		zap.String("to", result.Status.String()),
		zap.Int64("amount_minor", int64(result.Amount)),
	)
	return &domain.InvoiceMutationResponse{
		Invoice: result,
		Summary: summary,
	}, nil
}

// Records returns the session's invoices matching the search term, together
// with the summary of the whole record set.
func (s *InvoiceService) Records(ctx context.Context, term string) (*domain.InvoiceSnapshot, error) {
	_, l, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	snap := l.Snapshot()
	if term == "" {
		return &snap, nil
	}
	matched := make([]domain.InvoiceRecord, 0, len(snap.Invoices))
	for _, r := range snap.Invoices {
		if r.Matches(term) {
			matched = append(matched, r)
		}
	}
	snap.Invoices = matched
	return &snap, nil
}

// Summary returns the session's current summary.
func (s *InvoiceService) Summary(ctx context.Context) (domain.InvoiceSummary, error) {
	_, l, err := s.ledgerFor(ctx)
	if err != nil {
		return domain.InvoiceSummary{}, err
	}
	return l.Summary(), nil
}

// Get returns one invoice of the session.
func (s *InvoiceService) Get(ctx context.Context, id string) (*domain.InvoiceRecord, error) {
	_, l, err := s.ledgerFor(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := l.Get(id)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	return &r, nil
}

// ActiveSessions returns the number of live session ledgers.
func (s *InvoiceService) ActiveSessions() int {
	return s.sessions.Len()
}

// ledgerFor returns the caller's session and its ledger, creating an empty
// ledger on first use or after eviction.
func (s *InvoiceService) ledgerFor(ctx context.Context) (domain.Session, *ledger.Ledger, error) {
	sess, ok := domain.SessionFromContext(ctx)
	if !ok || sess.ID == "" {
		return domain.Session{}, nil, &domain.ErrUnauthorized{Message: "no session"}
	}
	l, existed := s.sessions.GetOrCreate(sess.ID, func() *ledger.Ledger {
		return ledger.New(s.logger.With(zap.String("session_id", sess.ID)))
	})
	if existed {
		s.metrics.IncrCacheHit(sessionCache)
	} else {
		s.metrics.IncrCacheMiss(sessionCache)
	}
	return sess, l, nil
}

func (s *InvoiceService) verifyLedger(op string, sess domain.Session, l *ledger.Ledger) error {
	if !s.verify {
		return nil
	}
	if err := l.Verify(); err != nil {
		s.logger.Error("invoice summary verification failed",
			zap.String("op", op),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		s.countDefect(err)
		return fmt.Errorf("verify after %s: %w", op, err)
	}
	return nil
}

func (s *InvoiceService) mutationFailed(op string, sess domain.Session, err error) {
	s.metrics.IncrMutation(op, "error")
	if s.countDefect(err) {
		return
	}
	s.logger.Warn("invoice ledger rejected mutation",
		zap.String("op", op),
		zap.String("session_id", sess.ID),
		zap.Error(err),
	)
}

// countDefect records aggregation defects and reports whether err was one.
// The ledger has already logged it.
func (s *InvoiceService) countDefect(err error) bool {
	var (
		neg      *domain.ErrNegativeAggregate
		overflow *domain.ErrAggregateOverflow
		drift    *domain.ErrAggregateDrift
	)
	switch {
	case errors.As(err, &neg):
		s.metrics.IncrDefect(observability.DefectNegative)
	case errors.As(err, &overflow):
		s.metrics.IncrDefect(observability.DefectOverflow)
	case errors.As(err, &drift):
		s.metrics.IncrDefect(observability.DefectDrift)
	default:
		return false
	}
	return true
}

func (s *InvoiceService) upstreamFailed(op string, sess domain.Session, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error("invoice API call failed",
		zap.String("op", op),
		zap.String("session_id", sess.ID),
		zap.Error(err),
	)
	s.metrics.IncrExternalError("invoice-api")
}

// fillCustomerNames gives records without an embedded customer the name
// from the directory.
func fillCustomerNames(records []domain.InvoiceRecord, customers []domain.Customer) {
	if len(customers) == 0 {
		return
	}
	byID := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}
	for i := range records {
		if records[i].Customer != nil || records[i].CustomerRef == "" {
			continue
		}
		if c, ok := byID[records[i].CustomerRef]; ok {
			records[i].Customer = &domain.CustomerName{FirstName: c.FirstName, LastName: c.LastName}
		}
	}
}
