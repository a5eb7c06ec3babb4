package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"

	"go.uber.org/zap"
)

// Ledger bundles one session's RecordStore and Aggregator and is the only
// way to mutate them. Each mutation runs as a single step under mu, so store
// and summary are never observed half-updated. Callers do their network I/O
// before calling in; nothing here blocks on anything but mu.
type Ledger struct {
	mu     sync.Mutex
	store  *RecordStore
	agg    *Aggregator
	logger *zap.Logger

	maxRecords int
}

// New returns an empty ledger.
func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		store:      NewRecordStore(),
		agg:        NewAggregator(),
		logger:     logger,
		maxRecords: domain.MaxRecords,
	}
}

// LoadAll replaces every record and recomputes the summary from scratch.
// If the recomputation fails, the previous records and summary are put back.
func (l *Ledger) LoadAll(records []domain.InvoiceRecord) error {
	if len(records) > l.maxRecords {
		return l.tooManyRecords(len(records))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prevRecords, prevIndex := l.store.records, l.store.index
	prevSummary := l.agg.Summary()

	l.store.ReplaceAll(records)
	if err := l.agg.RecomputeFrom(l.store.records); err != nil {
		l.store.restore(prevRecords, prevIndex)
		l.agg.reset(prevSummary)
		l.logger.Error("ledger: load rolled back",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
		return fmt.Errorf("load invoices: %w", err)
	}
	return nil
}

// CreateInvoice inserts r, accounts for it in the summary and returns the
// summary as of the insert. A duplicate id leaves both untouched.
func (l *Ledger) CreateInvoice(r domain.InvoiceRecord) (domain.InvoiceSummary, error) {
	if err := checkRecord(r); err != nil {
		return domain.InvoiceSummary{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store.Len() >= l.maxRecords {
		return l.agg.Summary(), l.tooManyRecords(l.store.Len() + 1)
	}
	if err := l.store.Insert(r); err != nil {
		return l.agg.Summary(), err
	}
	if err := l.agg.ApplyInsertion(r); err != nil {
		err = l.resync("insert", r.ID, err)
		return l.agg.Summary(), err
	}
	return l.agg.Summary(), nil
}

// TransitionStatus moves the record with the given id to status and returns
// the new version with the summary as of the change.
func (l *Ledger) TransitionStatus(id string, status domain.InvoiceStatus) (domain.InvoiceRecord, domain.InvoiceSummary, error) {
	if !status.IsValid() {
		return domain.InvoiceRecord{}, domain.InvoiceSummary{}, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.store.Get(id); !ok {
		return domain.InvoiceRecord{}, l.agg.Summary(), &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	prior, updated, err := l.store.UpdateStatus(id, status)
	if err != nil {
		return domain.InvoiceRecord{}, l.agg.Summary(), err
	}
	if err := l.agg.ApplyTransition(prior, updated); err != nil {
		err = l.resync("transition", id, err)
		return updated, l.agg.Summary(), err
	}
	return updated, l.agg.Summary(), nil
}

// ApplyUpdate installs the version of a record returned by the invoicing
// API after a status change and returns the version it replaced. Unlike
// TransitionStatus it takes the whole record, so an amount change made
// upstream is accounted for as well.
func (l *Ledger) ApplyUpdate(updated domain.InvoiceRecord) (domain.InvoiceRecord, domain.InvoiceSummary, error) {
	if err := checkRecord(updated); err != nil {
		return domain.InvoiceRecord{}, domain.InvoiceSummary{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prior, err := l.store.Replace(updated)
	if err != nil {
		return domain.InvoiceRecord{}, l.agg.Summary(), err
	}
	if err := l.agg.ApplyTransition(prior, updated); err != nil {
		err = l.resync("update", updated.ID, err)
		return prior, l.agg.Summary(), err
	}
	return prior, l.agg.Summary(), nil
}

// resync runs after the aggregator rejected a delta on an already-committed
// store change. The defect is logged and returned; the summary is rebuilt
// from the records so the ledger stays usable.
func (l *Ledger) resync(op, id string, defect error) error {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("invoice_id", id),
		zap.Error(defect),
	}
	var (
		neg      *domain.ErrNegativeAggregate
		overflow *domain.ErrAggregateOverflow
	)
	switch {
	case errors.As(defect, &neg):
		fields = append(fields, zap.String("field", neg.Field), zap.Int64("value", neg.Value))
	case errors.As(defect, &overflow):
		fields = append(fields, zap.String("field", overflow.Field))
	}
	l.logger.Error("ledger: aggregation defect, rebuilding summary", fields...)

	if err := l.agg.RecomputeFrom(l.store.records); err != nil {
		l.logger.Error("ledger: rebuild failed", zap.String("op", op), zap.Error(err))
	}
	return fmt.Errorf("%s invoice %s: %w", op, id, defect)
}

// Snapshot returns the records and the summary taken under one lock.
func (l *Ledger) Snapshot() domain.InvoiceSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.InvoiceSnapshot{
		Invoices: l.store.Records(),
		Summary:  l.agg.Summary(),
	}
}

// Records returns the records in display order.
func (l *Ledger) Records() []domain.InvoiceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Records()
}

// Summary returns the current summary.
func (l *Ledger) Summary() domain.InvoiceSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agg.Summary()
}

// Get looks up one record by id.
func (l *Ledger) Get(id string) (domain.InvoiceRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Get(id)
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Len()
}

// Verify recomputes the summary from the records and compares it with the
// maintained one. On a mismatch the recomputed summary is installed and
// *domain.ErrAggregateDrift is returned.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recomputed, err := Recompute(l.store.records)
	if err != nil {
		return err
	}
	if maintained := l.agg.Summary(); maintained != recomputed {
		l.logger.Error("ledger: summary drifted from records",
			zap.Any("maintained", maintained),
			zap.Any("recomputed", recomputed),
		)
		l.agg.reset(recomputed)
		return &domain.ErrAggregateDrift{Maintained: maintained, Recomputed: recomputed}
	}
	return nil
}

func checkRecord(r domain.InvoiceRecord) error {
	if r.ID == "" {
		return &domain.ErrValidation{Field: "id", Message: "required"}
	}
	if !r.Status.IsValid() {
		return &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if r.Amount < 0 {
		return &domain.ErrValidation{Field: "amount", Message: "must not be negative"}
	}
	if r.Amount > domain.MaxAmount {
		return &domain.ErrValidation{Field: "amount", Message: fmt.Sprintf("exceeds maximum of %s", domain.MaxAmount)}
	}
	return nil
}

func (l *Ledger) tooManyRecords(n int) error {
	return &domain.ErrValidation{
		Field:   "invoices",
		Message: fmt.Sprintf("%d invoices exceed the limit of %d", n, l.maxRecords),
	}
}
