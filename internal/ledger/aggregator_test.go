package ledger

import (
	"math"
	"testing"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func record(id string, amount domain.Money, status domain.InvoiceStatus) domain.InvoiceRecord {
	return domain.InvoiceRecord{ID: id, Amount: amount, Status: status}
}

func TestAggregator_ApplyInsertionTouchesOneBucket(t *testing.T) {
	a := NewAggregator()

	require.NoError(t, a.ApplyInsertion(record("1", 300, domain.StatusPaid)))
	assert.Equal(t, domain.InvoiceSummary{PaidCount: 1, TotalPaid: 300}, a.Summary())

	require.NoError(t, a.ApplyInsertion(record("2", 45, domain.StatusUnpaid)))
	assert.Equal(t, domain.InvoiceSummary{PaidCount: 1, UnpaidCount: 1, TotalPaid: 300, TotalUnpaid: 45}, a.Summary())
}

func TestAggregator_ApplyTransitionFourWay(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.RecomputeFrom([]domain.InvoiceRecord{
		record("1", 100, domain.StatusUnpaid),
		record("2", 200, domain.StatusPaid),
	}))

	require.NoError(t, a.ApplyTransition(record("1", 100, domain.StatusUnpaid), record("1", 100, domain.StatusPaid)))
	assert.Equal(t, domain.InvoiceSummary{PaidCount: 2, TotalPaid: 300}, a.Summary())

	require.NoError(t, a.ApplyTransition(record("2", 200, domain.StatusPaid), record("2", 120, domain.StatusUnpaid)))
	assert.Equal(t, domain.InvoiceSummary{PaidCount: 1, UnpaidCount: 1, TotalPaid: 100, TotalUnpaid: 120}, a.Summary())
}

func TestAggregator_ApplyTransitionRejectsIDMismatch(t *testing.T) {
	a := NewAggregator()
	err := a.ApplyTransition(record("1", 1, domain.StatusPaid), record("2", 1, domain.StatusPaid))
	var validation *domain.ErrValidation
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, domain.InvoiceSummary{}, a.Summary())
}

func TestAggregator_NegativeIsClampedAndReported(t *testing.T) {
	a := NewAggregator()

	err := a.ApplyTransition(record("1", 500, domain.StatusPaid), record("1", 500, domain.StatusUnpaid))
	var neg *domain.ErrNegativeAggregate
	require.ErrorAs(t, err, &neg)
	assert.Equal(t, "paidCount", neg.Field)
	assert.Equal(t, int64(-1), neg.Value)

	s := a.Summary()
	assert.Equal(t, 0, s.PaidCount)
	assert.Equal(t, domain.Money(0), s.TotalPaid)
	assert.Equal(t, 1, s.UnpaidCount)
	assert.Equal(t, domain.Money(500), s.TotalUnpaid)
}

func TestAggregator_OverflowIsReportedAndSummaryKept(t *testing.T) {
	a := NewAggregator()
	a.reset(domain.InvoiceSummary{PaidCount: 1, TotalPaid: math.MaxInt64 - 10})

	err := a.ApplyInsertion(record("2", 11, domain.StatusPaid))
	var overflow *domain.ErrAggregateOverflow
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "totalPaid", overflow.Field)
	assert.Equal(t, domain.InvoiceSummary{PaidCount: 1, TotalPaid: math.MaxInt64 - 10}, a.Summary())

	_, err = Recompute([]domain.InvoiceRecord{
		record("1", math.MaxInt64-10, domain.StatusUnpaid),
		record("2", 11, domain.StatusUnpaid),
	})
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "totalUnpaid", overflow.Field)
}

func TestAggregator_RecomputeFromUnknownStatusKeepsSummary(t *testing.T) {
	a := NewAggregator()
	require.NoError(t, a.ApplyInsertion(record("1", 10, domain.StatusPaid)))

	err := a.RecomputeFrom([]domain.InvoiceRecord{record("x", 1, "Draft")})
	var validation *domain.ErrValidation
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "invoices[0].status", validation.Field)
	assert.Equal(t, domain.InvoiceSummary{PaidCount: 1, TotalPaid: 10}, a.Summary())
}

func TestLedger_DefectRebuildsSummary(t *testing.T) {
	l := New(zap.NewNop())
	require.NoError(t, l.LoadAll([]domain.InvoiceRecord{
		record("1", 100, domain.StatusPaid),
		record("2", 40, domain.StatusUnpaid),
	}))

	// Corrupt the maintained summary so the next delta underflows.
	l.agg.reset(domain.InvoiceSummary{})

	_, summary, err := l.TransitionStatus("1", domain.StatusUnpaid)
	var neg *domain.ErrNegativeAggregate
	require.ErrorAs(t, err, &neg)

	// The store change stands and the summary is back in line with it.
	got, ok := l.Get("1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusUnpaid, got.Status)
	assert.Equal(t, domain.InvoiceSummary{UnpaidCount: 2, TotalUnpaid: 140}, summary)
	assert.Equal(t, domain.InvoiceSummary{UnpaidCount: 2, TotalUnpaid: 140}, l.Summary())
	require.NoError(t, l.Verify())
}

func TestLedger_RecordLimit(t *testing.T) {
	l := New(zap.NewNop())
	l.maxRecords = 2

	err := l.LoadAll([]domain.InvoiceRecord{
		record("1", 1, domain.StatusPaid),
		record("2", 2, domain.StatusPaid),
		record("3", 3, domain.StatusPaid),
	})
	var validation *domain.ErrValidation
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "invoices", validation.Field)
	assert.Equal(t, 0, l.Len())

	require.NoError(t, l.LoadAll([]domain.InvoiceRecord{
		record("1", 1, domain.StatusPaid),
		record("2", 2, domain.StatusUnpaid),
	}))
	summary, err := l.CreateInvoice(record("3", 3, domain.StatusPaid))
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, domain.InvoiceSummary{PaidCount: 1, UnpaidCount: 1, TotalPaid: 1, TotalUnpaid: 2}, summary)
	assert.Equal(t, 2, l.Len())
}

func TestLedger_VerifyDetectsDrift(t *testing.T) {
	l := New(zap.NewNop())
	require.NoError(t, l.LoadAll([]domain.InvoiceRecord{record("1", 100, domain.StatusPaid)}))

	l.agg.reset(domain.InvoiceSummary{PaidCount: 1, TotalPaid: 90})

	err := l.Verify()
	var drift *domain.ErrAggregateDrift
	require.ErrorAs(t, err, &drift)
	assert.Equal(t, domain.Money(100), drift.Recomputed.TotalPaid)
	assert.Equal(t, domain.Money(90), drift.Maintained.TotalPaid)

	assert.Equal(t, domain.Money(100), l.Summary().TotalPaid)
	require.NoError(t, l.Verify())
}

func TestRecordStore_InsertAndLookup(t *testing.T) {
	s := NewRecordStore()
	require.NoError(t, s.Insert(record("a", 1, domain.StatusPaid)))
	require.NoError(t, s.Insert(record("b", 2, domain.StatusUnpaid)))

	err := s.Insert(record("a", 3, domain.StatusPaid))
	var dup *domain.ErrDuplicateID
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 2, s.Len())

	prior, updated, err := s.UpdateStatus("b", domain.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, prior.Status)
	assert.Equal(t, domain.StatusPaid, updated.Status)

	_, _, err = s.UpdateStatus("zz", domain.StatusPaid)
	var notFound *domain.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}
