package ledger

import (
	"fmt"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
)

// Aggregator is the sole owner of the invoice summary. Full recomputation
// sets it from scratch; insertions and transitions adjust it by the delta of
// a single record.
type Aggregator struct {
	summary domain.InvoiceSummary
}

// NewAggregator returns an aggregator over an empty record set.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Summary returns the current summary.
func (a *Aggregator) Summary() domain.InvoiceSummary {
	return a.summary
}

// Recompute derives the summary of records with a full scan. It is the
// ground truth incremental maintenance is checked against.
func Recompute(records []domain.InvoiceRecord) (domain.InvoiceSummary, error) {
	var s domain.InvoiceSummary
	for i, r := range records {
		d, err := bucketDelta(r, 1)
		if err != nil {
			return domain.InvoiceSummary{}, &domain.ErrValidation{
				Field:   fmt.Sprintf("invoices[%d].status", i),
				Message: fmt.Sprintf("invoice %s has unknown status %q", r.ID, r.Status),
			}
		}
		if s, err = addDelta(s, d); err != nil {
			return domain.InvoiceSummary{}, err
		}
	}
	return s, nil
}

// RecomputeFrom replaces the summary with a full recomputation over records.
// On an unknown status the summary is left untouched.
func (a *Aggregator) RecomputeFrom(records []domain.InvoiceRecord) error {
	s, err := Recompute(records)
	if err != nil {
		return err
	}
	return a.commit(s)
}

// ApplyInsertion accounts for one newly inserted record. Call it exactly once
// per successful insert.
func (a *Aggregator) ApplyInsertion(r domain.InvoiceRecord) error {
	d, err := bucketDelta(r, 1)
	if err != nil {
		return err
	}
	next, err := addDelta(a.summary, d)
	if err != nil {
		return err
	}
	return a.commit(next)
}

// ApplyTransition moves one record from its old version's bucket to its new
// version's bucket. Both count and amount are taken out with the old
// version and put back with the new one, so an amount change is accounted
// for even when the status stays the same.
func (a *Aggregator) ApplyTransition(old, updated domain.InvoiceRecord) error {
	if old.ID != updated.ID {
		return &domain.ErrValidation{Field: "id", Message: fmt.Sprintf("transition from %s to %s", old.ID, updated.ID)}
	}
	out, err := bucketDelta(old, -1)
	if err != nil {
		return err
	}
	in, err := bucketDelta(updated, 1)
	if err != nil {
		return err
	}
	next, err := addDelta(a.summary, out)
	if err != nil {
		return err
	}
	if next, err = addDelta(next, in); err != nil {
		return err
	}
	return a.commit(next)
}

// commit installs next, clamping any negative field to zero. The first
// clamped field is returned as *domain.ErrNegativeAggregate.
func (a *Aggregator) commit(next domain.InvoiceSummary) error {
	var defect error
	clampInt := func(field string, v *int) {
		if *v < 0 {
			if defect == nil {
				defect = &domain.ErrNegativeAggregate{Field: field, Value: int64(*v)}
			}
			*v = 0
		}
	}
	clampMoney := func(field string, v *domain.Money) {
		if *v < 0 {
			if defect == nil {
				defect = &domain.ErrNegativeAggregate{Field: field, Value: int64(*v)}
			}
			*v = 0
		}
	}
	clampInt("paidCount", &next.PaidCount)
	clampInt("unpaidCount", &next.UnpaidCount)
	clampMoney("totalPaid", &next.TotalPaid)
	clampMoney("totalUnpaid", &next.TotalUnpaid)

	a.summary = next
	return defect
}

func (a *Aggregator) reset(s domain.InvoiceSummary) {
	a.summary = s
}

// bucketDelta is the contribution of a single record, signed by sign.
func bucketDelta(r domain.InvoiceRecord, sign int) (summaryDelta, error) {
	switch r.Status {
	case domain.StatusPaid:
		return summaryDelta{paidCount: sign, paid: domain.Money(sign) * r.Amount}, nil
	case domain.StatusUnpaid:
		return summaryDelta{unpaidCount: sign, unpaid: domain.Money(sign) * r.Amount}, nil
	}
	return summaryDelta{}, &domain.ErrValidation{
		Field:   "status",
		Message: fmt.Sprintf("invoice %s has unknown status %q", r.ID, r.Status),
	}
}

type summaryDelta struct {
	paidCount, unpaidCount int
	paid, unpaid           domain.Money
}

// addDelta applies d to s with checked arithmetic. On overflow s is
// returned unchanged along with *domain.ErrAggregateOverflow.
func addDelta(s domain.InvoiceSummary, d summaryDelta) (domain.InvoiceSummary, error) {
	next := s
	next.PaidCount += d.paidCount
	next.UnpaidCount += d.unpaidCount
	var ok bool
	if next.TotalPaid, ok = addMoney(s.TotalPaid, d.paid); !ok {
		return s, &domain.ErrAggregateOverflow{Field: "totalPaid"}
	}
	if next.TotalUnpaid, ok = addMoney(s.TotalUnpaid, d.unpaid); !ok {
		return s, &domain.ErrAggregateOverflow{Field: "totalUnpaid"}
	}
	return next, nil
}

func addMoney(a, b domain.Money) (domain.Money, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return a, false
	}
	return sum, true
}
