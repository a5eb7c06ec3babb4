// Package ledger holds the per-session invoice view: the canonical record
// store, the summary aggregator that is maintained incrementally over it,
// and the Ledger that sequences every mutation across both.
package ledger

import (
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
)

// RecordStore owns the ordered invoice records. It is not safe for
// concurrent use; Ledger serializes access.
type RecordStore struct {
	records []domain.InvoiceRecord
	index   map[string]int
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{index: make(map[string]int)}
}

// ReplaceAll discards the current contents and installs a copy of records
// in the given order. Nothing is deduplicated or validated: when an id
// repeats, lookups resolve to its first occurrence.
func (s *RecordStore) ReplaceAll(records []domain.InvoiceRecord) {
	s.records = append(make([]domain.InvoiceRecord, 0, len(records)), records...)
	s.index = make(map[string]int, len(records))
	for i, r := range s.records {
		if _, seen := s.index[r.ID]; !seen {
			s.index[r.ID] = i
		}
	}
}

// Insert appends a record whose id is not yet present.
func (s *RecordStore) Insert(r domain.InvoiceRecord) error {
	if _, exists := s.index[r.ID]; exists {
		return &domain.ErrDuplicateID{ID: r.ID}
	}
	s.index[r.ID] = len(s.records)
	s.records = append(s.records, r)
	return nil
}

// UpdateStatus sets the status of the record with the given id in place and
// returns both versions for delta computation.
func (s *RecordStore) UpdateStatus(id string, status domain.InvoiceStatus) (prior, updated domain.InvoiceRecord, err error) {
	i, ok := s.index[id]
	if !ok {
		return prior, updated, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	prior = s.records[i]
	updated = prior.WithStatus(status)
	s.records[i] = updated
	return prior, updated, nil
}

// Replace swaps in a new version of an existing record, keeping its
// position, and returns the version it replaced.
func (s *RecordStore) Replace(updated domain.InvoiceRecord) (domain.InvoiceRecord, error) {
	i, ok := s.index[updated.ID]
	if !ok {
		return domain.InvoiceRecord{}, &domain.ErrNotFound{Resource: "invoice", ID: updated.ID}
	}
	prior := s.records[i]
	s.records[i] = updated
	return prior, nil
}

// Get looks a record up by id.
func (s *RecordStore) Get(id string) (domain.InvoiceRecord, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.InvoiceRecord{}, false
	}
	return s.records[i], true
}

// Records returns a copy of the records in display order.
func (s *RecordStore) Records() []domain.InvoiceRecord {
	return append(make([]domain.InvoiceRecord, 0, len(s.records)), s.records...)
}

// Len returns the number of records held.
func (s *RecordStore) Len() int {
	return len(s.records)
}

// restore reinstalls a state captured by Records and the matching index.
func (s *RecordStore) restore(records []domain.InvoiceRecord, index map[string]int) {
	s.records = records
	s.index = index
}
