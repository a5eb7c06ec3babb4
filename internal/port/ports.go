// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the invoicing API adapter and the session cache.
package port

import (
	"context"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
)

// InvoiceAPI is the invoicing REST API as the aggregation engine consumes it.
// Implementations return already-parsed records; malformed payloads surface
// as domain.ValidationErrors.
type InvoiceAPI interface {
	ListInvoices(ctx context.Context) ([]domain.InvoiceRecord, error)
	// CreateInvoice returns the stored invoice and the API's confirmation message.
	CreateInvoice(ctx context.Context, draft *domain.InvoiceDraft) (*domain.InvoiceRecord, string, error)
	SetInvoiceStatus(ctx context.Context, id string, status domain.InvoiceStatus) (*domain.InvoiceRecord, error)
}

// CustomerDirectory lists customers so invoices missing an embedded customer
// can be given a display name.
type CustomerDirectory interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	// GetOrCreate returns the live entry for key, or stores and returns the
	// result of create. The bool reports whether the entry already existed.
	GetOrCreate(key string, create func() T) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Len() int
}
