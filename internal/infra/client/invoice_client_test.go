package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/client"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *client.InvoiceClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	return client.NewInvoiceClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("test", zap.NewNop()), cfg)
}

func sessionCtx() context.Context {
	return domain.WithSession(context.Background(), domain.Session{ID: "u1", Token: "raw-token"})
}

func TestInvoiceClient_ListInvoicesForwardsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/invoice", r.URL.Path)
		assert.Equal(t, "raw-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, _ = io.WriteString(w, `[{"id":"1","total":100,"status":"Paid"},{"id":"2","total":"40.5","status":"Unpaid"}]`)
	})

	records, err := c.ListInvoices(sessionCtx())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.Money(10000), records[0].Amount)
	assert.Equal(t, domain.Money(4050), records[1].Amount)
}

func TestInvoiceClient_ListRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})

	records, err := c.ListInvoices(sessionCtx())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvoiceClient_CreateIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, _, err := c.CreateInvoice(sessionCtx(), &domain.InvoiceDraft{CustomerID: "c1"})
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvoiceClient_CreateParsesResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var draft domain.InvoiceDraft
		require.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
		assert.Equal(t, "Paid", draft.Status)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"Invoice created successfully","invoice":{"id":"n1","amount":"250","status":"Paid"}}`)
	})

	rec, msg, err := c.CreateInvoice(sessionCtx(), &domain.InvoiceDraft{CustomerID: "c1", Status: "paid"})
	require.NoError(t, err)
	assert.Equal(t, "Invoice created successfully", msg)
	assert.Equal(t, "n1", rec.ID)
	assert.Equal(t, domain.Money(25000), rec.Amount)
}

func TestInvoiceClient_CreateRejectionPassesThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors":[{"param":"weight","msg":"Valid weight is required"}]}`)
	})

	_, _, err := c.CreateInvoice(sessionCtx(), &domain.InvoiceDraft{})
	var ve domain.ValidationErrors
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve, 1)
	assert.Equal(t, "weight", ve[0].Field)
	assert.Equal(t, "Valid weight is required", ve[0].Message)
}

func TestInvoiceClient_SetStatusSendsCanonicalStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/invoice/abc", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Unpaid", body["status"])
		_, _ = io.WriteString(w, `{"id":"abc","amount":75,"status":"Unpaid"}`)
	})

	rec, err := c.SetInvoiceStatus(sessionCtx(), "abc", domain.StatusUnpaid)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, rec.Status)
	assert.Equal(t, domain.Money(7500), rec.Amount)
}

func TestInvoiceClient_SetStatusNotFound(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Invoice not found"}`)
	})

	_, err := c.SetInvoiceStatus(sessionCtx(), "missing", domain.StatusPaid)
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvoiceClient_ListNotFoundIsUpstreamFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.ListInvoices(sessionCtx())
	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	var nf *domain.ErrNotFound
	assert.False(t, errors.As(err, &nf))

	_, err = c.ListCustomers(sessionCtx())
	require.ErrorAs(t, err, &ext)
	assert.NotContains(t, err.Error(), "invoice not found")
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvoiceClient_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Invalid token"}`)
	})

	_, err := c.ListInvoices(sessionCtx())
	var ua *domain.ErrUnauthorized
	require.ErrorAs(t, err, &ua)
	assert.Equal(t, "Invalid token", ua.Message)
}

func TestInvoiceClient_CircuitOpens(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	var lastErr error
	for i := 0; i < 8; i++ {
		_, lastErr = c.ListInvoices(sessionCtx())
	}
	var open *domain.ErrCircuitOpen
	require.ErrorAs(t, lastErr, &open)
}

func TestInvoiceClient_ListCustomers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customer", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":"c1","firstName":"Asha","lastName":"Rao"},{"id":7,"firstName":"Dev","lastName":"K"}]`)
	})

	customers, err := c.ListCustomers(sessionCtx())
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Equal(t, "7", customers[1].ID)
}
