package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/resilience"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("client")

const serviceName = "invoice-api"

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 8 << 20

// errUpstreamNotFound is a 404 from the API. Only callers that address a
// single resource turn it into *domain.ErrNotFound.
var errUpstreamNotFound = errors.New("invoice API returned status 404")

// InvoiceClient talks to the invoicing REST API. List and status calls are
// retried on transient failures; creates are sent once. All calls share one
// circuit breaker and are limited by a bulkhead.
type InvoiceClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewInvoiceClient creates a new InvoiceClient.
func NewInvoiceClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *InvoiceClient {
	return &InvoiceClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
	}
}

// ListInvoices fetches every invoice visible to the session.
func (c *InvoiceClient) ListInvoices(ctx context.Context) ([]domain.InvoiceRecord, error) {
	ctx, span := tracer.Start(ctx, "InvoiceClient.ListInvoices")
	defer span.End()

	body, err := c.call(ctx, "list invoices", http.MethodGet, "/invoice", nil, true)
	if err != nil {
		return nil, traceErr(span, err)
	}

	records, err := ParseInvoiceList(unwrapList(body, "invoices"))
	if err != nil {
		return nil, traceErr(span, err)
	}
	span.SetAttributes(attribute.Int("invoice.count", len(records)))
	return records, nil
}

// CreateInvoice submits a draft. The response carries the API's confirmation
// message and the stored invoice.
func (c *InvoiceClient) CreateInvoice(ctx context.Context, draft *domain.InvoiceDraft) (*domain.InvoiceRecord, string, error) {
	ctx, span := tracer.Start(ctx, "InvoiceClient.CreateInvoice")
	defer span.End()

	payload := *draft
	if payload.Status != "" {
		if s, err := domain.ParseInvoiceStatus(payload.Status); err == nil {
			payload.Status = s.String()
		}
	}

	body, err := c.call(ctx, "create invoice", http.MethodPost, "/invoice", payload, false)
	if err != nil {
		return nil, "", traceErr(span, err)
	}

	var resp struct {
		Message string          `json:"message"`
		Invoice json.RawMessage `json:"invoice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", traceErr(span, domain.ValidationErrors{
			{Field: "invoice", Message: fmt.Sprintf("malformed create response: %v", err)},
		})
	}
	if isAbsent(resp.Invoice) {
		return nil, "", traceErr(span, domain.ValidationErrors{
			{Field: "invoice", Message: "create response carries no invoice"},
		})
	}

	record, err := ParseInvoice(resp.Invoice)
	if err != nil {
		return nil, "", traceErr(span, err)
	}
	span.SetAttributes(attribute.String("invoice.id", record.ID))
	return &record, resp.Message, nil
}

// SetInvoiceStatus sets an invoice's status and returns the updated invoice
// as the API stored it.
func (c *InvoiceClient) SetInvoiceStatus(ctx context.Context, id string, status domain.InvoiceStatus) (*domain.InvoiceRecord, error) {
	ctx, span := tracer.Start(ctx, "InvoiceClient.SetInvoiceStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("invoice.id", id),
		attribute.String("invoice.status", status.String()),
	)

	path := "/invoice/" + url.PathEscape(id)
	body, err := c.call(ctx, "update invoice "+id, http.MethodPatch, path, domain.StatusChangeRequest{Status: status.String()}, true)
	if errors.Is(err, errUpstreamNotFound) {
		return nil, traceErr(span, &domain.ErrNotFound{Resource: "invoice", ID: id})
	}
	if err != nil {
		return nil, traceErr(span, err)
	}

	record, err := ParseInvoice(unwrapObject(body, "invoice"))
	if err != nil {
		return nil, traceErr(span, err)
	}
	return &record, nil
}

// ListCustomers fetches the customer directory.
func (c *InvoiceClient) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	ctx, span := tracer.Start(ctx, "InvoiceClient.ListCustomers")
	defer span.End()

	body, err := c.call(ctx, "list customers", http.MethodGet, "/customer", nil, true)
	if err != nil {
		return nil, traceErr(span, err)
	}

	var wire []struct {
		ID        json.RawMessage `json:"id"`
		FirstName string          `json:"firstName"`
		LastName  string          `json:"lastName"`
	}
	if err := json.Unmarshal(unwrapList(body, "customers"), &wire); err != nil {
		return nil, traceErr(span, domain.ValidationErrors{
			{Field: "customers", Message: fmt.Sprintf("malformed payload: %v", err)},
		})
	}

	customers := make([]domain.Customer, 0, len(wire))
	for _, w := range wire {
		id, ok := scalarString(w.ID)
		if !ok || id == "" {
			continue
		}
		customers = append(customers, domain.Customer{ID: id, FirstName: w.FirstName, LastName: w.LastName})
	}
	return customers, nil
}

// call performs one logical request through the bulkhead, the circuit
// breaker and, when retry is set, the backoff loop. It returns the response
// body of a 2xx answer.
func (c *InvoiceClient) call(ctx context.Context, op, method, path string, payload any, retry bool) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, mapErr(op, err)
	}
	defer c.bulkhead.Release()

	cfg := c.cfg
	if !retry {
		cfg.MaxRetries = 0
	}
	idempotencyKey := ""
	if method == http.MethodPost {
		idempotencyKey = uuid.NewString()
	}

	result, err := c.cb.Execute(func() (any, error) {
		var body []byte
		innerErr := resilience.RetryWithBackoff(ctx, cfg, func() error {
			var err error
			body, err = c.do(ctx, method, path, encoded, idempotencyKey)
			return err
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return body, nil
	})
	if err != nil {
		return nil, mapErr(op, err)
	}
	return result.([]byte), nil
}

func (c *InvoiceClient) do(ctx context.Context, method, path string, payload []byte, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	// The API expects the raw token, without a scheme prefix.
	if s, ok := domain.SessionFromContext(ctx); ok && s.Token != "" {
		req.Header.Set("Authorization", s.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, resilience.Permanent(parseRejection(body))
	case resp.StatusCode == http.StatusNotFound:
		return nil, resilience.Permanent(fmt.Errorf("%s %s: %w", method, path, errUpstreamNotFound))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resilience.Permanent(&domain.ErrUnauthorized{Message: upstreamMessage(body)})
	case resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout:
		return nil, resilience.Permanent(fmt.Errorf("invoice API returned status %d: %s", resp.StatusCode, upstreamMessage(body)))
	}
	return nil, fmt.Errorf("invoice API returned status %d", resp.StatusCode)
}

// mapErr turns a failed call into the domain error the service layer
// branches on. Rejections the API made on purpose pass through unchanged.
func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ErrCircuitOpen{Service: serviceName}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: op}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.ErrTimeout{Operation: op}
	}

	if resilience.IsPermanent(err) {
		inner := resilience.Unwrap(err)
		var (
			ve   domain.ValidationErrors
			auth *domain.ErrUnauthorized
		)
		if errors.As(inner, &ve) || errors.As(inner, &auth) {
			return inner
		}
		err = inner
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &domain.ErrExternalService{Service: serviceName, Err: fmt.Errorf("%s: %w", op, err)}
}

// parseRejection reads a 400/422 body. Both a field list
// ({"errors":[{"field","message"}]}, with "param"/"msg" accepted as
// aliases) and a bare {"message"} are understood.
func parseRejection(body []byte) domain.ValidationErrors {
	var resp struct {
		Message string `json:"message"`
		Errors  []struct {
			Field   string `json:"field"`
			Param   string `json:"param"`
			Path    string `json:"path"`
			Message string `json:"message"`
			Msg     string `json:"msg"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Errors) > 0 {
		out := make(domain.ValidationErrors, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			field := firstNonEmpty(e.Field, e.Param, e.Path)
			out = append(out, &domain.ErrValidation{Field: field, Message: firstNonEmpty(e.Message, e.Msg)})
		}
		return out
	}
	msg := resp.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = "rejected by invoice API"
	}
	return domain.ValidationErrors{{Field: "invoice", Message: msg}}
}

func upstreamMessage(body []byte) string {
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return resp.Message
	}
	return strings.TrimSpace(string(body))
}

// unwrapList accepts either a bare array or an object holding it under key.
func unwrapList(body []byte, key string) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			if v, ok := obj[key]; ok {
				return v
			}
		}
	}
	return trimmed
}

// unwrapObject returns the object under key when the body wraps one, and the
// body itself otherwise.
func unwrapObject(body []byte, key string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		if v, ok := obj[key]; ok && len(bytes.TrimSpace(v)) > 0 && bytes.TrimSpace(v)[0] == '{' {
			return v
		}
	}
	return body
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func traceErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
