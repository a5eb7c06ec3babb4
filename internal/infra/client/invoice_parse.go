package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// wireInvoice is an invoice as the invoicing API sends it. The list endpoint
// carries the amount as "total", create and update carry "amount"; either
// may be a JSON number or a numeric string. Field matching by encoding/json
// is case-insensitive, so "Customer" and "customer" both land in Customer.
type wireInvoice struct {
	ID              json.RawMessage      `json:"id"`
	CustomerID      json.RawMessage      `json:"customerId"`
	Customer        *domain.CustomerName `json:"Customer"`
	Total           json.RawMessage      `json:"total"`
	Amount          json.RawMessage      `json:"amount"`
	Date            string               `json:"date"`
	Status          string               `json:"status"`
	VehicleID       json.RawMessage      `json:"vehicleId"`
	DriverName      string               `json:"driverName"`
	LoadingAddress  string               `json:"loadingAddress"`
	DeliveryAddress string               `json:"deliveryAddress"`
	Weight          json.RawMessage      `json:"weight"`
	Rate            json.RawMessage      `json:"rate"`
}

// ParseInvoice turns one raw invoice payload into a record. Every problem
// found is reported, each as a field of the returned domain.ValidationErrors.
func ParseInvoice(raw json.RawMessage) (domain.InvoiceRecord, error) {
	var w wireInvoice
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.InvoiceRecord{}, domain.ValidationErrors{
			{Field: "invoice", Message: fmt.Sprintf("malformed payload: %v", err)},
		}
	}
	return w.toRecord("")
}

// ParseInvoiceList parses a list payload. A single bad element fails the
// whole list; field names are prefixed with the element's position.
func ParseInvoiceList(raw json.RawMessage) ([]domain.InvoiceRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, domain.ValidationErrors{
			{Field: "invoices", Message: fmt.Sprintf("expected a list: %v", err)},
		}
	}

	records := make([]domain.InvoiceRecord, 0, len(items))
	var errs domain.ValidationErrors
	for i, item := range items {
		var w wireInvoice
		if err := json.Unmarshal(item, &w); err != nil {
			errs = append(errs, &domain.ErrValidation{
				Field:   fmt.Sprintf("invoices[%d]", i),
				Message: fmt.Sprintf("malformed payload: %v", err),
			})
			continue
		}
		r, err := w.toRecord(fmt.Sprintf("invoices[%d].", i))
		if err != nil {
			if ve, ok := err.(domain.ValidationErrors); ok {
				errs = append(errs, ve...)
			}
			continue
		}
		records = append(records, r)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return records, nil
}

func (w wireInvoice) toRecord(prefix string) (domain.InvoiceRecord, error) {
	var errs domain.ValidationErrors
	fail := func(field, msg string) {
		errs = append(errs, &domain.ErrValidation{Field: prefix + field, Message: msg})
	}

	r := domain.InvoiceRecord{
		Customer:        w.Customer,
		DriverName:      w.DriverName,
		LoadingAddress:  w.LoadingAddress,
		DeliveryAddress: w.DeliveryAddress,
	}

	id, ok := scalarString(w.ID)
	if !ok || id == "" {
		fail("id", "required")
	}
	r.ID = id
	r.CustomerRef, _ = scalarString(w.CustomerID)
	r.VehicleRef, _ = scalarString(w.VehicleID)
	r.Weight, _ = scalarString(w.Weight)
	r.Rate, _ = scalarString(w.Rate)

	amountField, amountRaw := "total", w.Total
	if isAbsent(amountRaw) {
		amountField, amountRaw = "amount", w.Amount
	}
	if isAbsent(amountRaw) {
		fail("amount", "required")
	} else if amount, err := parseAmount(amountRaw); err != nil {
		fail(amountField, err.Error())
	} else {
		r.Amount = amount
	}

	if status, err := domain.ParseInvoiceStatus(w.Status); err != nil {
		fail("status", fmt.Sprintf("unknown status %q", w.Status))
	} else {
		r.Status = status
	}

	if w.Date != "" {
		if d, err := domain.ParseDate(w.Date); err != nil {
			fail("date", fmt.Sprintf("invalid date %q", w.Date))
		} else {
			r.Date = d
		}
	}

	if len(errs) > 0 {
		return domain.InvoiceRecord{}, errs
	}
	return r, nil
}

// parseAmount converts a major-unit amount, given as a JSON number or a
// numeric string, to minor units.
func parseAmount(raw json.RawMessage) (domain.Money, error) {
	s, ok := scalarString(raw)
	if !ok {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("must not be negative: %s", d.String())
	}
	return domain.MoneyFromDecimal(d)
}

// scalarString returns a JSON string's contents or a JSON number's literal
// text. Anything else reports false.
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
