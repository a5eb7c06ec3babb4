package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Invoices
// ============================================================

// InvoiceStatus is the payment state of an invoice. It is the only field
// that decides which summary bucket a record is counted in.
type InvoiceStatus string

const (
	StatusPaid   InvoiceStatus = "Paid"
	StatusUnpaid InvoiceStatus = "Unpaid"
)

// ParseInvoiceStatus accepts any casing ("paid", "PAID", "Paid") and returns
// the canonical status.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid":
		return StatusPaid, nil
	case "unpaid":
		return StatusUnpaid, nil
	}
	return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q (expected Paid or Unpaid)", s)}
}

// IsValid reports whether s is one of the two known statuses.
func (s InvoiceStatus) IsValid() bool {
	return s == StatusPaid || s == StatusUnpaid
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// Date is a calendar date without time of day, serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate creates a Date at UTC midnight.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp (the upstream
// API emits both depending on the endpoint). The time of day is dropped.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, &ErrValidation{Field: "date", Message: fmt.Sprintf("invalid date %q", s)}
	}
	y, m, d := t.Date()
	return NewDate(y, m, d), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// MarshalJSON renders the date as "YYYY-MM-DD", or null when unset.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// CustomerName is the denormalized customer display name some upstream
// payloads embed in an invoice. It is never authoritative.
type CustomerName struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// InvoiceRecord is one billable transport job as seen by the front end.
type InvoiceRecord struct {
	ID          string        `json:"id"`
	CustomerRef string        `json:"customerId"`
	Customer    *CustomerName `json:"customer,omitempty"`
	Amount      Money         `json:"amount"`
	Date        Date          `json:"date"`
	Status      InvoiceStatus `json:"status"`

	// Display-only transport details; aggregation never reads them.
	VehicleRef      string `json:"vehicleId,omitempty"`
	DriverName      string `json:"driverName,omitempty"`
	LoadingAddress  string `json:"loadingAddress,omitempty"`
	DeliveryAddress string `json:"deliveryAddress,omitempty"`
	Weight          string `json:"weight,omitempty"`
	Rate            string `json:"rate,omitempty"`
}

// WithStatus returns a copy of the record carrying the given status.
func (r InvoiceRecord) WithStatus(status InvoiceStatus) InvoiceRecord {
	r.Status = status
	return r
}

// Matches reports whether the record matches a free-text search term: a
// case-insensitive substring of the customer's first or last name, or a
// substring of the invoice id. An empty term matches everything.
func (r InvoiceRecord) Matches(term string) bool {
	if term == "" {
		return true
	}
	if strings.Contains(r.ID, term) {
		return true
	}
	if r.Customer == nil {
		return false
	}
	t := strings.ToLower(term)
	return strings.Contains(strings.ToLower(r.Customer.FirstName), t) ||
		strings.Contains(strings.ToLower(r.Customer.LastName), t)
}

// InvoiceSummary is derived from the record set and never authoritative on
// its own.
type InvoiceSummary struct {
	PaidCount   int   `json:"paidCount"`
	UnpaidCount int   `json:"unpaidCount"`
	TotalPaid   Money `json:"totalPaid"`
	TotalUnpaid Money `json:"totalUnpaid"`
}

// Count returns the number of records the summary accounts for.
func (s InvoiceSummary) Count() int {
	return s.PaidCount + s.UnpaidCount
}

// Total returns the sum of both buckets.
func (s InvoiceSummary) Total() Money {
	return s.TotalPaid + s.TotalUnpaid
}

// InvoiceSnapshot is a consistent view of the records and their summary.
type InvoiceSnapshot struct {
	Invoices []InvoiceRecord `json:"invoices"`
	Summary  InvoiceSummary  `json:"summary"`
}

// ============================================================
// Invoice drafts (POST /v1/invoices)
// ============================================================

// InvoiceDraft is the create-invoice form as submitted by the front end.
// The upstream API computes the invoice total from weight and rate.
type InvoiceDraft struct {
	CustomerID      string `json:"customerId"`
	VehicleID       string `json:"vehicleId"`
	DriverName      string `json:"driverName"`
	Date            string `json:"date"`
	LoadingAddress  string `json:"loadingAddress"`
	DeliveryAddress string `json:"deliveryAddress"`
	Weight          string `json:"weight"`
	Rate            string `json:"rate"`
	Status          string `json:"status,omitempty"`
}

// Validate applies the same required-field rules as the create form so
// obviously bad drafts never cost an upstream round trip.
func (d InvoiceDraft) Validate() error {
	var errs ValidationErrors
	required := []struct{ field, value, msg string }{
		{"customerId", d.CustomerID, "Customer is required"},
		{"vehicleId", d.VehicleID, "Vehicle is required"},
		{"driverName", d.DriverName, "Driver name is required"},
		{"date", d.Date, "Date is required"},
		{"loadingAddress", d.LoadingAddress, "Loading address is required"},
		{"deliveryAddress", d.DeliveryAddress, "Delivery address is required"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, &ErrValidation{Field: r.field, Message: r.msg})
		}
	}
	if d.Date != "" {
		if _, err := ParseDate(d.Date); err != nil {
			errs = append(errs, &ErrValidation{Field: "date", Message: "Date is invalid"})
		}
	}
	if !isPositiveNumber(d.Weight) {
		errs = append(errs, &ErrValidation{Field: "weight", Message: "Valid weight is required"})
	}
	if !isPositiveNumber(d.Rate) {
		errs = append(errs, &ErrValidation{Field: "rate", Message: "Valid rate is required"})
	}
	if d.Status != "" {
		if _, err := ParseInvoiceStatus(d.Status); err != nil {
			errs = append(errs, &ErrValidation{Field: "status", Message: "Status must be Paid or Unpaid"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// StatusChangeRequest is the body for PATCH /v1/invoices/{invoiceId}/status.
type StatusChangeRequest struct {
	Status string `json:"status"`
}
