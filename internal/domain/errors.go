package domain

import (
	"fmt"
	"strings"
)

// Error types for consistent error handling across the BFA.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrDuplicateID indicates an insert of a record whose id is already held.
type ErrDuplicateID struct {
	ID string
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate invoice id: %s", e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every field failure of one input. The upstream
// API reports them as a list and they are passed through unchanged.
type ValidationErrors []*ErrValidation

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// As lets errors.As find a *ErrValidation inside the list.
func (e ValidationErrors) As(target any) bool {
	if t, ok := target.(**ErrValidation); ok && len(e) > 0 {
		*t = e[0]
		return true
	}
	return false
}

// ErrNegativeAggregate signals an aggregation defect: a summary field went
// below zero. It must never happen in correct operation.
type ErrNegativeAggregate struct {
	Field string
	Value int64
}

func (e *ErrNegativeAggregate) Error() string {
	return fmt.Sprintf("aggregation defect: %s would be negative (%d)", e.Field, e.Value)
}

// ErrAggregateOverflow signals an aggregation defect: a summary field would
// leave the int64 range. Input bounds make it unreachable in correct
// operation.
type ErrAggregateOverflow struct {
	Field string
}

func (e *ErrAggregateOverflow) Error() string {
	return fmt.Sprintf("aggregation defect: %s would overflow", e.Field)
}

// ErrAggregateDrift signals that the maintained summary no longer equals a
// full recomputation over the records.
type ErrAggregateDrift struct {
	Maintained InvoiceSummary
	Recomputed InvoiceSummary
}

func (e *ErrAggregateDrift) Error() string {
	return fmt.Sprintf("aggregation drift: maintained=%+v recomputed=%+v", e.Maintained, e.Recomputed)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates a missing or rejected session token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
