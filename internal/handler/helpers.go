package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const maxRequestBody = 1 << 20

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []*domain.ErrValidation `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON body"}
	}
	return nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var validationList domain.ValidationErrors
	var validation *domain.ErrValidation
	var notFound *domain.ErrNotFound
	var duplicate *domain.ErrDuplicateID
	var negative *domain.ErrNegativeAggregate
	var overflow *domain.ErrAggregateOverflow
	var drift *domain.ErrAggregateDrift
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var unauthorized *domain.ErrUnauthorized
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &validationList):
		logger.Debug("validation errors", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: validationList})
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Fields: []*domain.ErrValidation{validation}})
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &duplicate):
		logger.Debug("duplicate invoice", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &negative), errors.As(err, &overflow), errors.As(err, &drift):
		logger.Error("aggregation defect", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "invoice summary inconsistency detected")
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &external):
		logger.Error("invoice API failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, "invoice service unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
