package domain

// ============================================================
// Health API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded
	Sessions int             `json:"sessions"`
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an upstream dependency as seen
// through its circuit breaker.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"` // closed, half-open, open
	LastChecked string `json:"lastChecked"`
}

// InvoiceMutationResponse wraps the result of a create or status change:
// the affected record plus the summary right after it was applied.
type InvoiceMutationResponse struct {
	Message string         `json:"message,omitempty"`
	Invoice InvoiceRecord  `json:"invoice"`
	Summary InvoiceSummary `json:"summary"`
}

// LedgerMetrics is returned by GET /v1/metrics/ledger.
type LedgerMetrics struct {
	Loads           int64   `json:"loads"`
	Creates         int64   `json:"creates"`
	Transitions     int64   `json:"transitions"`
	FailedMutations int64   `json:"failedMutations"`
	NegativeDefects int64   `json:"negativeDefects"`
	OverflowDefects int64   `json:"overflowDefects"`
	DriftDefects    int64   `json:"driftDefects"`
	UpstreamErrors  int64   `json:"upstreamErrors"`
	SessionHitRate  float64 `json:"sessionHitRate"`
	ActiveSessions  int     `json:"activeSessions"`
	Period          string  `json:"period"`
}
