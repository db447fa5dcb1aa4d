package models

// ReconcileStatus classifies how a record was resolved.
type ReconcileStatus string

const (
	StatusCreated  ReconcileStatus = "created"
	StatusExisting ReconcileStatus = "existing"
	StatusSkipped  ReconcileStatus = "skipped"
	StatusFailed   ReconcileStatus = "failed"
)

// ReconcileResult is the outcome of reconciling one record.
type ReconcileResult struct {
	Status  ReconcileStatus
	LocalID int64
	Err     error
}

// Resolved reports whether the record ended up mapped to a local item.
func (r ReconcileResult) Resolved() bool {
	return r.Status == StatusCreated || r.Status == StatusExisting
}

// Outcome is the per-record line of a run report.
type Outcome struct {
	Position   int             `json:"position"`
	ExternalID string          `json:"external_id"`
	Title      string          `json:"title"`
	Kind       string          `json:"kind"`
	Status     ReconcileStatus `json:"status"`
	LocalID    int64           `json:"local_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Redirect   string          `json:"redirect,omitempty"`
}

// Failure is a non-fatal error scoped to one term or one asset reference.
type Failure struct {
	ExternalID string `json:"external_id"`
	Subject    string `json:"subject"`
	Reason     string `json:"reason"`
}
