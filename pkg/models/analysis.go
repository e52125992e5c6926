package models

import (
	"time"

	"github.com/google/uuid"
)

// Analysis statuses. queued and processing are live; the rest are terminal.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Analysis tracks one externally-executed inference job attached to an image.
// The worker runs out of process and reports back over the signed callback
// endpoints; this record is the system of record for its lifecycle.
type Analysis struct {
	ID            uuid.UUID      `db:"id"              json:"id"`
	ImageID       uuid.UUID      `db:"image_id"        json:"image_id"`
	ModelName     string         `db:"model_name"      json:"model_name"`
	ModelVersion  string         `db:"model_version"   json:"model_version"`
	Status        string         `db:"status"          json:"status"`
	ErrorMessage  *string        `db:"error_message"   json:"error_message,omitempty"`
	Parameters    map[string]any `db:"parameters"      json:"parameters"`
	Provenance    map[string]any `db:"provenance"      json:"provenance,omitempty"`
	RequestedByID uuid.UUID      `db:"requested_by_id" json:"requested_by_id"`
	ExternalJobID *string        `db:"external_job_id" json:"external_job_id,omitempty"`
	Priority      *int           `db:"priority"        json:"priority,omitempty"`
	CreatedAt     time.Time      `db:"created_at"      json:"created_at"`
	StartedAt     *time.Time     `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt   *time.Time     `db:"completed_at"    json:"completed_at,omitempty"`
	UpdatedAt     time.Time      `db:"updated_at"      json:"updated_at"`
}

// IsTerminalStatus reports whether s is one of the end states an analysis
// never leaves.
func IsTerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// KnownStatus reports whether s is a recognized analysis status.
func KnownStatus(s string) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}
