package store

import (
	"context"
	"errors"
	"time"

	"github.com/anraghav/visionhub/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStatusConflict is returned when a status transition loses a race: the
// row's status no longer matches the status the transition was planned from.
var ErrStatusConflict = errors.New("analysis status changed concurrently")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	UserHasProjectAccess(ctx context.Context, userID, projectID uuid.UUID) (bool, error)

	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListAnalysesForImage(ctx context.Context, imageID uuid.UUID, skip, limit int) ([]*models.Analysis, int, error)
	CountAnalysesForImage(ctx context.Context, imageID uuid.UUID) (int, error)
	ApplyStatusTransition(ctx context.Context, id uuid.UUID, t StatusTransition) error

	CreateAnnotations(ctx context.Context, annotations []*models.Annotation) error
	ListAnnotations(ctx context.Context, analysisID uuid.UUID, skip, limit int) ([]*models.Annotation, int, error)
}

// StatusTransition is a planned, pre-validated status change. From is the
// status the plan was computed against; the update is applied with a
// compare-and-swap on it so a racing writer cannot be silently overwritten.
type StatusTransition struct {
	From         string
	To           string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}
