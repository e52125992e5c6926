// Package analysis is the bookkeeping core of the ML pipeline: it owns the
// analysis lifecycle, creation limits, result ingestion, and artifact
// presigning, and persists everything through the store.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anraghav/visionhub/internal/access"
	"github.com/anraghav/visionhub/internal/artifacts"
	"github.com/anraghav/visionhub/internal/config"
	"github.com/anraghav/visionhub/internal/store"
	"github.com/anraghav/visionhub/pkg/models"
	"github.com/google/uuid"
)

// PipelineActor is the audit identity recorded for signature-authenticated
// callback operations, which carry no user.
const PipelineActor = "pipeline"

const statusCacheTTL = 10 * time.Minute

// StatusCache is the slice of the cache the service writes through to.
type StatusCache interface {
	SetAnalysisStatus(ctx context.Context, analysisID uuid.UUID, status string, ttl time.Duration) error
}

// Service orchestrates the pipeline operations. Construct with NewService;
// the ML configuration is fixed for the service lifetime.
type Service struct {
	store       store.Store
	guard       access.Guard
	presigner   artifacts.Presigner
	statusCache StatusCache
	cfg         config.MLConfig
	now         func() time.Time
}

// NewService creates the pipeline service. presigner and statusCache may be
// nil on deployments without object storage or redis.
func NewService(s store.Store, g access.Guard, p artifacts.Presigner, c StatusCache, cfg config.MLConfig) *Service {
	return &Service{
		store:       s,
		guard:       g,
		presigner:   p,
		statusCache: c,
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithClock returns a copy of the service using the given clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	clone := *s
	clone.now = now
	return &clone
}

// CreateParams is the caller-supplied portion of a new analysis.
type CreateParams struct {
	ImageID       uuid.UUID
	ModelName     string
	ModelVersion  string
	Parameters    map[string]any
	ExternalJobID *string
	Priority      *int
}

// Create registers a new analysis for an image after access, allow-list and
// quota checks. The count check reads the current count at call time; under
// concurrent creation the per-image limit is best-effort.
func (s *Service) Create(ctx context.Context, userID, pathImageID uuid.UUID, p CreateParams) (*models.Analysis, error) {
	if p.ImageID != pathImageID {
		return nil, ErrImageIDMismatch
	}
	if _, err := s.guard.AssertImageAccess(ctx, pathImageID, userID); err != nil {
		return nil, err
	}
	if !s.cfg.ModelAllowed(p.ModelName) {
		return nil, fmt.Errorf("%w: %q", ErrModelNotAllowed, p.ModelName)
	}

	count, err := s.store.CountAnalysesForImage(ctx, pathImageID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxAnalysesPerImage {
		return nil, ErrAnalysisLimitReached
	}

	now := s.now().UTC()
	params := p.Parameters
	if params == nil {
		params = map[string]any{}
	}
	a := &models.Analysis{
		ID:            uuid.New(),
		ImageID:       pathImageID,
		ModelName:     p.ModelName,
		ModelVersion:  p.ModelVersion,
		Status:        s.cfg.DefaultStatus,
		Parameters:    params,
		RequestedByID: userID,
		ExternalJobID: p.ExternalJobID,
		Priority:      p.Priority,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateAnalysis(ctx, a); err != nil {
		return nil, err
	}

	s.cacheStatus(ctx, a.ID, a.Status)
	slog.Info("analysis created",
		"analysis_id", a.ID,
		"image_id", a.ImageID,
		"model", a.ModelName,
		"requested_by", userID,
	)
	return a, nil
}

// ListForImage returns analysis summaries for an image, newest first.
// Annotations are not loaded here.
func (s *Service) ListForImage(ctx context.Context, userID, imageID uuid.UUID, skip, limit int) ([]*models.Analysis, int, error) {
	if _, err := s.guard.AssertImageAccess(ctx, imageID, userID); err != nil {
		return nil, 0, err
	}
	return s.store.ListAnalysesForImage(ctx, imageID, skip, limit)
}

// Get returns the full analysis record with its ordered annotations.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Analysis, []*models.Annotation, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.guard.AssertImageAccess(ctx, a.ImageID, userID); err != nil {
		return nil, nil, err
	}
	annotations, _, err := s.store.ListAnnotations(ctx, id, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	return a, annotations, nil
}

// ListAnnotations returns one page of an analysis's annotations.
func (s *Service) ListAnnotations(ctx context.Context, userID, id uuid.UUID, skip, limit int) ([]*models.Annotation, int, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.guard.AssertImageAccess(ctx, a.ImageID, userID); err != nil {
		return nil, 0, err
	}
	return s.store.ListAnnotations(ctx, id, skip, limit)
}

// UpdateStatus applies one lifecycle transition on behalf of an
// authenticated user. Requesting the current status is a no-op echo of the
// stored record; an unreachable status fails with ErrIllegalTransition; a
// lost race against a concurrent writer fails with store.ErrStatusConflict.
func (s *Service) UpdateStatus(ctx context.Context, userID, id uuid.UUID, target string, errorMessage *string) (*models.Analysis, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.guard.AssertImageAccess(ctx, a.ImageID, userID); err != nil {
		return nil, err
	}
	return s.transition(ctx, a, target, errorMessage, userID.String(), false)
}

// Finalize is the pipeline's terminal callback. With no status it is a
// read-only echo of the current record; from queued it may jump straight to
// completed or failed (fast-finalize); otherwise it follows the ordinary
// transition table.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, target *string, errorMessage *string) (*models.Analysis, error) {
	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return a, nil
	}
	return s.transition(ctx, a, *target, errorMessage, PipelineActor, true)
}

func (s *Service) transition(ctx context.Context, a *models.Analysis, target string, errorMessage *string, actor string, finalize bool) (*models.Analysis, error) {
	var plan *store.StatusTransition
	var err error
	if finalize {
		plan, err = PlanFinalize(a, target, errorMessage, s.now().UTC())
	} else {
		plan, err = PlanTransition(a, target, errorMessage, s.now().UTC())
	}
	if err != nil {
		return nil, err
	}
	if plan == nil {
		// Idempotent echo, no write and no timestamp churn.
		return a, nil
	}

	if err := s.store.ApplyStatusTransition(ctx, a.ID, *plan); err != nil {
		return nil, err
	}

	s.cacheStatus(ctx, a.ID, plan.To)
	slog.Info("analysis status transition",
		"analysis_id", a.ID,
		"from", plan.From,
		"to", plan.To,
		"actor", actor,
	)

	return s.store.GetAnalysis(ctx, a.ID)
}

// AnnotationParams is one annotation in a bulk upload.
type AnnotationParams struct {
	AnnotationType string
	ClassName      *string
	Confidence     *float64
	Data           map[string]any
	StoragePath    *string
	Ordering       int
}

// BulkAnnotate validates and atomically persists a batch of result
// annotations. mode "replace" is accepted for forward compatibility but
// currently behaves as append.
func (s *Service) BulkAnnotate(ctx context.Context, id uuid.UUID, mode string, items []AnnotationParams) (int, error) {
	if mode == "" {
		mode = "append"
	}
	if mode != "append" && mode != "replace" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if len(items) > s.cfg.MaxBulkAnnotations {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyAnnotations, len(items), s.cfg.MaxBulkAnnotations)
	}

	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	annotations := make([]*models.Annotation, 0, len(items))
	for i, item := range items {
		if item.AnnotationType == "" {
			return 0, fmt.Errorf("%w: annotation %d has no annotation_type", ErrInvalidAnnotation, i)
		}
		data := item.Data
		if data == nil {
			data = map[string]any{}
		}
		annotations = append(annotations, &models.Annotation{
			ID:             uuid.New(),
			AnalysisID:     a.ID,
			AnnotationType: item.AnnotationType,
			ClassName:      item.ClassName,
			Confidence:     item.Confidence,
			Data:           data,
			StoragePath:    item.StoragePath,
			Ordering:       item.Ordering,
			CreatedAt:      now,
		})
	}

	if err := s.store.CreateAnnotations(ctx, annotations); err != nil {
		return 0, err
	}

	slog.Info("annotations ingested",
		"analysis_id", a.ID,
		"count", len(annotations),
		"mode", mode,
	)
	return len(annotations), nil
}

// PresignResult is the write location handed back to the pipeline.
type PresignResult struct {
	StoragePath      string
	UploadURL        string
	Method           string
	ExpiresInSeconds int
}

// PresignArtifact issues a deterministic storage path and a presigned PUT
// URL for a binary artifact of the analysis.
func (s *Service) PresignArtifact(ctx context.Context, id uuid.UUID, artifactType, filename string) (*PresignResult, error) {
	if artifactType == "" {
		return nil, ErrInvalidArtifactType
	}
	if s.presigner == nil {
		return nil, ErrPresignerUnavailable
	}

	a, err := s.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}

	objectPath := artifacts.StoragePath(a.ID, artifactType, filename)
	uploadURL, err := s.presigner.PresignUpload(ctx, objectPath)
	if err != nil {
		return nil, err
	}

	return &PresignResult{
		StoragePath:      objectPath,
		UploadURL:        uploadURL,
		Method:           "PUT",
		ExpiresInSeconds: int(s.presigner.Expiry().Seconds()),
	}, nil
}

// cacheStatus is best-effort write-through; a cache failure never fails the request.
func (s *Service) cacheStatus(ctx context.Context, id uuid.UUID, status string) {
	if s.statusCache == nil {
		return
	}
	if err := s.statusCache.SetAnalysisStatus(ctx, id, status, statusCacheTTL); err != nil {
		slog.Warn("cache analysis status", "analysis_id", id, "error", err)
	}
}
