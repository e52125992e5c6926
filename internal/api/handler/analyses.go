package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/anraghav/visionhub/internal/access"
	"github.com/anraghav/visionhub/internal/analysis"
	mw "github.com/anraghav/visionhub/internal/api/middleware"
	"github.com/anraghav/visionhub/internal/api/response"
	"github.com/anraghav/visionhub/internal/store"
	"github.com/anraghav/visionhub/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Pagination caps per the callback protocol: analysis listings page up to
// 500, annotation listings up to 1000.
const (
	defaultPageLimit    = 100
	maxAnalysisLimit    = 500
	maxAnnotationsLimit = 1000
)

// PipelineService defines the interface the analysis handlers depend on.
type PipelineService interface {
	Create(ctx context.Context, userID, imageID uuid.UUID, p analysis.CreateParams) (*models.Analysis, error)
	ListForImage(ctx context.Context, userID, imageID uuid.UUID, skip, limit int) ([]*models.Analysis, int, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Analysis, []*models.Annotation, error)
	ListAnnotations(ctx context.Context, userID, id uuid.UUID, skip, limit int) ([]*models.Annotation, int, error)
	UpdateStatus(ctx context.Context, userID, id uuid.UUID, target string, errorMessage *string) (*models.Analysis, error)
	BulkAnnotate(ctx context.Context, id uuid.UUID, mode string, items []analysis.AnnotationParams) (int, error)
	PresignArtifact(ctx context.Context, id uuid.UUID, artifactType, filename string) (*analysis.PresignResult, error)
	Finalize(ctx context.Context, id uuid.UUID, target *string, errorMessage *string) (*models.Analysis, error)
}

type analysisPayload struct {
	*models.Analysis
	Annotations []*models.Annotation `json:"annotations"`
}

// NewCreateAnalysisHandler returns the handler for POST /images/{imageID}/analyses.
func NewCreateAnalysisHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
			return
		}
		imageID, ok := parseUUIDParam(w, r, "imageID")
		if !ok {
			return
		}

		var req struct {
			ImageID       uuid.UUID      `json:"image_id"`
			ModelName     string         `json:"model_name"`
			ModelVersion  string         `json:"model_version"`
			Parameters    map[string]any `json:"parameters"`
			ExternalJobID *string        `json:"external_job_id"`
			Priority      *int           `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.ModelName == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "model_name is required", nil)
			return
		}
		if req.ModelVersion == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "model_version is required", nil)
			return
		}

		a, err := svc.Create(r.Context(), userID, imageID, analysis.CreateParams{
			ImageID:       req.ImageID,
			ModelName:     req.ModelName,
			ModelVersion:  req.ModelVersion,
			Parameters:    req.Parameters,
			ExternalJobID: req.ExternalJobID,
			Priority:      req.Priority,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.Created(w, analysisPayload{Analysis: a, Annotations: []*models.Annotation{}})
	}
}

// NewListAnalysesHandler returns the handler for GET /images/{imageID}/analyses.
// Summaries only; annotations are not loaded on the list path.
func NewListAnalysesHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
			return
		}
		imageID, ok := parseUUIDParam(w, r, "imageID")
		if !ok {
			return
		}

		skip, limit := pagination(r, maxAnalysisLimit)
		analyses, total, err := svc.ListForImage(r.Context(), userID, imageID, skip, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if analyses == nil {
			analyses = []*models.Analysis{}
		}

		response.Collection(w, analyses, response.PaginationMeta{Skip: skip, Limit: limit, Total: total})
	}
}

// NewGetAnalysisHandler returns the handler for GET /analyses/{analysisID}.
func NewGetAnalysisHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
			return
		}
		analysisID, ok := parseUUIDParam(w, r, "analysisID")
		if !ok {
			return
		}

		a, annotations, err := svc.Get(r.Context(), userID, analysisID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if annotations == nil {
			annotations = []*models.Annotation{}
		}

		response.JSON(w, analysisPayload{Analysis: a, Annotations: annotations})
	}
}

// NewListAnnotationsHandler returns the handler for GET /analyses/{analysisID}/annotations.
func NewListAnnotationsHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
			return
		}
		analysisID, ok := parseUUIDParam(w, r, "analysisID")
		if !ok {
			return
		}

		skip, limit := pagination(r, maxAnnotationsLimit)
		annotations, total, err := svc.ListAnnotations(r.Context(), userID, analysisID, skip, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if annotations == nil {
			annotations = []*models.Annotation{}
		}

		response.Collection(w, annotations, response.PaginationMeta{Skip: skip, Limit: limit, Total: total})
	}
}

// NewUpdateStatusHandler returns the handler for PATCH /analyses/{analysisID}/status.
func NewUpdateStatusHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
			return
		}
		analysisID, ok := parseUUIDParam(w, r, "analysisID")
		if !ok {
			return
		}

		var req struct {
			Status       string  `json:"status"`
			ErrorMessage *string `json:"error_message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Status == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "status is required", nil)
			return
		}

		a, err := svc.UpdateStatus(r.Context(), userID, analysisID, req.Status, req.ErrorMessage)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, a)
	}
}

// NewBulkAnnotateHandler returns the handler for POST /analyses/{analysisID}/annotations:bulk.
// Signature verification happens in middleware before this runs.
func NewBulkAnnotateHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analysisID, ok := parseUUIDParam(w, r, "analysisID")
		if !ok {
			return
		}

		var req struct {
			Annotations []struct {
				AnnotationType string         `json:"annotation_type"`
				ClassName      *string        `json:"class_name"`
				Confidence     *float64       `json:"confidence"`
				Data           map[string]any `json:"data"`
				StoragePath    *string        `json:"storage_path"`
				Ordering       int            `json:"ordering"`
			} `json:"annotations"`
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Annotations == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "annotations is required", nil)
			return
		}

		items := make([]analysis.AnnotationParams, 0, len(req.Annotations))
		for _, a := range req.Annotations {
			items = append(items, analysis.AnnotationParams{
				AnnotationType: a.AnnotationType,
				ClassName:      a.ClassName,
				Confidence:     a.Confidence,
				Data:           a.Data,
				StoragePath:    a.StoragePath,
				Ordering:       a.Ordering,
			})
		}

		mode := req.Mode
		if mode == "" {
			mode = "append"
		}
		inserted, err := svc.BulkAnnotate(r.Context(), analysisID, mode, items)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"inserted": inserted,
			"mode":     mode,
		})
	}
}

// NewPresignArtifactHandler returns the handler for POST /analyses/{analysisID}/artifacts/presign.
func NewPresignArtifactHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analysisID, ok := parseUUIDParam(w, r, "analysisID")
		if !ok {
			return
		}

		var req struct {
			ArtifactType string `json:"artifact_type"`
			Filename     string `json:"filename"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		result, err := svc.PresignArtifact(r.Context(), analysisID, req.ArtifactType, req.Filename)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"storage_path":       result.StoragePath,
			"upload_url":         result.UploadURL,
			"method":             result.Method,
			"expires_in_seconds": result.ExpiresInSeconds,
		})
	}
}

// NewFinalizeHandler returns the handler for POST /analyses/{analysisID}/finalize.
func NewFinalizeHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analysisID, ok := parseUUIDParam(w, r, "analysisID")
		if !ok {
			return
		}

		var req struct {
			Status       *string `json:"status"`
			ErrorMessage *string `json:"error_message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		a, err := svc.Finalize(r.Context(), analysisID, req.Status, req.ErrorMessage)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, a)
	}
}

// --- helpers ---

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed id in path", nil)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request, maxLimit int) (skip, limit int) {
	skip = queryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit = queryInt(r, "limit", defaultPageLimit)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return skip, limit
}

func queryInt(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// writeServiceError maps service and store errors onto the protocol's
// status codes and stable error codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis or image not found", nil)
	case errors.Is(err, access.ErrDenied):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this image", nil)
	case errors.Is(err, analysis.ErrImageIDMismatch):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Image ID in path and body do not match", nil)
	case errors.Is(err, analysis.ErrModelNotAllowed):
		response.Error(w, http.StatusBadRequest, "MODEL_NOT_ALLOWED", "Model is not on the allow-list", nil)
	case errors.Is(err, analysis.ErrAnalysisLimitReached):
		response.Error(w, http.StatusBadRequest, "ANALYSIS_LIMIT_REACHED", "Analysis limit reached for this image", nil)
	case errors.Is(err, analysis.ErrTooManyAnnotations):
		response.Error(w, http.StatusBadRequest, "TOO_MANY_ANNOTATIONS", "Annotation batch exceeds the configured maximum", nil)
	case errors.Is(err, analysis.ErrUnknownStatus),
		errors.Is(err, analysis.ErrNotTerminalStatus),
		errors.Is(err, analysis.ErrInvalidMode),
		errors.Is(err, analysis.ErrInvalidAnnotation),
		errors.Is(err, analysis.ErrInvalidArtifactType):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, analysis.ErrIllegalTransition):
		response.Error(w, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error(), nil)
	case errors.Is(err, store.ErrStatusConflict):
		response.Error(w, http.StatusConflict, "STATUS_CONFLICT",
			"Analysis status changed concurrently; retry with fresh state", nil)
	case errors.Is(err, analysis.ErrPresignerUnavailable):
		response.Error(w, http.StatusInternalServerError, "STORAGE_NOT_CONFIGURED",
			"Artifact storage is not configured on this server", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
