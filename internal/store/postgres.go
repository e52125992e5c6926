package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anraghav/visionhub/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Images / access ---

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	var img models.Image
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, filename, created_at, updated_at FROM images WHERE id = $1`, id,
	).Scan(&img.ID, &img.ProjectID, &img.Filename, &img.CreatedAt, &img.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return &img, nil
}

func (s *PostgresStore) UserHasProjectAccess(ctx context.Context, userID, projectID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project access: %w", err)
	}
	return exists, nil
}

// --- Analyses ---

const analysisColumns = `id, image_id, model_name, model_version, status, error_message,
	parameters, provenance, requested_by_id, external_job_id, priority,
	created_at, started_at, completed_at, updated_at`

func scanAnalysis(row pgx.Row) (*models.Analysis, error) {
	var a models.Analysis
	err := row.Scan(&a.ID, &a.ImageID, &a.ModelName, &a.ModelVersion, &a.Status, &a.ErrorMessage,
		&a.Parameters, &a.Provenance, &a.RequestedByID, &a.ExternalJobID, &a.Priority,
		&a.CreatedAt, &a.StartedAt, &a.CompletedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ml_analyses (id, image_id, model_name, model_version, status, parameters,
		   requested_by_id, external_job_id, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ImageID, a.ModelName, a.ModelVersion, a.Status, a.Parameters,
		a.RequestedByID, a.ExternalJobID, a.Priority, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM ml_analyses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAnalysesForImage(ctx context.Context, imageID uuid.UUID, skip, limit int) ([]*models.Analysis, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ml_analyses WHERE image_id = $1`, imageID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM ml_analyses
		 WHERE image_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		imageID, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	return analyses, total, rows.Err()
}

func (s *PostgresStore) CountAnalysesForImage(ctx context.Context, imageID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ml_analyses WHERE image_id = $1`, imageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return count, nil
}

// ApplyStatusTransition updates the status row with a compare-and-swap on
// the status the transition was planned from. Zero affected rows means
// either the analysis is gone (ErrNotFound) or a concurrent writer changed
// the status first (ErrStatusConflict); the caller decides how to retry.
func (s *PostgresStore) ApplyStatusTransition(ctx context.Context, id uuid.UUID, t StatusTransition) error {
	now := time.Now().UTC()
	query := `UPDATE ml_analyses SET status = $3, updated_at = $4`
	args := []any{id, t.From, t.To, now}
	argIdx := 5

	if t.StartedAt != nil {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, *t.StartedAt)
		argIdx++
	}
	if t.CompletedAt != nil {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, *t.CompletedAt)
		argIdx++
	}
	if t.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *t.ErrorMessage)
		argIdx++
	}

	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply status transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM ml_analyses WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check analysis exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

// --- Annotations ---

// CreateAnnotations inserts the batch in a single transaction; either every
// annotation commits or none do.
func (s *PostgresStore) CreateAnnotations(ctx context.Context, annotations []*models.Annotation) error {
	if len(annotations) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin annotations tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, a := range annotations {
		batch.Queue(
			`INSERT INTO ml_annotations (id, analysis_id, annotation_type, class_name, confidence,
			   data, storage_path, ordering, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.ID, a.AnalysisID, a.AnnotationType, a.ClassName, a.Confidence,
			a.Data, a.StoragePath, a.Ordering, a.CreatedAt)
	}

	br := tx.SendBatch(ctx, batch)
	for range annotations {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert annotation: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close annotation batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit annotations: %w", err)
	}
	return nil
}

// ListAnnotations returns one page of an analysis's annotations in their
// caller-assigned order. A non-positive limit returns all of them.
func (s *PostgresStore) ListAnnotations(ctx context.Context, analysisID uuid.UUID, skip, limit int) ([]*models.Annotation, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ml_annotations WHERE analysis_id = $1`, analysisID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count annotations: %w", err)
	}

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, analysis_id, annotation_type, class_name, confidence, data, storage_path, ordering, created_at
		 FROM ml_annotations WHERE analysis_id = $1
		 ORDER BY ordering ASC, created_at ASC LIMIT $2 OFFSET $3`,
		analysisID, limitArg, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var annotations []*models.Annotation
	for rows.Next() {
		var a models.Annotation
		if err := rows.Scan(&a.ID, &a.AnalysisID, &a.AnnotationType, &a.ClassName, &a.Confidence,
			&a.Data, &a.StoragePath, &a.Ordering, &a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, &a)
	}
	return annotations, total, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
