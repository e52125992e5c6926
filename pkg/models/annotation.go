package models

import (
	"time"

	"github.com/google/uuid"
)

// Annotation is one structured result item produced by an analysis, e.g. a
// classification, a bounding box, or a reference to a stored heatmap.
// Annotations are created only through bulk ingestion and are never mutated
// individually; they cascade-delete with their analysis.
type Annotation struct {
	ID             uuid.UUID      `db:"id"              json:"id"`
	AnalysisID     uuid.UUID      `db:"analysis_id"     json:"analysis_id"`
	AnnotationType string         `db:"annotation_type" json:"annotation_type"`
	ClassName      *string        `db:"class_name"      json:"class_name,omitempty"`
	Confidence     *float64       `db:"confidence"      json:"confidence,omitempty"`
	Data           map[string]any `db:"data"            json:"data"`
	StoragePath    *string        `db:"storage_path"    json:"storage_path,omitempty"`
	Ordering       int            `db:"ordering"        json:"ordering"`
	CreatedAt      time.Time      `db:"created_at"      json:"created_at"`
}
