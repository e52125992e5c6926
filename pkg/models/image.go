package models

import (
	"time"

	"github.com/google/uuid"
)

// Image is a source image owned by a project. Upload and CRUD live outside
// this service; the pipeline only needs the ownership chain for access checks.
type Image struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	ProjectID uuid.UUID `db:"project_id" json:"project_id"`
	Filename  string    `db:"filename"   json:"filename"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
