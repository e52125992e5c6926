package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an internal caller identity. User management is external; analyses
// reference a user only for audit via requested_by_id.
type User struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Email       string    `db:"email"        json:"email"`
	DisplayName string    `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}
