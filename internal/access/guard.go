// Package access resolves whether a caller may touch an image through its
// owning project. Project and membership management live outside this
// service; the guard only reads the ownership chain.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/anraghav/visionhub/internal/store"
	"github.com/anraghav/visionhub/pkg/models"
	"github.com/google/uuid"
)

// ErrDenied means the image exists but the caller is not a member of its project.
var ErrDenied = errors.New("access denied")

// Guard checks image-level access for a caller.
type Guard interface {
	AssertImageAccess(ctx context.Context, imageID, userID uuid.UUID) (*models.Image, error)
}

// StoreGuard implements Guard against the relational store.
type StoreGuard struct {
	store store.Store
}

func NewStoreGuard(s store.Store) *StoreGuard {
	return &StoreGuard{store: s}
}

// AssertImageAccess returns the image when userID belongs to its project,
// store.ErrNotFound when the image is unknown, and ErrDenied otherwise.
func (g *StoreGuard) AssertImageAccess(ctx context.Context, imageID, userID uuid.UUID) (*models.Image, error) {
	img, err := g.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}

	ok, err := g.store.UserHasProjectAccess(ctx, userID, img.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("check image access: %w", err)
	}
	if !ok {
		return nil, ErrDenied
	}
	return img, nil
}
