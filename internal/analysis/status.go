package analysis

import (
	"fmt"
	"time"

	"github.com/anraghav/visionhub/internal/store"
	"github.com/anraghav/visionhub/pkg/models"
)

// transitions is the full lifecycle table. Terminal states have no entry.
var transitions = map[string]map[string]bool{
	models.StatusQueued: {
		models.StatusProcessing: true,
		models.StatusCanceled:   true,
	},
	models.StatusProcessing: {
		models.StatusCompleted: true,
		models.StatusFailed:    true,
		models.StatusCanceled:  true,
	},
}

// CanTransition reports whether the lifecycle table permits from -> to.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// PlanTransition validates a requested status change against the lifecycle
// table and returns the store update to apply, stamped at now. A request for
// the current status is an idempotent no-op and returns a nil plan. The
// invariants: started_at is set on first entry into processing and
// synthesized on entry into any terminal state if still unset; completed_at
// is set exactly on entering a terminal state; an error message is stored
// only on transition to failed.
func PlanTransition(a *models.Analysis, target string, errorMessage *string, now time.Time) (*store.StatusTransition, error) {
	if !models.KnownStatus(target) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	if target == a.Status {
		return nil, nil
	}
	if !CanTransition(a.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.Status, target)
	}
	return buildPlan(a, target, errorMessage, now), nil
}

// PlanFinalize is the fast-finalize exception: the finalize operation may
// move queued straight to completed or failed in one step, synthesizing
// started_at. Any other source status goes through the ordinary table.
func PlanFinalize(a *models.Analysis, target string, errorMessage *string, now time.Time) (*store.StatusTransition, error) {
	if !models.KnownStatus(target) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	if !models.IsTerminalStatus(target) {
		return nil, fmt.Errorf("%w: got %q", ErrNotTerminalStatus, target)
	}
	if target == a.Status {
		return nil, nil
	}
	if a.Status == models.StatusQueued &&
		(target == models.StatusCompleted || target == models.StatusFailed) {
		return buildPlan(a, target, errorMessage, now), nil
	}
	return PlanTransition(a, target, errorMessage, now)
}

func buildPlan(a *models.Analysis, target string, errorMessage *string, now time.Time) *store.StatusTransition {
	t := &store.StatusTransition{From: a.Status, To: target}
	if a.StartedAt == nil && (target == models.StatusProcessing || models.IsTerminalStatus(target)) {
		started := now
		t.StartedAt = &started
	}
	if models.IsTerminalStatus(target) {
		completed := now
		t.CompletedAt = &completed
	}
	if target == models.StatusFailed && errorMessage != nil {
		t.ErrorMessage = errorMessage
	}
	return t
}
