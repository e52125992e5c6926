package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/anraghav/visionhub/pkg/models"
	"github.com/google/uuid"
)

var planNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func queuedAnalysis() *models.Analysis {
	return &models.Analysis{
		ID:      uuid.New(),
		ImageID: uuid.New(),
		Status:  models.StatusQueued,
	}
}

func analysisIn(status string) *models.Analysis {
	a := queuedAnalysis()
	a.Status = status
	if status != models.StatusQueued {
		started := planNow.Add(-time.Minute)
		a.StartedAt = &started
	}
	return a
}

// --- transition table ---

func TestCanTransition_FullTable(t *testing.T) {
	all := []string{
		models.StatusQueued,
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCanceled,
	}
	allowed := map[[2]string]bool{
		{models.StatusQueued, models.StatusProcessing}:    true,
		{models.StatusQueued, models.StatusCanceled}:      true,
		{models.StatusProcessing, models.StatusCompleted}: true,
		{models.StatusProcessing, models.StatusFailed}:    true,
		{models.StatusProcessing, models.StatusCanceled}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			got := CanTransition(from, to)
			want := allowed[[2]string{from, to}]
			if got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestPlanTransition_UnknownStatus(t *testing.T) {
	_, err := PlanTransition(queuedAnalysis(), "exploded", nil, planNow)
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestPlanTransition_SameStatusIsNoOp(t *testing.T) {
	for _, status := range []string{
		models.StatusQueued,
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCanceled,
	} {
		plan, err := PlanTransition(analysisIn(status), status, nil, planNow)
		if err != nil {
			t.Errorf("%s -> %s: unexpected error %v", status, status, err)
		}
		if plan != nil {
			t.Errorf("%s -> %s: expected nil plan, got %+v", status, status, plan)
		}
	}
}

func TestPlanTransition_IllegalFromTerminal(t *testing.T) {
	for _, from := range []string{models.StatusCompleted, models.StatusFailed, models.StatusCanceled} {
		_, err := PlanTransition(analysisIn(from), models.StatusProcessing, nil, planNow)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s -> processing: expected ErrIllegalTransition, got %v", from, err)
		}
	}
}

func TestPlanTransition_QueuedDirectToCompletedIsIllegal(t *testing.T) {
	_, err := PlanTransition(queuedAnalysis(), models.StatusCompleted, nil, planNow)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestPlanTransition_QueuedToProcessingSetsStartedAt(t *testing.T) {
	plan, err := PlanTransition(queuedAnalysis(), models.StatusProcessing, nil, planNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.StartedAt == nil || !plan.StartedAt.Equal(planNow) {
		t.Errorf("expected started_at = %v, got %v", planNow, plan.StartedAt)
	}
	if plan.CompletedAt != nil {
		t.Errorf("expected no completed_at on entry into processing, got %v", plan.CompletedAt)
	}
}

func TestPlanTransition_ProcessingKeepsExistingStartedAt(t *testing.T) {
	a := analysisIn(models.StatusProcessing)
	plan, err := PlanTransition(a, models.StatusCompleted, nil, planNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.StartedAt != nil {
		t.Errorf("started_at already set, plan must not overwrite it: %v", plan.StartedAt)
	}
	if plan.CompletedAt == nil || !plan.CompletedAt.Equal(planNow) {
		t.Errorf("expected completed_at = %v, got %v", planNow, plan.CompletedAt)
	}
}

func TestPlanTransition_QueuedToCanceledSynthesizesStartedAt(t *testing.T) {
	plan, err := PlanTransition(queuedAnalysis(), models.StatusCanceled, nil, planNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.StartedAt == nil {
		t.Error("expected synthesized started_at on terminal entry from queued")
	}
	if plan.CompletedAt == nil {
		t.Error("expected completed_at on terminal entry")
	}
}

func TestPlanTransition_ErrorMessageOnlyOnFailed(t *testing.T) {
	msg := "CUDA out of memory"

	plan, err := PlanTransition(analysisIn(models.StatusProcessing), models.StatusFailed, &msg, planNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ErrorMessage == nil || *plan.ErrorMessage != msg {
		t.Errorf("expected error message stored on failed, got %v", plan.ErrorMessage)
	}

	plan, err = PlanTransition(analysisIn(models.StatusProcessing), models.StatusCompleted, &msg, planNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ErrorMessage != nil {
		t.Errorf("error message must not be stored on completed, got %q", *plan.ErrorMessage)
	}
}

// --- finalize ---

func TestPlanFinalize_RejectsNonTerminalTarget(t *testing.T) {
	_, err := PlanFinalize(queuedAnalysis(), models.StatusProcessing, nil, planNow)
	if !errors.Is(err, ErrNotTerminalStatus) {
		t.Fatalf("expected ErrNotTerminalStatus, got %v", err)
	}
}

func TestPlanFinalize_FastFinalizeFromQueued(t *testing.T) {
	for _, target := range []string{models.StatusCompleted, models.StatusFailed} {
		plan, err := PlanFinalize(queuedAnalysis(), target, nil, planNow)
		if err != nil {
			t.Fatalf("queued -> %s: unexpected error %v", target, err)
		}
		if plan.StartedAt == nil || !plan.StartedAt.Equal(planNow) {
			t.Errorf("queued -> %s: expected synthesized started_at, got %v", target, plan.StartedAt)
		}
		if plan.CompletedAt == nil || !plan.CompletedAt.Equal(planNow) {
			t.Errorf("queued -> %s: expected completed_at, got %v", target, plan.CompletedAt)
		}
	}
}

func TestPlanFinalize_SameTerminalStatusIsNoOp(t *testing.T) {
	plan, err := PlanFinalize(analysisIn(models.StatusCompleted), models.StatusCompleted, nil, planNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan != nil {
		t.Fatalf("expected nil plan, got %+v", plan)
	}
}

func TestPlanFinalize_TerminalToOtherTerminalIsIllegal(t *testing.T) {
	_, err := PlanFinalize(analysisIn(models.StatusCompleted), models.StatusFailed, nil, planNow)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestPlanFinalize_ProcessingUsesOrdinaryTable(t *testing.T) {
	plan, err := PlanFinalize(analysisIn(models.StatusProcessing), models.StatusCanceled, nil, planNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.From != models.StatusProcessing || plan.To != models.StatusCanceled {
		t.Errorf("unexpected plan %+v", plan)
	}
}
