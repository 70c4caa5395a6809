package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

func TestSubmitStartsPending(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	job, err := reg.Submit(ctx, SubmitInput{
		Type:      models.JobTypeTerraformPlan,
		Config:    json.RawMessage(`{"workspace":"prod"}`),
		CreatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != models.JobPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if job.CreatedAt.After(time.Now().UTC()) {
		t.Fatalf("createdAt in the future: %s", job.CreatedAt)
	}

	got, err := reg.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.JobPending {
		t.Fatalf("expected pending on read, got %s", got.Status)
	}
}

func TestSubmitRejectsUnknownType(t *testing.T) {
	reg := NewMemoryRegistry()
	if _, err := reg.Submit(context.Background(), SubmitInput{Type: "mystery"}); err == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

func TestCancelLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	job, err := reg.Submit(ctx, SubmitInput{Type: models.JobTypeResourceScan})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cancelled, err := reg.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if cancelled.Status != models.JobCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CompletedAt == nil {
		t.Fatalf("expected completedAt on cancel")
	}

	// Terminal is absorbing: a second cancel is rejected.
	if _, err := reg.Cancel(ctx, job.ID); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestTransitionGraph(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	job, err := reg.Submit(ctx, SubmitInput{Type: models.JobTypeComplianceCheck})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// pending -> completed skips running and is rejected.
	if _, err := reg.Transition(ctx, TransitionInput{ID: job.ID, Status: models.JobCompleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	running, err := reg.Transition(ctx, TransitionInput{ID: job.ID, Status: models.JobRunning})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if running.StartedAt == nil {
		t.Fatalf("expected startedAt on running")
	}

	// running -> pending goes backwards and is rejected.
	if _, err := reg.Transition(ctx, TransitionInput{ID: job.ID, Status: models.JobPending}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition going backwards, got %v", err)
	}

	done, err := reg.Transition(ctx, TransitionInput{
		ID:     job.ID,
		Status: models.JobCompleted,
		Result: json.RawMessage(`{"findings":0}`),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil || string(done.Result) != `{"findings":0}` {
		t.Fatalf("completion not recorded: %+v", done)
	}

	if _, err := reg.Transition(ctx, TransitionInput{ID: job.ID, Status: models.JobFailed}); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState after completion, got %v", err)
	}
}

func TestListActiveFilters(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	plan, _ := reg.Submit(ctx, SubmitInput{Type: models.JobTypeTerraformPlan})
	scan, _ := reg.Submit(ctx, SubmitInput{Type: models.JobTypeResourceScan})
	done, _ := reg.Submit(ctx, SubmitInput{Type: models.JobTypeResourceScan})

	if _, err := reg.Transition(ctx, TransitionInput{ID: done.ID, Status: models.JobRunning}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := reg.Transition(ctx, TransitionInput{ID: done.ID, Status: models.JobCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	all, err := reg.ListActive(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 active jobs, got %d", len(all))
	}

	scans, err := reg.ListActive(ctx, models.JobTypeResourceScan)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(scans) != 1 || scans[0].ID != scan.ID {
		t.Fatalf("type filter wrong: %+v", scans)
	}
	_ = plan
}

func TestCancelUnknownJob(t *testing.T) {
	reg := NewMemoryRegistry()
	if _, err := reg.Cancel(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
