package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/CloudIDP/platform/internal/cache"
	"github.com/CloudIDP/platform/internal/jobs"
	"github.com/CloudIDP/platform/internal/models"
	"github.com/CloudIDP/platform/internal/terraform"
)

func newRunnerFixture() (*Runner, *jobs.MemoryRegistry) {
	registry := jobs.NewMemoryRegistry()
	cacheStore := cache.NewMemoryStore()
	executor := terraform.NewExecutor(cacheStore, terraform.NewStateStore())
	return New(registry, executor, time.Second), registry
}

func TestRunOnceCompletesTerraformPlan(t *testing.T) {
	ctx := context.Background()
	r, registry := newRunnerFixture()

	job, err := registry.Submit(ctx, jobs.SubmitInput{
		Type:   models.JobTypeTerraformPlan,
		Config: json.RawMessage(`{"workspace":"prod","modules":["vpc"]}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	done, err := registry.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	var result terraform.PlanResult
	if err := json.Unmarshal(done.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Workspace != "prod" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunOnceFailsBadConfig(t *testing.T) {
	ctx := context.Background()
	r, registry := newRunnerFixture()

	job, err := registry.Submit(ctx, jobs.SubmitInput{
		Type:   models.JobTypeTerraformApply,
		Config: json.RawMessage(`{"planId":"plan-missing"}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	done, err := registry.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != models.JobFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if done.Error == "" {
		t.Fatalf("expected error message on job")
	}
}

func TestRunOnceCompletesScanWithSummary(t *testing.T) {
	ctx := context.Background()
	r, registry := newRunnerFixture()

	job, err := registry.Submit(ctx, jobs.SubmitInput{Type: models.JobTypeResourceScan})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	done, err := registry.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(done.Result, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["status"] != "success" {
		t.Fatalf("unexpected summary: %v", summary)
	}
}

func TestRunOnceNothingToDo(t *testing.T) {
	r, _ := newRunnerFixture()
	if err := r.RunOnce(context.Background()); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when idle, got %v", err)
	}
}

func TestRunOnceWorksOldestFirst(t *testing.T) {
	ctx := context.Background()
	r, registry := newRunnerFixture()

	first, err := registry.Submit(ctx, jobs.SubmitInput{Type: models.JobTypeResourceScan})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := registry.Submit(ctx, jobs.SubmitInput{Type: models.JobTypeResourceScan})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	doneFirst, _ := registry.Get(ctx, first.ID)
	stillPending, _ := registry.Get(ctx, second.ID)
	if doneFirst.Status != models.JobCompleted {
		t.Fatalf("expected oldest job worked first, got %s", doneFirst.Status)
	}
	if stillPending.Status != models.JobPending {
		t.Fatalf("expected newer job untouched, got %s", stillPending.Status)
	}
}
