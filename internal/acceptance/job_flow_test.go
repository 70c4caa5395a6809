package acceptance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/CloudIDP/platform/internal/cache"
	"github.com/CloudIDP/platform/internal/inventory"
	"github.com/CloudIDP/platform/internal/jobs"
	"github.com/CloudIDP/platform/internal/models"
	"github.com/CloudIDP/platform/internal/queue"
	"github.com/CloudIDP/platform/internal/runner"
	"github.com/CloudIDP/platform/internal/service"
	"github.com/CloudIDP/platform/internal/terraform"
)

type stack struct {
	svc      *service.Service
	registry *jobs.MemoryRegistry
	runner   *runner.Runner
	cache    *cache.MemoryStore
}

func newStack() *stack {
	registry := jobs.NewMemoryRegistry()
	cacheStore := cache.NewMemoryStore()
	states := terraform.NewStateStore()
	executor := terraform.NewExecutor(cacheStore, states)
	svc := service.New(service.Deps{
		Registry:  registry,
		Broker:    queue.NewMemoryBroker(),
		Inventory: inventory.NewMemoryStore(),
		Cache:     cacheStore,
		Executor:  executor,
		States:    states,
		Publisher: inventory.NewPublisher(nil, nil),
		Mode:      "demo",
	})
	return &stack{
		svc:      svc,
		registry: registry,
		runner:   runner.New(registry, executor, time.Second),
		cache:    cacheStore,
	}
}

func TestSubmittedJobRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	s := newStack()

	submitted, err := s.svc.SubmitJob(ctx, service.SubmitJobRequest{
		Type:      models.JobTypeTerraformPlan,
		Config:    json.RawMessage(`{"workspace":"prod","modules":["vpc","eks"]}`),
		CreatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Job.Status != models.JobPending {
		t.Fatalf("expected pending after submit, got %s", submitted.Job.Status)
	}

	if err := s.runner.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	job, err := s.svc.JobStatus(ctx, submitted.Job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}

	var plan terraform.PlanResult
	if err := json.Unmarshal(job.Result, &plan); err != nil {
		t.Fatalf("decode plan result: %v", err)
	}
	if plan.ResourcesToAdd != 10 {
		t.Fatalf("expected 10 resources for 2 modules, got %d", plan.ResourcesToAdd)
	}

	// Completed is terminal: cancel is a structured error, never a panic.
	result, err := s.svc.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel terminal: %v", err)
	}
	if result.Status != "error" {
		t.Fatalf("expected structured error cancelling terminal job, got %+v", result)
	}
}

func TestCancelBeatsRunner(t *testing.T) {
	ctx := context.Background()
	s := newStack()

	submitted, err := s.svc.SubmitJob(ctx, service.SubmitJobRequest{Type: models.JobTypeResourceScan, CreatedBy: "alice"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.svc.CancelJob(ctx, submitted.Job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Nothing pending remains; the runner finds no work and the job stays
	// cancelled.
	if err := s.runner.RunOnce(ctx); err != jobs.ErrNotFound {
		t.Fatalf("expected idle runner, got %v", err)
	}
	job, err := s.svc.JobStatus(ctx, submitted.Job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if job.Status != models.JobCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
}

func TestSessionExpiryScenario(t *testing.T) {
	ctx := context.Background()
	s := newStack()

	sessions := cache.NewSessionStore(s.cache)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.cache.SetClock(func() time.Time { return now })
	sessions.SetClock(func() time.Time { return now })

	id, err := sessions.Create(ctx, "alice", nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := sessions.Get(ctx, id); err != nil {
		t.Fatalf("get inside ttl: %v", err)
	}

	now = now.Add(20 * time.Minute)
	if _, err := sessions.Get(ctx, id); err != cache.ErrNotFound {
		t.Fatalf("expected miss after ttl, got %v", err)
	}
}
