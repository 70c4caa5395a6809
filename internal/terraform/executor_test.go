package terraform

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CloudIDP/platform/internal/cache"
)

func newExecutorFixture() (*Executor, *cache.MemoryStore, *StateStore) {
	store := cache.NewMemoryStore()
	states := NewStateStore()
	return NewExecutor(store, states), store, states
}

func TestExecutePlanDerivesDeltas(t *testing.T) {
	ctx := context.Background()
	exec, _, _ := newExecutorFixture()

	result, err := exec.ExecutePlan(ctx, "job-1", PlanConfig{
		Workspace: "prod",
		Modules:   []string{"vpc", "eks", "rds"},
		Variables: map[string]string{"region": "us-east-1"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if !strings.HasPrefix(result.PlanID, "plan-") {
		t.Fatalf("unexpected plan id: %s", result.PlanID)
	}
	if result.ResourcesToAdd != 15 {
		t.Fatalf("expected 15 resources to add for 3 modules, got %d", result.ResourcesToAdd)
	}
	if result.ResourcesToChange != 1 || result.ResourcesToDestroy != 0 {
		t.Fatalf("unexpected deltas: %+v", result)
	}
	if result.PlanArtifactRef != "s3://terraform-plans/job-1/tfplan" {
		t.Fatalf("unexpected artifact ref: %s", result.PlanArtifactRef)
	}

	// Same module count, same deltas.
	again, err := exec.ExecutePlan(ctx, "job-2", PlanConfig{Workspace: "prod", Modules: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}
	if again.ResourcesToAdd != result.ResourcesToAdd {
		t.Fatalf("deltas not deterministic: %d vs %d", again.ResourcesToAdd, result.ResourcesToAdd)
	}
}

func TestExecutePlanRequiresWorkspace(t *testing.T) {
	exec, _, _ := newExecutorFixture()
	if _, err := exec.ExecutePlan(context.Background(), "job-1", PlanConfig{}); err == nil {
		t.Fatalf("expected error for missing workspace")
	}
}

func TestApplyConsumesStoredPlan(t *testing.T) {
	ctx := context.Background()
	exec, store, states := newExecutorFixture()

	plan, err := exec.ExecutePlan(ctx, "job-1", PlanConfig{Workspace: "prod", Modules: []string{"vpc"}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	apply, err := exec.ExecuteApply(ctx, "job-2", plan.PlanID, true)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if apply.ResourcesCreated != plan.ResourcesToAdd {
		t.Fatalf("apply should mirror plan deltas: %d vs %d", apply.ResourcesCreated, plan.ResourcesToAdd)
	}
	if apply.Outputs["workspace"] != "prod" {
		t.Fatalf("unexpected outputs: %v", apply.Outputs)
	}

	// Apply wrote a workspace state version.
	current, err := states.CurrentState(ctx, "prod")
	if err != nil {
		t.Fatalf("current state: %v", err)
	}
	if current.Serial != 1 {
		t.Fatalf("expected serial 1, got %d", current.Serial)
	}

	// Auto-approved apply deletes the plan artifact.
	if _, err := cache.GetTerraformPlan(ctx, store, plan.PlanID); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected plan consumed, got %v", err)
	}
	if _, err := exec.ExecuteApply(ctx, "job-3", plan.PlanID, true); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestApplyUnknownPlan(t *testing.T) {
	exec, _, _ := newExecutorFixture()
	if _, err := exec.ExecuteApply(context.Background(), "job-1", "plan-missing", false); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestDestroyUsesWorkspaceState(t *testing.T) {
	ctx := context.Background()
	exec, _, _ := newExecutorFixture()

	plan, err := exec.ExecutePlan(ctx, "job-1", PlanConfig{Workspace: "stage", Modules: []string{"vpc", "eks"}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if _, err := exec.ExecuteApply(ctx, "job-2", plan.PlanID, true); err != nil {
		t.Fatalf("apply: %v", err)
	}

	destroy, err := exec.ExecuteDestroy(ctx, "job-3", "stage")
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if destroy.ResourcesDestroyed != plan.ResourcesToAdd {
		t.Fatalf("expected destroy to cover applied resources: %d vs %d", destroy.ResourcesDestroyed, plan.ResourcesToAdd)
	}
}
