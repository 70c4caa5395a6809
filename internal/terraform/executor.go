// Package terraform is the execution facade: plan, apply, and destroy return
// derived results without ever invoking a terraform process. Plan artifacts
// are parked in the cache so a later apply can consume them.
package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/cache"
)

// ErrPlanNotFound rejects an apply whose plan artifact is missing or expired.
var ErrPlanNotFound = errors.New("plan not found")

// PlanConfig describes what a plan covers.
type PlanConfig struct {
	Workspace string            `json:"workspace"`
	Modules   []string          `json:"modules"`
	Variables map[string]string `json:"variables,omitempty"`
}

// PlanResult is the outcome of a plan run.
type PlanResult struct {
	Status             string    `json:"status"`
	JobID              string    `json:"jobId"`
	PlanID             string    `json:"planId"`
	Workspace          string    `json:"workspace"`
	ResourcesToAdd     int       `json:"resourcesToAdd"`
	ResourcesToChange  int       `json:"resourcesToChange"`
	ResourcesToDestroy int       `json:"resourcesToDestroy"`
	EstimatedCost      string    `json:"estimatedCost"`
	PlanArtifactRef    string    `json:"planArtifactRef"`
	ExecutionTime      string    `json:"executionTime"`
	Timestamp          time.Time `json:"timestamp"`
}

// ApplyResult is the outcome of an apply run.
type ApplyResult struct {
	Status             string            `json:"status"`
	JobID              string            `json:"jobId"`
	PlanID             string            `json:"planId"`
	ResourcesCreated   int               `json:"resourcesCreated"`
	ResourcesModified  int               `json:"resourcesModified"`
	ResourcesDestroyed int               `json:"resourcesDestroyed"`
	StateArtifactRef   string            `json:"stateArtifactRef"`
	Outputs            map[string]string `json:"outputs"`
	ExecutionTime      string            `json:"executionTime"`
	Timestamp          time.Time         `json:"timestamp"`
}

// DestroyResult is the outcome of a destroy run.
type DestroyResult struct {
	Status             string    `json:"status"`
	JobID              string    `json:"jobId"`
	Workspace          string    `json:"workspace"`
	ResourcesDestroyed int       `json:"resourcesDestroyed"`
	ExecutionTime      string    `json:"executionTime"`
	Timestamp          time.Time `json:"timestamp"`
}

// Executor runs the facade. Results are derived from the module list so the
// same config always reports the same deltas.
type Executor struct {
	cache  cache.Store
	states *StateStore
}

func NewExecutor(cacheStore cache.Store, states *StateStore) *Executor {
	return &Executor{cache: cacheStore, states: states}
}

// resourcesPerModule keeps the derived deltas stable per config.
const resourcesPerModule = 5

// ExecutePlan produces a plan and caches its artifact for apply.
func (e *Executor) ExecutePlan(ctx context.Context, jobID string, cfg PlanConfig) (PlanResult, error) {
	if cfg.Workspace == "" {
		return PlanResult{}, fmt.Errorf("workspace required")
	}
	planID := "plan-" + uuid.New().String()

	toAdd := resourcesPerModule * len(cfg.Modules)
	if toAdd == 0 {
		toAdd = resourcesPerModule
	}
	result := PlanResult{
		Status:             "success",
		JobID:              jobID,
		PlanID:             planID,
		Workspace:          cfg.Workspace,
		ResourcesToAdd:     toAdd,
		ResourcesToChange:  len(cfg.Variables),
		ResourcesToDestroy: 0,
		EstimatedCost:      fmt.Sprintf("$%.2f/month", float64(toAdd)*8.50),
		PlanArtifactRef:    fmt.Sprintf("s3://terraform-plans/%s/tfplan", jobID),
		ExecutionTime:      "45s",
		Timestamp:          time.Now().UTC(),
	}

	artifact, err := json.Marshal(struct {
		PlanResult
		Config PlanConfig `json:"config"`
	}{result, cfg})
	if err != nil {
		return PlanResult{}, fmt.Errorf("marshal plan artifact: %w", err)
	}
	if err := cache.StoreTerraformPlan(ctx, e.cache, planID, artifact); err != nil {
		return PlanResult{}, fmt.Errorf("store plan artifact: %w", err)
	}
	return result, nil
}

// ExecuteApply consumes a cached plan. Applying an unknown or expired plan
// is ErrPlanNotFound; autoApprove false leaves the plan in place so a later
// approved apply can still use it.
func (e *Executor) ExecuteApply(ctx context.Context, jobID, planID string, autoApprove bool) (ApplyResult, error) {
	raw, err := cache.GetTerraformPlan(ctx, e.cache, planID)
	if errors.Is(err, cache.ErrNotFound) {
		return ApplyResult{}, ErrPlanNotFound
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("load plan artifact: %w", err)
	}

	var plan struct {
		PlanResult
		Config PlanConfig `json:"config"`
	}
	if err := json.Unmarshal(raw, &plan); err != nil {
		return ApplyResult{}, fmt.Errorf("decode plan artifact: %w", err)
	}

	result := ApplyResult{
		Status:             "success",
		JobID:              jobID,
		PlanID:             planID,
		ResourcesCreated:   plan.ResourcesToAdd,
		ResourcesModified:  plan.ResourcesToChange,
		ResourcesDestroyed: plan.ResourcesToDestroy,
		StateArtifactRef:   fmt.Sprintf("s3://terraform-states/%s/terraform.tfstate", jobID),
		Outputs: map[string]string{
			"workspace": plan.Config.Workspace,
		},
		ExecutionTime: "4m 23s",
		Timestamp:     time.Now().UTC(),
	}

	if e.states != nil {
		stateDoc, err := json.Marshal(map[string]interface{}{
			"resources": result.ResourcesCreated + result.ResourcesModified,
			"planId":    planID,
			"jobId":     jobID,
		})
		if err == nil {
			if _, err := e.states.StoreState(ctx, plan.Config.Workspace, stateDoc, "terraform"); err != nil {
				return ApplyResult{}, fmt.Errorf("store workspace state: %w", err)
			}
		}
	}

	if autoApprove {
		_, _ = e.cache.Delete(ctx, cache.TerraformPlanKey(planID))
	}
	return result, nil
}

// ExecuteDestroy tears down a workspace. The destroyed count is derived
// from the workspace's current state version when one exists.
func (e *Executor) ExecuteDestroy(ctx context.Context, jobID, workspace string) (DestroyResult, error) {
	if workspace == "" {
		return DestroyResult{}, fmt.Errorf("workspace required")
	}
	destroyed := resourcesPerModule
	if e.states != nil {
		if current, err := e.states.CurrentState(ctx, workspace); err == nil {
			var doc struct {
				Resources int `json:"resources"`
			}
			if json.Unmarshal(current.State, &doc) == nil && doc.Resources > 0 {
				destroyed = doc.Resources
			}
		}
	}
	return DestroyResult{
		Status:             "success",
		JobID:              jobID,
		Workspace:          workspace,
		ResourcesDestroyed: destroyed,
		ExecutionTime:      "3m 15s",
		Timestamp:          time.Now().UTC(),
	}, nil
}
