// Package runner is the demo worker: a single poll loop that claims pending
// jobs from the registry and executes them against the terraform facade (or
// a canned summary for the non-terraform types).
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/jobs"
	"github.com/CloudIDP/platform/internal/models"
	"github.com/CloudIDP/platform/internal/terraform"
)

// Runner polls the registry and works pending jobs one at a time.
type Runner struct {
	registry jobs.Registry
	executor *terraform.Executor
	interval time.Duration
}

func New(registry jobs.Registry, executor *terraform.Executor, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Runner{registry: registry, executor: executor, interval: interval}
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	log.Printf("[runner] started, poll interval %s", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[runner] stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil && !errors.Is(err, jobs.ErrNotFound) {
				log.Printf("[runner] poll: %v", err)
			}
		}
	}
}

// RunOnce claims and works the oldest pending job. Returns ErrNotFound when
// there is nothing to do.
func (r *Runner) RunOnce(ctx context.Context) error {
	active, err := r.registry.ListActive(ctx, "")
	if err != nil {
		return fmt.Errorf("list active: %w", err)
	}

	// Newest first in the listing, so claim from the back. A claim can lose
	// the race to a cancel; that just means moving on.
	for i := len(active) - 1; i >= 0; i-- {
		if active[i].Status != models.JobPending {
			continue
		}
		job, err := r.registry.Transition(ctx, jobs.TransitionInput{ID: active[i].ID, Status: models.JobRunning})
		if errors.Is(err, jobs.ErrInvalidTransition) || errors.Is(err, jobs.ErrTerminalState) || errors.Is(err, jobs.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("claim job %s: %w", active[i].ID, err)
		}
		r.work(ctx, job)
		return nil
	}
	return jobs.ErrNotFound
}

func (r *Runner) work(ctx context.Context, job models.Job) {
	log.Printf("[runner] working job %s (%s)", job.ID, job.Type)
	result, err := r.dispatch(ctx, job)
	if err != nil {
		r.finalize(ctx, job.ID, models.JobFailed, nil, err.Error())
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		r.finalize(ctx, job.ID, models.JobFailed, nil, fmt.Sprintf("marshal result: %v", err))
		return
	}
	r.finalize(ctx, job.ID, models.JobCompleted, raw, "")
}

func (r *Runner) dispatch(ctx context.Context, job models.Job) (interface{}, error) {
	switch job.Type {
	case models.JobTypeTerraformPlan:
		var cfg terraform.PlanConfig
		if err := json.Unmarshal(job.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode plan config: %w", err)
		}
		return r.executor.ExecutePlan(ctx, job.ID.String(), cfg)

	case models.JobTypeTerraformApply:
		var cfg struct {
			PlanID      string `json:"planId"`
			AutoApprove bool   `json:"autoApprove"`
		}
		if err := json.Unmarshal(job.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode apply config: %w", err)
		}
		return r.executor.ExecuteApply(ctx, job.ID.String(), cfg.PlanID, cfg.AutoApprove)

	case models.JobTypeTerraformDestroy:
		var cfg struct {
			Workspace string `json:"workspace"`
		}
		if err := json.Unmarshal(job.Config, &cfg); err != nil {
			return nil, fmt.Errorf("decode destroy config: %w", err)
		}
		return r.executor.ExecuteDestroy(ctx, job.ID.String(), cfg.Workspace)
	}

	// Scan, compliance, cost, provision, and backup jobs complete with a
	// canned summary in demo mode.
	return map[string]interface{}{
		"status":  "success",
		"jobType": job.Type,
		"summary": fmt.Sprintf("%s completed", job.Type),
	}, nil
}

// finalize moves a claimed job to its terminal state. A job cancelled
// between claim and finalize stays cancelled and the result is dropped.
func (r *Runner) finalize(ctx context.Context, id uuid.UUID, status models.JobStatus, result json.RawMessage, errMsg string) {
	_, err := r.registry.Transition(ctx, jobs.TransitionInput{
		ID:     id,
		Status: status,
		Result: result,
		Error:  errMsg,
	})
	switch {
	case errors.Is(err, jobs.ErrTerminalState), errors.Is(err, jobs.ErrInvalidTransition):
		log.Printf("[runner] job %s finished elsewhere, dropping result", id)
	case err != nil:
		log.Printf("[runner] finalize job %s: %v", id, err)
	default:
		log.Printf("[runner] job %s -> %s", id, status)
	}
}
