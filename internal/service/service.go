// Package service is the orchestration layer between the HTTP surface and
// the facades. Its public methods never panic: facade errors come back as
// structured results or wrapped errors the transport can map to a status.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/cache"
	"github.com/CloudIDP/platform/internal/inventory"
	"github.com/CloudIDP/platform/internal/jobs"
	"github.com/CloudIDP/platform/internal/models"
	"github.com/CloudIDP/platform/internal/queue"
	"github.com/CloudIDP/platform/internal/terraform"
)

// Service wires the capability facades together. All dependencies are
// injected at startup; nothing here reaches for globals.
type Service struct {
	registry  jobs.Registry
	broker    queue.Broker
	inventory inventory.Store
	cache     cache.Store
	executor  *terraform.Executor
	states    *terraform.StateStore
	publisher *inventory.Publisher
	mode      string
}

// Deps collects the service's constructor dependencies.
type Deps struct {
	Registry  jobs.Registry
	Broker    queue.Broker
	Inventory inventory.Store
	Cache     cache.Store
	Executor  *terraform.Executor
	States    *terraform.StateStore
	Publisher *inventory.Publisher
	Mode      string
}

func New(d Deps) *Service {
	return &Service{
		registry:  d.Registry,
		broker:    d.Broker,
		inventory: d.Inventory,
		cache:     d.Cache,
		executor:  d.Executor,
		states:    d.States,
		publisher: d.Publisher,
		mode:      d.Mode,
	}
}

// SubmitJobRequest is the submit payload.
type SubmitJobRequest struct {
	Type      models.JobType  `json:"jobType"`
	Config    json.RawMessage `json:"config"`
	CreatedBy string          `json:"createdBy"`
}

// SubmitJobResult reports a submit. Queue and audit failures are
// fire-and-forget: the job stays submitted and the failure shows up as a
// warning, not an error.
type SubmitJobResult struct {
	Status  string     `json:"status"`
	Job     models.Job `json:"job"`
	Queue   string     `json:"queue"`
	Warning string     `json:"warning,omitempty"`
}

// CancelResult is the structured cancel outcome. A terminal job yields
// Status "error" with a message rather than a Go error.
type CancelResult struct {
	Status  string      `json:"status"`
	Job     *models.Job `json:"job,omitempty"`
	Message string      `json:"message,omitempty"`
}

// queueForJob is the fixed job-type to queue routing.
func queueForJob(t models.JobType) string {
	switch t {
	case models.JobTypeTerraformPlan, models.JobTypeTerraformApply, models.JobTypeTerraformDestroy:
		return queue.TerraformExecution
	case models.JobTypeComplianceCheck:
		return queue.ComplianceScans
	case models.JobTypeCostAnalysis:
		return queue.CostAnalysis
	}
	return queue.ProvisioningJobs
}

// groupIDForJob keys terraform FIFO sends by workspace so plans and applies
// against one workspace stay ordered.
func groupIDForJob(t models.JobType, config json.RawMessage) string {
	switch t {
	case models.JobTypeTerraformPlan, models.JobTypeTerraformApply, models.JobTypeTerraformDestroy:
	default:
		return ""
	}
	var cfg struct {
		Workspace string `json:"workspace"`
	}
	if json.Unmarshal(config, &cfg) == nil && cfg.Workspace != "" {
		return cfg.Workspace
	}
	return "default"
}

func eventTypeForJob(t models.JobType) models.EventType {
	switch t {
	case models.JobTypeComplianceCheck:
		return models.EventComplianceCheck
	case models.JobTypeCostAnalysis:
		return models.EventCostAlert
	}
	return models.EventResourceUpdated
}

// SubmitJob registers the job, enqueues a dispatch message, and logs an
// audit event. The registry row is the source of truth: enqueue and audit
// failures degrade to warnings.
func (s *Service) SubmitJob(ctx context.Context, req SubmitJobRequest) (SubmitJobResult, error) {
	job, err := s.registry.Submit(ctx, jobs.SubmitInput{
		Type:      req.Type,
		Config:    req.Config,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return SubmitJobResult{}, fmt.Errorf("submit job: %w", err)
	}

	result := SubmitJobResult{Status: "submitted", Job: job, Queue: queueForJob(job.Type)}

	body, _ := json.Marshal(job)
	_, err = s.broker.Send(ctx, result.Queue, queue.SendInput{
		Body:    body,
		GroupID: groupIDForJob(job.Type, job.Config),
		DedupID: job.ID.String(),
	})
	if err != nil {
		result.Warning = fmt.Sprintf("enqueue failed: %v", err)
		log.Printf("[service] enqueue job %s to %s: %v", job.ID, result.Queue, err)
	}

	s.audit(ctx, inventory.EventInput{
		Type:     eventTypeForJob(job.Type),
		UserID:   req.CreatedBy,
		Action:   "job_submitted",
		Metadata: json.RawMessage(fmt.Sprintf(`{"jobId":%q,"jobType":%q}`, job.ID, job.Type)),
	})
	return result, nil
}

// JobStatus returns the current job record.
func (s *Service) JobStatus(ctx context.Context, id uuid.UUID) (models.Job, error) {
	return s.registry.Get(ctx, id)
}

// ListActiveJobs lists pending and running jobs, optionally by type.
func (s *Service) ListActiveJobs(ctx context.Context, jobType models.JobType) ([]models.Job, error) {
	return s.registry.ListActive(ctx, jobType)
}

// CancelJob cancels a pending or running job. Terminal jobs come back as a
// structured error result.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (CancelResult, error) {
	job, err := s.registry.Cancel(ctx, id)
	switch {
	case errors.Is(err, jobs.ErrTerminalState):
		return CancelResult{Status: "error", Message: "job already in terminal state"}, nil
	case errors.Is(err, jobs.ErrNotFound):
		return CancelResult{}, err
	case err != nil:
		return CancelResult{}, fmt.Errorf("cancel job: %w", err)
	}
	return CancelResult{Status: "cancelled", Job: &job}, nil
}

// RunTerraformPlan records a terraform_plan job, drives it through the
// lifecycle around the facade call, and returns the finished job.
func (s *Service) RunTerraformPlan(ctx context.Context, cfg terraform.PlanConfig, createdBy string) (models.Job, error) {
	config, err := json.Marshal(cfg)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal plan config: %w", err)
	}
	return s.runLifecycle(ctx, models.JobTypeTerraformPlan, config, createdBy, func(jobID uuid.UUID) (interface{}, error) {
		return s.executor.ExecutePlan(ctx, jobID.String(), cfg)
	})
}

// ApplyRequest drives a terraform apply.
type ApplyRequest struct {
	PlanID      string `json:"planId"`
	AutoApprove bool   `json:"autoApprove"`
}

// RunTerraformApply consumes a stored plan under a terraform_apply job.
func (s *Service) RunTerraformApply(ctx context.Context, req ApplyRequest, createdBy string) (models.Job, error) {
	config, err := json.Marshal(req)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal apply config: %w", err)
	}
	return s.runLifecycle(ctx, models.JobTypeTerraformApply, config, createdBy, func(jobID uuid.UUID) (interface{}, error) {
		return s.executor.ExecuteApply(ctx, jobID.String(), req.PlanID, req.AutoApprove)
	})
}

// RunTerraformDestroy tears a workspace down under a terraform_destroy job.
func (s *Service) RunTerraformDestroy(ctx context.Context, workspace, createdBy string) (models.Job, error) {
	config := json.RawMessage(fmt.Sprintf(`{"workspace":%q}`, workspace))
	return s.runLifecycle(ctx, models.JobTypeTerraformDestroy, config, createdBy, func(jobID uuid.UUID) (interface{}, error) {
		return s.executor.ExecuteDestroy(ctx, jobID.String(), workspace)
	})
}

// runLifecycle is the synchronous job wrapper: submit, claim, execute,
// finalize. A facade error lands on the job as status failed with the error
// recorded; the job record always comes back.
func (s *Service) runLifecycle(ctx context.Context, jobType models.JobType, config json.RawMessage, createdBy string, run func(uuid.UUID) (interface{}, error)) (models.Job, error) {
	job, err := s.registry.Submit(ctx, jobs.SubmitInput{Type: jobType, Config: config, CreatedBy: createdBy})
	if err != nil {
		return models.Job{}, fmt.Errorf("submit %s: %w", jobType, err)
	}
	job, err = s.registry.Transition(ctx, jobs.TransitionInput{ID: job.ID, Status: models.JobRunning})
	if err != nil {
		return job, fmt.Errorf("start %s: %w", jobType, err)
	}

	out, runErr := run(job.ID)
	if runErr != nil {
		job, err = s.registry.Transition(ctx, jobs.TransitionInput{
			ID:     job.ID,
			Status: models.JobFailed,
			Error:  runErr.Error(),
		})
		if err != nil {
			return job, fmt.Errorf("record %s failure: %w", jobType, err)
		}
		return job, nil
	}

	result, err := json.Marshal(out)
	if err != nil {
		return job, fmt.Errorf("marshal %s result: %w", jobType, err)
	}
	job, err = s.registry.Transition(ctx, jobs.TransitionInput{
		ID:     job.ID,
		Status: models.JobCompleted,
		Result: result,
	})
	if err != nil {
		return job, fmt.Errorf("finish %s: %w", jobType, err)
	}
	return job, nil
}

// WorkspaceState returns the latest state version for a workspace.
func (s *Service) WorkspaceState(ctx context.Context, workspace string) (models.StateVersion, error) {
	return s.states.CurrentState(ctx, workspace)
}

// WorkspaceHistory lists state versions, newest first.
func (s *Service) WorkspaceHistory(ctx context.Context, workspace string, limit int) ([]models.StateVersion, error) {
	return s.states.History(ctx, workspace, limit)
}

// LockWorkspace acquires the workspace lock.
func (s *Service) LockWorkspace(ctx context.Context, workspace, lockedBy string) (string, error) {
	return s.states.Lock(ctx, workspace, lockedBy)
}

// UnlockWorkspace releases the workspace lock.
func (s *Service) UnlockWorkspace(ctx context.Context, workspace, lockID string) error {
	return s.states.Unlock(ctx, workspace, lockID)
}

// CreateResource stores an inventory record, logs the audit event, and
// invalidates cached resource listings.
func (s *Service) CreateResource(ctx context.Context, in inventory.ResourceInput) (models.Resource, error) {
	res, err := s.inventory.CreateResource(ctx, in)
	if err != nil {
		return models.Resource{}, err
	}
	s.audit(ctx, inventory.EventInput{
		Type:         models.EventResourceCreated,
		UserID:       res.CreatedBy,
		ResourceUUID: &res.UUID,
		AccountID:    res.AccountID,
		Action:       "resource_created",
	})
	s.invalidateResourceLists(ctx)
	return res, nil
}

// UpdateResourceState records a state change, audits it, and invalidates
// cached listings.
func (s *Service) UpdateResourceState(ctx context.Context, id uuid.UUID, state models.ResourceState, metadata json.RawMessage, changedBy string) (models.Resource, error) {
	res, err := s.inventory.UpdateResourceState(ctx, id, state, metadata, changedBy)
	if err != nil {
		return models.Resource{}, err
	}
	s.audit(ctx, inventory.EventInput{
		Type:         models.EventResourceUpdated,
		UserID:       changedBy,
		ResourceUUID: &res.UUID,
		AccountID:    res.AccountID,
		Action:       "state_changed:" + string(state),
	})
	s.invalidateResourceLists(ctx)
	return res, nil
}

func (s *Service) GetResource(ctx context.Context, id uuid.UUID) (models.Resource, error) {
	return s.inventory.GetResource(ctx, id)
}

func (s *Service) SearchResources(ctx context.Context, filter inventory.ResourceFilter) ([]models.Resource, error) {
	return s.inventory.SearchResources(ctx, filter)
}

func (s *Service) ResourceHistory(ctx context.Context, id uuid.UUID) ([]models.ResourceEvent, error) {
	return s.inventory.GetResourceHistory(ctx, id)
}

// LogEvent appends an audit event and fans it out to the stream/archive.
func (s *Service) LogEvent(ctx context.Context, in inventory.EventInput) (models.AuditEvent, error) {
	ev, err := s.inventory.LogEvent(ctx, in)
	if err != nil {
		return models.AuditEvent{}, err
	}
	s.publisher.Publish(ctx, ev)
	return ev, nil
}

func (s *Service) QueryAuditLogs(ctx context.Context, filter inventory.EventFilter) ([]models.AuditEvent, error) {
	return s.inventory.QueryAuditLogs(ctx, filter)
}

// RecordViolation stores a finding and audits it as a policy_violation.
func (s *Service) RecordViolation(ctx context.Context, in inventory.ViolationInput) (models.PolicyViolation, error) {
	v, err := s.inventory.RecordViolation(ctx, in)
	if err != nil {
		return models.PolicyViolation{}, err
	}
	s.audit(ctx, inventory.EventInput{
		Type:         models.EventPolicyViolation,
		ResourceUUID: v.Resource,
		Action:       "violation_recorded:" + v.PolicyID,
		Result:       "failure",
	})
	return v, nil
}

func (s *Service) ResolveViolation(ctx context.Context, id uuid.UUID, resolvedBy, notes string) (models.PolicyViolation, error) {
	return s.inventory.ResolveViolation(ctx, id, resolvedBy, notes)
}

func (s *Service) ListOpenViolations(ctx context.Context, filter inventory.ViolationFilter) ([]models.PolicyViolation, error) {
	return s.inventory.ListOpenViolations(ctx, filter)
}

// SendMessage forwards one message to a named queue.
func (s *Service) SendMessage(ctx context.Context, queueName string, in queue.SendInput) (queue.SendResult, error) {
	return s.broker.Send(ctx, queueName, in)
}

// QueueStats reports per-queue counters for the whole topology.
func (s *Service) QueueStats(ctx context.Context) (map[string]queue.Attributes, error) {
	return s.broker.Stats(ctx)
}

// HealthReport is the /health payload.
type HealthReport struct {
	Status    string            `json:"status"`
	Mode      string            `json:"mode"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
}

// Health pings the stateful backends and reports per-service status.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:    "ok",
		Mode:      s.mode,
		Services:  map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	if err := s.registry.Ping(ctx); err != nil {
		report.Services["jobs"] = err.Error()
		report.Status = "degraded"
	} else {
		report.Services["jobs"] = "ok"
	}
	if err := s.inventory.Ping(ctx); err != nil {
		report.Services["inventory"] = err.Error()
		report.Status = "degraded"
	} else {
		report.Services["inventory"] = "ok"
	}
	return report
}

// audit is the best-effort audit path: a failed store write is logged and
// dropped, and a stored event is fanned out through the publisher.
func (s *Service) audit(ctx context.Context, in inventory.EventInput) {
	ev, err := s.inventory.LogEvent(ctx, in)
	if err != nil {
		log.Printf("[service] audit %s: %v", in.Action, err)
		return
	}
	s.publisher.Publish(ctx, ev)
}

func (s *Service) invalidateResourceLists(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.InvalidatePattern(ctx, "resources:"); err != nil {
		log.Printf("[service] invalidate resource lists: %v", err)
	}
}
