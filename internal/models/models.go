// Package models contains the canonical entities and status vocabularies
// shared by the CloudIDP backend facades.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the closed lifecycle vocabulary for jobs.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobType enumerates the work the platform dispatches.
type JobType string

const (
	JobTypeTerraformPlan    JobType = "terraform_plan"
	JobTypeTerraformApply   JobType = "terraform_apply"
	JobTypeTerraformDestroy JobType = "terraform_destroy"
	JobTypeAccountProvision JobType = "account_provision"
	JobTypeResourceScan     JobType = "resource_scan"
	JobTypeComplianceCheck  JobType = "compliance_check"
	JobTypeCostAnalysis     JobType = "cost_analysis"
	JobTypeBackupRestore    JobType = "backup_restore"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeTerraformPlan, JobTypeTerraformApply, JobTypeTerraformDestroy,
		JobTypeAccountProvision, JobTypeResourceScan, JobTypeComplianceCheck,
		JobTypeCostAnalysis, JobTypeBackupRestore:
		return true
	}
	return false
}

// Job is the tracked unit of asynchronous work.
type Job struct {
	ID          uuid.UUID       `json:"jobId"`
	Type        JobType         `json:"jobType"`
	Status      JobStatus       `json:"status"`
	Config      json.RawMessage `json:"config"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ResourceState enumerates the inventory states. Transitions are
// unrestricted: the platform records state changes, it does not police them.
type ResourceState string

const (
	ResourcePending      ResourceState = "pending"
	ResourceProvisioning ResourceState = "provisioning"
	ResourceActive       ResourceState = "active"
	ResourceUpdating     ResourceState = "updating"
	ResourceDeleting     ResourceState = "deleting"
	ResourceDeleted      ResourceState = "deleted"
	ResourceFailed       ResourceState = "failed"
)

// Valid reports whether s is a known resource state.
func (s ResourceState) Valid() bool {
	switch s {
	case ResourcePending, ResourceProvisioning, ResourceActive,
		ResourceUpdating, ResourceDeleting, ResourceDeleted, ResourceFailed:
		return true
	}
	return false
}

// Resource is a CMDB inventory entry.
type Resource struct {
	UUID        uuid.UUID         `json:"resourceUuid"`
	Type        string            `json:"resourceType"`
	ResourceID  string            `json:"resourceId"`
	AccountID   string            `json:"accountId"`
	Region      string            `json:"region"`
	State       ResourceState     `json:"state"`
	Tags        map[string]string `json:"tags"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	CreatedBy   string            `json:"createdBy"`
	CostCenter  string            `json:"costCenter"`
	Environment string            `json:"environment"`
}

// ResourceEvent is one entry in a resource's state-change history.
type ResourceEvent struct {
	Timestamp     time.Time     `json:"timestamp"`
	Event         string        `json:"event"`
	PreviousState ResourceState `json:"previousState,omitempty"`
	NewState      ResourceState `json:"newState"`
	ChangedBy     string        `json:"changedBy"`
}

// EventType enumerates the audit event vocabulary.
type EventType string

const (
	EventResourceCreated EventType = "resource_created"
	EventResourceUpdated EventType = "resource_updated"
	EventResourceDeleted EventType = "resource_deleted"
	EventPolicyViolation EventType = "policy_violation"
	EventComplianceCheck EventType = "compliance_check"
	EventCostAlert       EventType = "cost_alert"
	EventAccessGranted   EventType = "access_granted"
	EventAccessRevoked   EventType = "access_revoked"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventResourceCreated, EventResourceUpdated, EventResourceDeleted,
		EventPolicyViolation, EventComplianceCheck, EventCostAlert,
		EventAccessGranted, EventAccessRevoked:
		return true
	}
	return false
}

// AuditEvent is an append-only audit record. Events are never mutated or
// deleted once logged.
type AuditEvent struct {
	UUID         uuid.UUID       `json:"eventUuid"`
	Type         EventType       `json:"eventType"`
	Timestamp    time.Time       `json:"timestamp"`
	UserID       string          `json:"userId"`
	ResourceUUID *uuid.UUID      `json:"resourceUuid,omitempty"`
	AccountID    string          `json:"accountId,omitempty"`
	Action       string          `json:"action"`
	Result       string          `json:"result"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// ViolationStatus is open or resolved; resolution is one-way.
type ViolationStatus string

const (
	ViolationOpen     ViolationStatus = "open"
	ViolationResolved ViolationStatus = "resolved"
)

// PolicyViolation records a policy/compliance finding against a resource.
type PolicyViolation struct {
	UUID        uuid.UUID       `json:"violationUuid"`
	PolicyID    string          `json:"policyId"`
	Resource    *uuid.UUID      `json:"resourceUuid,omitempty"`
	Severity    string          `json:"severity"`
	Description string          `json:"description"`
	Remediation string          `json:"remediation,omitempty"`
	DetectedAt  time.Time       `json:"detectedAt"`
	Status      ViolationStatus `json:"status"`
	ResolvedAt  *time.Time      `json:"resolvedAt,omitempty"`
	ResolvedBy  string          `json:"resolvedBy,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// StateVersion is one stored version of a Terraform workspace state.
type StateVersion struct {
	Version   uuid.UUID       `json:"stateVersion"`
	Workspace string          `json:"workspace"`
	Serial    int64           `json:"serial"`
	Lineage   string          `json:"lineage"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
	CreatedBy string          `json:"createdBy"`
}

// Session is an authenticated user session held in the session store.
type Session struct {
	ID        string                 `json:"sessionId"`
	UserID    string                 `json:"userId"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
	UpdatedAt *time.Time             `json:"updatedAt,omitempty"`
}
