// Package inventory is the resource/audit persistence facade: CMDB resource
// records with state-change history, an append-only audit log, and policy
// violation tracking.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved rejects resolving a violation twice; the
	// open -> resolved transition is one-way.
	ErrAlreadyResolved = errors.New("violation already resolved")
)

// Store is the inventory capability. Audit events are append-only: nothing
// in this interface mutates or deletes one. Resource state transitions are
// deliberately unrestricted (any state to any state).
type Store interface {
	CreateResource(ctx context.Context, in ResourceInput) (models.Resource, error)
	UpdateResourceState(ctx context.Context, id uuid.UUID, state models.ResourceState, metadata json.RawMessage, changedBy string) (models.Resource, error)
	GetResource(ctx context.Context, id uuid.UUID) (models.Resource, error)
	SearchResources(ctx context.Context, filter ResourceFilter) ([]models.Resource, error)
	GetResourceHistory(ctx context.Context, id uuid.UUID) ([]models.ResourceEvent, error)

	LogEvent(ctx context.Context, in EventInput) (models.AuditEvent, error)
	QueryAuditLogs(ctx context.Context, filter EventFilter) ([]models.AuditEvent, error)

	RecordViolation(ctx context.Context, in ViolationInput) (models.PolicyViolation, error)
	ResolveViolation(ctx context.Context, id uuid.UUID, resolvedBy, notes string) (models.PolicyViolation, error)
	ListOpenViolations(ctx context.Context, filter ViolationFilter) ([]models.PolicyViolation, error)

	Ping(ctx context.Context) error
}

type ResourceInput struct {
	UUID       uuid.UUID
	Type       string
	ResourceID string
	AccountID  string
	Region     string
	State      models.ResourceState
	Tags       map[string]string
	Metadata   json.RawMessage
	CreatedBy  string
}

// derive fills defaults the way the platform always has: new resources are
// active unless told otherwise, and cost center / environment come from the
// conventional tags.
func (in *ResourceInput) derive() {
	if in.UUID == uuid.Nil {
		in.UUID = uuid.New()
	}
	if in.State == "" {
		in.State = models.ResourceActive
	}
	if in.Tags == nil {
		in.Tags = map[string]string{}
	}
	if in.CreatedBy == "" {
		in.CreatedBy = "system"
	}
}

func (in ResourceInput) costCenter() string {
	if v, ok := in.Tags["CostCenter"]; ok && v != "" {
		return v
	}
	return "unassigned"
}

func (in ResourceInput) environment() string {
	if v, ok := in.Tags["Environment"]; ok && v != "" {
		return v
	}
	return "unknown"
}

type ResourceFilter struct {
	Type          string
	AccountID     string
	Region        string
	State         models.ResourceState
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

type EventInput struct {
	UUID         uuid.UUID
	Type         models.EventType
	UserID       string
	ResourceUUID *uuid.UUID
	AccountID    string
	Action       string
	Result       string
	Metadata     json.RawMessage
}

func (in *EventInput) derive() {
	if in.UUID == uuid.Nil {
		in.UUID = uuid.New()
	}
	if in.UserID == "" {
		in.UserID = "system"
	}
	if in.Result == "" {
		in.Result = "success"
	}
}

type EventFilter struct {
	Type         models.EventType
	UserID       string
	AccountID    string
	ResourceUUID *uuid.UUID
	Action       string
	Start        *time.Time
	End          *time.Time
	Limit        int
	Offset       int
}

type ViolationInput struct {
	UUID         uuid.UUID
	PolicyID     string
	ResourceUUID *uuid.UUID
	Severity     string
	Description  string
	Remediation  string
}

type ViolationFilter struct {
	PolicyID string
	Severity string
	Limit    int
	Offset   int
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func ensureJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}
