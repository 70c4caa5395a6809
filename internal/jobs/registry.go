// Package jobs tracks the platform's asynchronous work items. The registry
// enforces the job lifecycle: pending -> running -> {completed, failed,
// cancelled}, with pending -> cancelled as the only shortcut. Terminal
// states are absorbing.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrTerminalState rejects cancellation (or any transition) of a job
	// already in a terminal state.
	ErrTerminalState = errors.New("job already in terminal state")

	// ErrInvalidTransition rejects moves outside the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Registry is the job store capability. Two implementations exist: the
// in-memory demo registry and the Postgres-backed one. Selection happens
// once at startup.
type Registry interface {
	Submit(ctx context.Context, in SubmitInput) (models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (models.Job, error)
	ListActive(ctx context.Context, jobType models.JobType) ([]models.Job, error)
	Transition(ctx context.Context, in TransitionInput) (models.Job, error)
	Ping(ctx context.Context) error
}

type SubmitInput struct {
	ID        uuid.UUID
	Type      models.JobType
	Config    json.RawMessage
	CreatedBy string
}

type TransitionInput struct {
	ID     uuid.UUID
	Status models.JobStatus
	Result json.RawMessage
	Error  string
}

func (in SubmitInput) validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("unknown job type %q", in.Type)
	}
	return nil
}

// legalTransition is the closed transition set. The source system intended
// this graph but never enforced it; here it is enforced.
func legalTransition(from, to models.JobStatus) bool {
	switch from {
	case models.JobPending:
		return to == models.JobRunning || to == models.JobCancelled
	case models.JobRunning:
		return to.Terminal()
	}
	return false
}

func ensureJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}
