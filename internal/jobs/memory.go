package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

// MemoryRegistry is the demo-mode registry: a map guarded by a RWMutex.
type MemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]models.Job
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{jobs: map[uuid.UUID]models.Job{}}
}

func copyJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return append(json.RawMessage(nil), raw...)
}

func (m *MemoryRegistry) Submit(ctx context.Context, in SubmitInput) (models.Job, error) {
	if err := in.validate(); err != nil {
		return models.Job{}, err
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	job := models.Job{
		ID:        in.ID,
		Type:      in.Type,
		Status:    models.JobPending,
		Config:    copyJSON(in.Config, "{}"),
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return job, nil
}

func (m *MemoryRegistry) Get(ctx context.Context, id uuid.UUID) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (m *MemoryRegistry) Cancel(ctx context.Context, id uuid.UUID) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if job.Status.Terminal() {
		return models.Job{}, ErrTerminalState
	}
	now := time.Now().UTC()
	job.Status = models.JobCancelled
	job.UpdatedAt = now
	job.CompletedAt = &now
	m.jobs[id] = job
	return job, nil
}

func (m *MemoryRegistry) ListActive(ctx context.Context, jobType models.JobType) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []models.Job
	for _, job := range m.jobs {
		if job.Status != models.JobPending && job.Status != models.JobRunning {
			continue
		}
		if jobType != "" && job.Type != jobType {
			continue
		}
		active = append(active, job)
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

func (m *MemoryRegistry) Transition(ctx context.Context, in TransitionInput) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[in.ID]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if job.Status.Terminal() {
		return models.Job{}, ErrTerminalState
	}
	if !legalTransition(job.Status, in.Status) {
		return models.Job{}, ErrInvalidTransition
	}
	now := time.Now().UTC()
	job.Status = in.Status
	job.UpdatedAt = now
	switch {
	case in.Status == models.JobRunning:
		job.StartedAt = &now
	case in.Status.Terminal():
		job.CompletedAt = &now
		if len(in.Result) > 0 {
			job.Result = copyJSON(in.Result, "{}")
		}
		job.Error = in.Error
	}
	m.jobs[in.ID] = job
	return job, nil
}

func (m *MemoryRegistry) Ping(ctx context.Context) error { return nil }
