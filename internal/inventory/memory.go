package inventory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

// MemoryStore is the demo-mode inventory.
type MemoryStore struct {
	mu         sync.RWMutex
	resources  map[uuid.UUID]models.Resource
	history    map[uuid.UUID][]models.ResourceEvent
	events     []models.AuditEvent
	violations map[uuid.UUID]models.PolicyViolation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources:  map[uuid.UUID]models.Resource{},
		history:    map[uuid.UUID][]models.ResourceEvent{},
		violations: map[uuid.UUID]models.PolicyViolation{},
	}
}

func copyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func (m *MemoryStore) CreateResource(ctx context.Context, in ResourceInput) (models.Resource, error) {
	in.derive()
	now := time.Now().UTC()
	res := models.Resource{
		UUID:        in.UUID,
		Type:        in.Type,
		ResourceID:  in.ResourceID,
		AccountID:   in.AccountID,
		Region:      in.Region,
		State:       in.State,
		Tags:        copyTags(in.Tags),
		Metadata:    copyJSON(in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   in.CreatedBy,
		CostCenter:  in.costCenter(),
		Environment: in.environment(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[res.UUID] = res
	m.history[res.UUID] = append(m.history[res.UUID], models.ResourceEvent{
		Timestamp: now,
		Event:     "resource_created",
		NewState:  res.State,
		ChangedBy: in.CreatedBy,
	})
	return res, nil
}

func (m *MemoryStore) UpdateResourceState(ctx context.Context, id uuid.UUID, state models.ResourceState, metadata json.RawMessage, changedBy string) (models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.resources[id]
	if !ok {
		return models.Resource{}, ErrNotFound
	}
	now := time.Now().UTC()
	prev := res.State
	res.State = state
	res.UpdatedAt = now
	if len(metadata) > 0 {
		res.Metadata = copyJSON(metadata)
	}
	if changedBy == "" {
		changedBy = "system"
	}
	m.resources[id] = res
	m.history[id] = append(m.history[id], models.ResourceEvent{
		Timestamp:     now,
		Event:         "state_changed",
		PreviousState: prev,
		NewState:      state,
		ChangedBy:     changedBy,
	})
	return res, nil
}

func (m *MemoryStore) GetResource(ctx context.Context, id uuid.UUID) (models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.resources[id]
	if !ok {
		return models.Resource{}, ErrNotFound
	}
	return res, nil
}

func (m *MemoryStore) SearchResources(ctx context.Context, filter ResourceFilter) ([]models.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []models.Resource
	for _, res := range m.resources {
		if filter.Type != "" && res.Type != filter.Type {
			continue
		}
		if filter.AccountID != "" && res.AccountID != filter.AccountID {
			continue
		}
		if filter.Region != "" && res.Region != filter.Region {
			continue
		}
		if filter.State != "" && res.State != filter.State {
			continue
		}
		if filter.CreatedAfter != nil && !res.CreatedAt.After(*filter.CreatedAfter) {
			continue
		}
		if filter.CreatedBefore != nil && !res.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		matched = append(matched, res)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) GetResourceHistory(ctx context.Context, id uuid.UUID) ([]models.ResourceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.resources[id]; !ok {
		return nil, ErrNotFound
	}
	events := m.history[id]
	out := make([]models.ResourceEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *MemoryStore) LogEvent(ctx context.Context, in EventInput) (models.AuditEvent, error) {
	in.derive()
	ev := models.AuditEvent{
		UUID:         in.UUID,
		Type:         in.Type,
		Timestamp:    time.Now().UTC(),
		UserID:       in.UserID,
		ResourceUUID: in.ResourceUUID,
		AccountID:    in.AccountID,
		Action:       in.Action,
		Result:       in.Result,
		Metadata:     copyJSON(in.Metadata),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *MemoryStore) QueryAuditLogs(ctx context.Context, filter EventFilter) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []models.AuditEvent
	for _, ev := range m.events {
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if filter.UserID != "" && ev.UserID != filter.UserID {
			continue
		}
		if filter.AccountID != "" && ev.AccountID != filter.AccountID {
			continue
		}
		if filter.ResourceUUID != nil && (ev.ResourceUUID == nil || *ev.ResourceUUID != *filter.ResourceUUID) {
			continue
		}
		if filter.Action != "" && ev.Action != filter.Action {
			continue
		}
		if filter.Start != nil && ev.Timestamp.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && ev.Timestamp.After(*filter.End) {
			continue
		}
		matched = append(matched, ev)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) RecordViolation(ctx context.Context, in ViolationInput) (models.PolicyViolation, error) {
	if in.UUID == uuid.Nil {
		in.UUID = uuid.New()
	}
	v := models.PolicyViolation{
		UUID:        in.UUID,
		PolicyID:    in.PolicyID,
		Resource:    in.ResourceUUID,
		Severity:    in.Severity,
		Description: in.Description,
		Remediation: in.Remediation,
		DetectedAt:  time.Now().UTC(),
		Status:      models.ViolationOpen,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations[v.UUID] = v
	return v, nil
}

func (m *MemoryStore) ResolveViolation(ctx context.Context, id uuid.UUID, resolvedBy, notes string) (models.PolicyViolation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.violations[id]
	if !ok {
		return models.PolicyViolation{}, ErrNotFound
	}
	if v.Status == models.ViolationResolved {
		return models.PolicyViolation{}, ErrAlreadyResolved
	}
	now := time.Now().UTC()
	v.Status = models.ViolationResolved
	v.ResolvedAt = &now
	v.ResolvedBy = resolvedBy
	v.Notes = notes
	m.violations[id] = v
	return v, nil
}

func (m *MemoryStore) ListOpenViolations(ctx context.Context, filter ViolationFilter) ([]models.PolicyViolation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []models.PolicyViolation
	for _, v := range m.violations {
		if v.Status != models.ViolationOpen {
			continue
		}
		if filter.PolicyID != "" && v.PolicyID != filter.PolicyID {
			continue
		}
		if filter.Severity != "" && v.Severity != filter.Severity {
			continue
		}
		open = append(open, v)
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].DetectedAt.After(open[j].DetectedAt)
	})
	return paginate(open, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	limit = normalizeLimit(limit)
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}
