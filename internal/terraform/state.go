package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CloudIDP/platform/internal/models"
)

// ErrStateNotFound is returned when a workspace has no stored state.
var ErrStateNotFound = errors.New("workspace state not found")

// ErrWorkspaceLocked is returned when a lock is held by someone else.
var ErrWorkspaceLocked = errors.New("workspace is locked")

// ErrNotLockHolder rejects an unlock with the wrong lock id.
var ErrNotLockHolder = errors.New("lock not held by caller")

type workspaceLock struct {
	LockID   string
	LockedBy string
	LockedAt time.Time
}

// StateStore keeps versioned terraform state per workspace, in memory.
// Serials are monotonic per workspace starting at 1; the lineage id is
// assigned on the first version and carried through the history.
type StateStore struct {
	mu       sync.RWMutex
	states   map[string][]models.StateVersion
	lineages map[string]string
	locks    map[string]workspaceLock
	now      func() time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{
		states:   make(map[string][]models.StateVersion),
		lineages: make(map[string]string),
		locks:    make(map[string]workspaceLock),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *StateStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// StoreState appends a new state version and returns it.
func (s *StateStore) StoreState(ctx context.Context, workspace string, state json.RawMessage, createdBy string) (models.StateVersion, error) {
	if workspace == "" {
		return models.StateVersion{}, errors.New("workspace required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lineage, ok := s.lineages[workspace]
	if !ok {
		lineage = uuid.New().String()
		s.lineages[workspace] = lineage
	}

	cp := make(json.RawMessage, len(state))
	copy(cp, state)
	version := models.StateVersion{
		Version:   uuid.New(),
		Workspace: workspace,
		Serial:    int64(len(s.states[workspace]) + 1),
		Lineage:   lineage,
		State:     cp,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC(),
	}
	s.states[workspace] = append(s.states[workspace], version)
	return version, nil
}

// CurrentState returns the latest version for a workspace.
func (s *StateStore) CurrentState(ctx context.Context, workspace string) (models.StateVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.states[workspace]
	if len(versions) == 0 {
		return models.StateVersion{}, ErrStateNotFound
	}
	return versions[len(versions)-1], nil
}

// History returns versions for a workspace, newest first, capped at limit
// (0 means all).
func (s *StateStore) History(ctx context.Context, workspace string, limit int) ([]models.StateVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.states[workspace]
	out := make([]models.StateVersion, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Lock acquires the workspace lock and returns a lock id the holder must
// present to unlock. A second Lock while held is ErrWorkspaceLocked.
func (s *StateStore) Lock(ctx context.Context, workspace, lockedBy string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.locks[workspace]; held {
		return "", ErrWorkspaceLocked
	}
	lock := workspaceLock{
		LockID:   uuid.New().String(),
		LockedBy: lockedBy,
		LockedAt: s.now().UTC(),
	}
	s.locks[workspace] = lock
	return lock.LockID, nil
}

// Unlock releases the lock. The lock id must match the one Lock returned.
func (s *StateStore) Unlock(ctx context.Context, workspace, lockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, held := s.locks[workspace]
	if !held || lock.LockID != lockID {
		return ErrNotLockHolder
	}
	delete(s.locks, workspace)
	return nil
}

// Locked reports whether the workspace lock is currently held.
func (s *StateStore) Locked(workspace string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, held := s.locks[workspace]
	return held
}
