package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/CloudIDP/platform/internal/models"
)

// SessionStore keeps user sessions in a Store. Sessions obey the same lazy
// expiry contract as plain cache entries. A per-user index makes the bulk
// operations (list, delete-all) possible on backends without value scans.
type SessionStore struct {
	store Store
	now   func() time.Time
}

func NewSessionStore(store Store) *SessionStore {
	return &SessionStore{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the session store's time source. Test hook.
func (s *SessionStore) SetClock(now func() time.Time) { s.now = now }

func sessionKey(id string) string       { return "session:" + id }
func userIndexKey(userID string) string { return "usersessions:" + userID }

// userIndexTTL keeps the index alive well past any individual session; stale
// ids in the index are skipped on read.
const userIndexTTL = 30 * 24 * time.Hour

// Create stores a new session and returns its id: the hex sha256 digest of
// userID and the creation timestamp.
func (s *SessionStore) Create(ctx context.Context, userID string, data map[string]interface{}, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("userID required")
	}
	now := s.now()
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", userID, now.Format(time.RFC3339Nano))))
	id := hex.EncodeToString(digest[:])

	if data == nil {
		data = map[string]interface{}{}
	}
	session := models.Session{
		ID:        id,
		UserID:    userID,
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := SetJSON(ctx, s.store, sessionKey(id), session, ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	if err := s.addToIndex(ctx, userID, id); err != nil {
		return "", fmt.Errorf("index session: %w", err)
	}
	return id, nil
}

// Get returns the session or ErrNotFound when missing or expired.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	if err := GetJSON(ctx, s.store, sessionKey(sessionID), &session); err != nil {
		return models.Session{}, err
	}
	// The backing store already evicts on TTL; this guard covers stores
	// whose TTL granularity is coarser than the session's expiresAt.
	if s.now().After(session.ExpiresAt) {
		_, _ = s.store.Delete(ctx, sessionKey(sessionID))
		return models.Session{}, ErrNotFound
	}
	return session, nil
}

// Update merges updates into the session data. Returns false (with no
// error) when the session is missing or expired.
func (s *SessionStore) Update(ctx context.Context, sessionID string, updates map[string]interface{}, extendTTL bool, ttl time.Duration) (bool, error) {
	session, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for k, v := range updates {
		session.Data[k] = v
	}
	now := s.now()
	session.UpdatedAt = &now
	if extendTTL {
		session.ExpiresAt = now.Add(ttl)
	}

	remaining := session.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return false, nil
	}
	if err := SetJSON(ctx, s.store, sessionKey(sessionID), session, remaining); err != nil {
		return false, fmt.Errorf("store session: %w", err)
	}
	return true, nil
}

// Delete removes a single session.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	return s.store.Delete(ctx, sessionKey(sessionID))
}

// UserSessions returns the user's live (unexpired) sessions.
func (s *SessionStore) UserSessions(ctx context.Context, userID string) ([]models.Session, error) {
	ids, err := s.indexIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	var sessions []models.Session
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// DeleteUserSessions removes every live session for the user and returns
// how many were deleted.
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	sessions, err := s.UserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, session := range sessions {
		deleted, err := s.Delete(ctx, session.ID)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	_, _ = s.store.Delete(ctx, userIndexKey(userID))
	return count, nil
}

func (s *SessionStore) indexIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := GetJSON(ctx, s.store, userIndexKey(userID), &ids)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SessionStore) addToIndex(ctx context.Context, userID, sessionID string) error {
	ids, err := s.indexIDs(ctx, userID)
	if err != nil {
		return err
	}
	return SetJSON(ctx, s.store, userIndexKey(userID), append(ids, sessionID), userIndexTTL)
}
