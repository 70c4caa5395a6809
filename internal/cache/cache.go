// Package cache provides the key-value cache and session facades used for
// ephemeral artifacts (terraform plans, scan results) and user sessions.
// Entries carry a TTL and expire lazily: a read past expiresAt evicts the
// entry and reports a miss. There is no background sweep.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is the miss sentinel; absent and expired entries are
// indistinguishable to callers.
var ErrNotFound = errors.New("not found")

// Stats summarizes a store.
type Stats struct {
	TotalKeys int       `json:"totalKeys"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the key-value cache facade.
type Store interface {
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)

	// InvalidatePattern removes every key containing the given substring
	// (plain substring match, not glob or regex) and returns the count.
	InvalidatePattern(ctx context.Context, substring string) (int, error)

	Stats(ctx context.Context) (Stats, error)
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}

// GetJSON reads key and unmarshals into v. Misses surface as ErrNotFound.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
