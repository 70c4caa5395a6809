package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLazyExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	if err := store.Set(ctx, "job:abc", json.RawMessage(`{"status":"pending"}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get(ctx, "job:abc")
	if err != nil {
		t.Fatalf("get before expiry: %v", err)
	}
	if string(got) != `{"status":"pending"}` {
		t.Fatalf("unexpected value: %s", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "job:abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}

	// Expired entry was evicted on read, not just hidden.
	exists, err := store.Exists(ctx, "job:abc")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("expected key evicted after expiry")
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalKeys != 0 {
		t.Fatalf("expected 0 keys, got %d", stats.TotalKeys)
	}
}

func TestMemoryStoreInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	keys := []string{"resources:ec2", "resources:rds", "job:123", "terraform:plan:x"}
	for _, k := range keys {
		if err := store.Set(ctx, k, json.RawMessage(`1`), time.Hour); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	count, err := store.InvalidatePattern(ctx, "resources:")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 invalidated, got %d", count)
	}
	if _, err := store.Get(ctx, "resources:ec2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected resources:ec2 gone, got %v", err)
	}
	if _, err := store.Get(ctx, "job:123"); err != nil {
		t.Fatalf("job:123 should survive: %v", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Set(ctx, "k", json.RawMessage(`1`), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	deleted, err := store.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report true")
	}
	deleted, err = store.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatalf("expected second delete to report false")
	}
}

func TestTerraformPlanHelpers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	plan := json.RawMessage(`{"resourcesToAdd":15}`)
	if err := StoreTerraformPlan(ctx, store, "plan-1", plan); err != nil {
		t.Fatalf("store plan: %v", err)
	}
	got, err := GetTerraformPlan(ctx, store, "plan-1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if string(got) != string(plan) {
		t.Fatalf("plan round trip mismatch: %s", got)
	}
	if _, err := GetTerraformPlan(ctx, store, "plan-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
