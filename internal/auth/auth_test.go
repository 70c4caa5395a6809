package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CloudIDP/platform/internal/cache"
)

func newManagerFixture(ttl time.Duration) (*Manager, *cache.MemoryStore) {
	store := cache.NewMemoryStore()
	sessions := cache.NewSessionStore(store)
	return NewManager("test-secret", sessions, ttl), store
}

func TestLoginAndVerify(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManagerFixture(time.Hour)

	token, session, err := mgr.Login(ctx, "alice", map[string]interface{}{"role": "admin"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || session.UserID != "alice" {
		t.Fatalf("unexpected login result: %q %+v", token, session)
	}

	verified, err := mgr.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ID != session.ID || verified.Data["role"] != "admin" {
		t.Fatalf("verified session mismatch: %+v", verified)
	}
}

func TestVerifyRejectsGarbageAndWrongKey(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManagerFixture(time.Hour)

	if _, err := mgr.Verify(ctx, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	other, _ := newManagerFixture(time.Hour)
	token, _, err := other.Login(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	// Same claims shape, different signing key.
	if _, err := mgr.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign token, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newManagerFixture(time.Hour)

	token, _, err := mgr.Login(ctx, "bob", nil)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	deleted, err := mgr.Logout(ctx, token)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !deleted {
		t.Fatalf("expected session deleted")
	}

	// The token still carries a valid signature but the session is gone.
	if _, err := mgr.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after logout, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	mgr, store := newManagerFixture(time.Hour)

	var seenUser string
	handler := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, _, err := mgr.Login(ctx, "carol", nil)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if seenUser != "carol" {
		t.Fatalf("expected user in context, got %q", seenUser)
	}

	// Expire the session underneath the token.
	now := time.Now().UTC().Add(2 * time.Hour)
	store.SetClock(func() time.Time { return now })
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after session expiry, got %d", rec.Code)
	}
}
