// Package auth issues and validates the platform's session tokens: HS256
// JWTs whose sid claim points at a session in the session store. The token
// is only a pointer; logout revokes by deleting the session, so a signed
// token for a deleted or expired session is still a 401.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CloudIDP/platform/internal/cache"
	"github.com/CloudIDP/platform/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the platform JWT claims.
type Claims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid"`
	jwt.RegisteredClaims
}

// Manager ties token issuance to the session store.
type Manager struct {
	secret   []byte
	sessions *cache.SessionStore
	ttl      time.Duration
}

func NewManager(secret string, sessions *cache.SessionStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{secret: []byte(secret), sessions: sessions, ttl: ttl}
}

// Sessions exposes the backing session store.
func (m *Manager) Sessions() *cache.SessionStore { return m.sessions }

// TTL is the session lifetime issued by Login.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Login creates a session and returns a signed token pointing at it.
func (m *Manager) Login(ctx context.Context, userID string, data map[string]interface{}) (string, models.Session, error) {
	id, err := m.sessions.Create(ctx, userID, data, m.ttl)
	if err != nil {
		return "", models.Session{}, fmt.Errorf("create session: %w", err)
	}
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return "", models.Session{}, fmt.Errorf("load session: %w", err)
	}

	now := time.Now().UTC()
	claims := Claims{
		SessionID: id,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", models.Session{}, fmt.Errorf("sign token: %w", err)
	}
	return token, session, nil
}

// Verify validates the token signature and loads the live session behind
// it. Any failure collapses to ErrInvalidToken.
func (m *Manager) Verify(ctx context.Context, tokenString string) (models.Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid || claims.SessionID == "" {
		return models.Session{}, ErrInvalidToken
	}

	session, err := m.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, cache.ErrNotFound) {
		return models.Session{}, ErrInvalidToken
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("load session: %w", err)
	}
	return session, nil
}

// Logout deletes the session behind the token. An invalid token is not an
// error; there is nothing to revoke.
func (m *Manager) Logout(ctx context.Context, tokenString string) (bool, error) {
	session, err := m.Verify(ctx, tokenString)
	if errors.Is(err, ErrInvalidToken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.sessions.Delete(ctx, session.ID)
}

type contextKey int

const sessionContextKey contextKey = 0

// SessionFromContext returns the session the middleware stashed.
func SessionFromContext(ctx context.Context) (models.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(models.Session)
	return session, ok
}

// UserFromContext returns the authenticated user id, or "" when the request
// did not pass through the middleware.
func UserFromContext(ctx context.Context) string {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return ""
	}
	return session.UserID
}

// Middleware enforces a bearer token on everything behind it. Missing,
// malformed, or revoked tokens are a 401.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "missing bearer token")
			return
		}
		session, err := m.Verify(r.Context(), token)
		if err != nil {
			unauthorized(w, "invalid or expired session")
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"status":"error","message":%q}`, msg)
}
