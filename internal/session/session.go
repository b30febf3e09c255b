// Package session binds bearer tokens to server-side session records held
// in the key-value store, so sessions can be revoked before they expire.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/auth"
	"github.com/d9705996/schoolhub/internal/kv"
	"github.com/d9705996/schoolhub/internal/model"
	"github.com/google/uuid"
)

var errInvalidSession = apperror.Authentication("invalid or expired session")

// Session is the server-side record behind a bearer token.
type Session struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Elevated       bool      `json:"elevated"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Manager creates, validates and destroys sessions.
type Manager struct {
	store    kv.Store
	secret   string
	ttl      time.Duration
	adminTTL time.Duration
	log      *slog.Logger
}

// NewManager returns a Manager. adminTTL bounds elevated sessions and is
// clamped to ttl when longer.
func NewManager(store kv.Store, secret string, ttl, adminTTL time.Duration, log *slog.Logger) *Manager {
	if adminTTL <= 0 || adminTTL > ttl {
		adminTTL = min(ttl, time.Hour)
	}
	return &Manager{store: store, secret: secret, ttl: ttl, adminTTL: adminTTL, log: log}
}

func key(id string) string { return "sess:" + id }

// Create starts a new session for acct and returns its bearer token.
// Elevated sessions come from the tenant-admin login and live for the
// shorter admin TTL.
func (m *Manager) Create(ctx context.Context, acct *model.Account, elevated bool) (string, *Session, error) {
	ttl := m.ttl
	if elevated {
		ttl = m.adminTTL
	}
	s := &Session{
		ID:             uuid.NewString(),
		AccountID:      acct.ID,
		OrganizationID: acct.OwningOrganizationID(),
		Elevated:       elevated,
		ExpiresAt:      time.Now().Add(ttl).UTC(),
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Set(ctx, key(s.ID), raw, ttl); err != nil {
		return "", nil, apperror.Dependency(err, "store session")
	}
	token, err := auth.IssueSessionToken(s.ID, s.AccountID, s.OrganizationID, elevated, m.secret, ttl)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	m.log.Info("session created", "account_id", acct.ID, "org_id", s.OrganizationID, "elevated", elevated)
	return token, s, nil
}

// Validate resolves a bearer token to its live session. Unknown, expired,
// revoked and forged tokens all yield the same AuthenticationError.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	claims, err := auth.ParseSessionToken(token, m.secret)
	if err != nil {
		return nil, errInvalidSession
	}
	raw, err := m.store.Get(ctx, key(claims.SessionID()))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, errInvalidSession
	}
	if err != nil {
		return nil, apperror.Dependency(err, "load session")
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.AccountID != claims.AccountID || s.Elevated != claims.Elevated {
		return nil, errInvalidSession
	}
	return &s, nil
}

// Destroy revokes the session. Destroying an unknown session is not an error.
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, key(sessionID)); err != nil {
		return apperror.Dependency(err, "delete session")
	}
	return nil
}

type ctxKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
