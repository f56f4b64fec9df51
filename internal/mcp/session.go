// Package mcp implements the session gateway: verified bearer identities
// are bound to opaque sessions, and tool calls dispatch through a static
// registry with the caller's tenant context attached.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/kvstore"
)

// SessionHeader carries the opaque session id on every request after
// initialize.
const SessionHeader = "Mcp-Session-Id"

// SessionTTL matches the access-token lifetime; a session never outlives
// the token that opened it by more than one refresh cycle.
const SessionTTL = time.Hour

const sessionKeyPrefix = "mcp_session:"

// ErrSessionNotFound indicates the session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// ErrTenantMismatch indicates the session belongs to a different tenant
// than the presented token.
var ErrTenantMismatch = errors.New("session tenant mismatch")

// Session binds an opaque id to the tenant that opened it.
type Session struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore keeps sessions in the KV store under a TTL.
type SessionStore struct {
	kv kvstore.Store
}

// NewSessionStore wraps the KV surface.
func NewSessionStore(kv kvstore.Store) *SessionStore {
	return &SessionStore{kv: kv}
}

// Create allocates a session bound to the principal's tenant.
func (s *SessionStore) Create(ctx context.Context, p *auth.Principal) (*Session, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	sess := &Session{
		ID:        base64.RawURLEncoding.EncodeToString(buf),
		TenantID:  p.TenantID,
		UserID:    p.UserID,
		ClientID:  p.ClientID,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Put(ctx, sessionKeyPrefix+sess.ID, raw, SessionTTL); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

// Get loads a session by id, or ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	raw, err := s.kv.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session. Absent sessions are not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, sessionKeyPrefix+id)
}
