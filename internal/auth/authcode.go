package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/kvstore"
)

// AuthCodeTTL bounds how long an issued authorization code stays
// redeemable.
const AuthCodeTTL = 10 * time.Minute

const authCodeKeyPrefix = "auth_code:"

// AuthorizeRequest is a validated authorization request from an
// authenticated principal.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string

	// The principal granting the authorization.
	TenantID string
	UserID   string
}

// authCodeRecord binds an issued code to (client_id, redirect_uri,
// code_challenge) for the exchange-side checks.
type authCodeRecord struct {
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri"`
	CodeChallenge string    `json:"code_challenge"`
	Scope         string    `json:"scope,omitempty"`
	Resource      string    `json:"resource,omitempty"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CodeFlow runs the PKCE authorization-code grant.
type CodeFlow struct {
	kv      kvstore.Store
	signer  *Signer
	refresh *RefreshStore
	logger  *zap.Logger
}

// NewCodeFlow builds the authorization-code service.
func NewCodeFlow(kv kvstore.Store, signer *Signer, refresh *RefreshStore, logger *zap.Logger) *CodeFlow {
	return &CodeFlow{kv: kv, signer: signer, refresh: refresh, logger: logger}
}

// IssueCode validates the authorization request and returns a single-use
// code. PKCE is mandatory and S256 is the only accepted method.
func (f *CodeFlow) IssueCode(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.ResponseType != "code" {
		return "", ErrInvalidRequest.WithDescription("response_type must be code")
	}
	if req.ClientID == "" {
		return "", ErrInvalidRequest.WithDescription("client_id is required")
	}
	if req.CodeChallenge == "" {
		return "", ErrInvalidRequest.WithDescription("code_challenge is required")
	}
	if req.CodeChallengeMethod != "S256" {
		return "", ErrInvalidRequest.WithDescription("code_challenge_method must be S256")
	}
	if req.TenantID == "" || req.UserID == "" {
		return "", ErrInvalidRequest.WithDescription("authorization requires an authenticated principal")
	}

	code, err := randomToken()
	if err != nil {
		return "", err
	}

	rec := authCodeRecord{
		ClientID:      req.ClientID,
		RedirectURI:   req.RedirectURI,
		CodeChallenge: req.CodeChallenge,
		Scope:         req.Scope,
		Resource:      req.Resource,
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		ExpiresAt:     time.Now().UTC().Add(AuthCodeTTL),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode auth code: %w", err)
	}
	if err := f.kv.Put(ctx, authCodeKeyPrefix+code, raw, AuthCodeTTL); err != nil {
		return "", fmt.Errorf("failed to store auth code: %w", err)
	}

	f.logger.Info("authorization code issued",
		zap.String("client_id", req.ClientID),
		zap.String("tenant_id", req.TenantID))
	return code, nil
}

// Exchange redeems a code for tokens. The code is destroyed before any
// check runs, so a second redemption can never succeed.
func (f *CodeFlow) Exchange(ctx context.Context, code, codeVerifier, clientID, redirectURI string) (*TokenPair, error) {
	key := authCodeKeyPrefix + code
	raw, err := f.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, ErrInvalidGrant.WithDescription("authorization code is invalid or expired")
		}
		return nil, fmt.Errorf("failed to load auth code: %w", err)
	}
	if err := f.kv.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to consume auth code: %w", err)
	}

	var rec authCodeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode auth code: %w", err)
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrInvalidGrant.WithDescription("authorization code is invalid or expired")
	}
	if clientID != rec.ClientID {
		return nil, ErrInvalidClient.WithDescription("code was issued to a different client")
	}
	if rec.RedirectURI != "" && redirectURI != rec.RedirectURI {
		return nil, ErrInvalidGrant.WithDescription("redirect_uri does not match")
	}
	if !verifyPKCE(codeVerifier, rec.CodeChallenge) {
		return nil, ErrInvalidGrant.WithDescription("PKCE verification failed")
	}

	return mintPair(ctx, f.signer, f.refresh, Claims{
		Subject:  rec.UserID,
		Tenant:   rec.TenantID,
		ClientID: rec.ClientID,
		Scope:    rec.Scope,
		Audience: rec.Resource,
	})
}

// verifyPKCE checks SHA256(code_verifier) against the stored S256
// challenge.
func verifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
