package auth_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Healer-AI/p8fs/internal/auth"
)

func newCodeFlow(t *testing.T) (*auth.CodeFlow, *auth.Signer) {
	t.Helper()
	kv, _ := newTestKV(t)
	signer := newTestSigner(t)
	refresh := auth.NewRefreshStore(kv, zaptest.NewLogger(t))
	return auth.NewCodeFlow(kv, signer, refresh, zaptest.NewLogger(t)), signer
}

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func validAuthorize(verifier string) auth.AuthorizeRequest {
	return auth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "web-app",
		RedirectURI:         "https://app.test/callback",
		Scope:               "read",
		CodeChallenge:       challengeFor(verifier),
		CodeChallengeMethod: "S256",
		TenantID:            "tenant-abc123",
		UserID:              "user-42",
	}
}

func TestIssueCodeValidation(t *testing.T) {
	flow, _ := newCodeFlow(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*auth.AuthorizeRequest)
	}{
		{"wrong response_type", func(r *auth.AuthorizeRequest) { r.ResponseType = "token" }},
		{"missing client_id", func(r *auth.AuthorizeRequest) { r.ClientID = "" }},
		{"missing challenge", func(r *auth.AuthorizeRequest) { r.CodeChallenge = "" }},
		{"plain method", func(r *auth.AuthorizeRequest) { r.CodeChallengeMethod = "plain" }},
		{"no principal", func(r *auth.AuthorizeRequest) { r.UserID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validAuthorize("verifier-secret-0123456789")
			tt.mutate(&req)
			_, err := flow.IssueCode(ctx, req)
			assert.ErrorIs(t, err, auth.ErrInvalidRequest)
		})
	}
}

func TestCodeExchangeHappyPath(t *testing.T) {
	flow, signer := newCodeFlow(t)
	ctx := context.Background()
	verifier := "verifier-secret-0123456789"

	code, err := flow.IssueCode(ctx, validAuthorize(verifier))
	require.NoError(t, err)
	require.NotEmpty(t, code)

	pair, err := flow.Exchange(ctx, code, verifier, "web-app", "https://app.test/callback")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.RefreshToken)

	p, err := auth.NewLocalVerifier(signer.PublicKey()).Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.UserID)
	assert.Equal(t, "tenant-abc123", p.TenantID)
	assert.Equal(t, "web-app", p.ClientID)
}

func TestCodeExchangeSingleUse(t *testing.T) {
	flow, _ := newCodeFlow(t)
	ctx := context.Background()
	verifier := "verifier-secret-0123456789"

	code, err := flow.IssueCode(ctx, validAuthorize(verifier))
	require.NoError(t, err)

	_, err = flow.Exchange(ctx, code, verifier, "web-app", "https://app.test/callback")
	require.NoError(t, err)

	_, err = flow.Exchange(ctx, code, verifier, "web-app", "https://app.test/callback")
	assert.ErrorIs(t, err, auth.ErrInvalidGrant)
}

// A failed redemption attempt burns the code: the rightful client cannot
// come back after an attacker guessed wrong.
func TestCodeExchangeFailureBurnsCode(t *testing.T) {
	flow, _ := newCodeFlow(t)
	ctx := context.Background()
	verifier := "verifier-secret-0123456789"

	code, err := flow.IssueCode(ctx, validAuthorize(verifier))
	require.NoError(t, err)

	_, err = flow.Exchange(ctx, code, "wrong-verifier", "web-app", "https://app.test/callback")
	assert.ErrorIs(t, err, auth.ErrInvalidGrant)

	_, err = flow.Exchange(ctx, code, verifier, "web-app", "https://app.test/callback")
	assert.ErrorIs(t, err, auth.ErrInvalidGrant)
}

func TestCodeExchangeWrongClient(t *testing.T) {
	flow, _ := newCodeFlow(t)
	ctx := context.Background()
	verifier := "verifier-secret-0123456789"

	code, err := flow.IssueCode(ctx, validAuthorize(verifier))
	require.NoError(t, err)

	_, err = flow.Exchange(ctx, code, verifier, "other-app", "https://app.test/callback")
	assert.ErrorIs(t, err, auth.ErrInvalidClient)
}

func TestCodeExchangeWrongRedirect(t *testing.T) {
	flow, _ := newCodeFlow(t)
	ctx := context.Background()
	verifier := "verifier-secret-0123456789"

	code, err := flow.IssueCode(ctx, validAuthorize(verifier))
	require.NoError(t, err)

	_, err = flow.Exchange(ctx, code, verifier, "web-app", "https://evil.test/callback")
	assert.ErrorIs(t, err, auth.ErrInvalidGrant)
}

func TestCodeExchangeUnknownCode(t *testing.T) {
	flow, _ := newCodeFlow(t)
	_, err := flow.Exchange(context.Background(), "never-issued", "v", "web-app", "")
	assert.ErrorIs(t, err, auth.ErrInvalidGrant)
}
