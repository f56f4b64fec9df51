package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenPair is an issued access/refresh pair in wire shape.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// randomToken returns 256 bits of randomness, base64url without padding.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// mintPair signs an access token and issues a fresh refresh token for the
// same principal.
func mintPair(ctx context.Context, signer *Signer, refresh *RefreshStore, c Claims) (*TokenPair, error) {
	access, err := signer.Mint(c)
	if err != nil {
		return nil, err
	}

	refreshToken, err := refresh.Issue(ctx, RefreshRecord{
		Subject:  c.Subject,
		TenantID: c.Tenant,
		DeviceID: c.DeviceID,
		ClientID: c.ClientID,
		Scope:    c.Scope,
	})
	if err != nil {
		return nil, err
	}

	ttl := c.TTL
	if ttl == 0 {
		ttl = AccessTokenTTL
	}
	return &TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(ttl.Seconds()),
		RefreshToken: refreshToken,
		Scope:        c.Scope,
	}, nil
}
