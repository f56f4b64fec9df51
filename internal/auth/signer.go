package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL is the default access token lifetime.
const AccessTokenTTL = time.Hour

// Claims is the input to token minting. Subject is the principal: tenant_id
// for device flow, user_id for the authorization-code flow.
type Claims struct {
	Subject  string
	Tenant   string
	DeviceID string
	ClientID string
	Scope    string
	Audience string
	TTL      time.Duration
}

// Signer mints ES256 access tokens and publishes the verification key.
type Signer struct {
	key    *ecdsa.PrivateKey
	keyID  string
	issuer string
}

// NewSigner generates a fresh P-256 signing key. Tokens minted by an earlier
// process generation fail verification after a restart; deployments that
// need continuity load a persisted key via NewSignerFromPEM.
func NewSigner(issuer string) (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return newSigner(issuer, key)
}

// NewSignerFromPEM loads an EC private key in PEM form.
func NewSignerFromPEM(issuer string, pemBytes []byte) (*Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in signing key material")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return newSigner(issuer, key)
}

func newSigner(issuer string, key *ecdsa.PrivateKey) (*Signer, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return &Signer{
		key:    key,
		keyID:  hex.EncodeToString(sum[:])[:16],
		issuer: issuer,
	}, nil
}

// Mint signs an access token for c. Zero TTL defaults to AccessTokenTTL; a
// negative TTL mints an already-expired token.
func (s *Signer) Mint(c Claims) (string, error) {
	if c.Subject == "" {
		return "", fmt.Errorf("%w: subject required", ErrInvalidRequest)
	}
	ttl := c.TTL
	if ttl == 0 {
		ttl = AccessTokenTTL
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": c.Subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if c.Tenant != "" {
		claims["tenant"] = c.Tenant
	}
	if c.DeviceID != "" {
		claims["device_id"] = c.DeviceID
	}
	if c.ClientID != "" {
		claims["client_id"] = c.ClientID
	}
	if c.Scope != "" {
		claims["scope"] = c.Scope
	}
	if c.Audience != "" {
		claims["aud"] = c.Audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() *ecdsa.PublicKey { return &s.key.PublicKey }

// KeyID returns the key identifier carried in token headers and the JWKS.
func (s *Signer) KeyID() string { return s.keyID }

// Issuer returns the iss claim value.
func (s *Signer) Issuer() string { return s.issuer }

// JWKS renders the public key set for /.well-known/jwks.json.
func (s *Signer) JWKS() map[string]any {
	pub := s.key.PublicKey
	byteLen := (pub.Curve.Params().BitSize + 7) / 8
	x := make([]byte, byteLen)
	y := make([]byte, byteLen)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return map[string]any{
		"keys": []map[string]any{{
			"kty": "EC",
			"crv": "P-256",
			"alg": "ES256",
			"use": "sig",
			"kid": s.keyID,
			"x":   base64.RawURLEncoding.EncodeToString(x),
			"y":   base64.RawURLEncoding.EncodeToString(y),
		}},
	}
}
