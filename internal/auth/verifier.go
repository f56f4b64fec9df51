package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Principal is the identity a verified token carries.
type Principal struct {
	Subject   string
	TenantID  string
	UserID    string
	DeviceID  string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope reports whether the principal holds scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier checks bearer tokens and extracts the principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// acceptedMethods lists the signature algorithms verification accepts.
var acceptedMethods = []string{"ES256", "RS256"}

// ── local verification ────────────────────────────────────────────────────

type localVerifier struct {
	key *ecdsa.PublicKey
}

// NewLocalVerifier verifies against an in-process public key. The token
// issuer uses this mode.
func NewLocalVerifier(key *ecdsa.PublicKey) Verifier {
	return &localVerifier{key: key}
}

func (v *localVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods(acceptedMethods),
	)
	return principalFromToken(parsed, err)
}

// ── remote verification ───────────────────────────────────────────────────

type remoteVerifier struct {
	jwks keyfunc.Keyfunc
}

// NewRemoteVerifier verifies against a JWKS endpoint. Gateways deployed
// apart from the token issuer use this mode; the key set refreshes in the
// background.
func NewRemoteVerifier(ctx context.Context, jwksURL string) (Verifier, error) {
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWKS from %s: %w", jwksURL, err)
	}
	return &remoteVerifier{jwks: jwks}, nil
}

func (v *remoteVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	parsed, err := jwt.Parse(token,
		v.jwks.KeyfuncCtx(ctx),
		jwt.WithValidMethods(acceptedMethods),
	)
	return principalFromToken(parsed, err)
}

// ── claims extraction ─────────────────────────────────────────────────────

func principalFromToken(token *jwt.Token, err error) (*Principal, error) {
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid.WithDescription(err.Error())
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid.WithDescription("unexpected claims shape")
	}
	return principalFromClaims(claims)
}

// principalFromClaims maps verified claims onto a Principal. A sub with the
// tenant- prefix is a device-flow token: the subject doubles as the tenant
// even when the tenant claim is absent. Issuance always sets both; the shim
// keeps older tokens verifiable.
func principalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrTokenInvalid.WithDescription("token missing sub claim")
	}

	p := &Principal{Subject: sub}
	p.TenantID, _ = claims["tenant"].(string)
	p.DeviceID, _ = claims["device_id"].(string)
	p.ClientID, _ = claims["client_id"].(string)

	if strings.HasPrefix(sub, "tenant-") {
		if p.TenantID == "" {
			p.TenantID = sub
		}
	} else {
		p.UserID = sub
	}
	if p.TenantID == "" {
		return nil, ErrTokenInvalid.WithDescription("token resolves to no tenant")
	}

	if scope, _ := claims["scope"].(string); scope != "" {
		p.Scopes = strings.Fields(scope)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p, nil
}
