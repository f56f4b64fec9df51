// Package auth implements the OAuth 2.1 core: device-authorization grant
// with signed mobile approval, PKCE authorization-code flow, refresh-token
// rotation, device registration, and token issuance / verification.
package auth

import "net/http"

// Error is an OAuth protocol error. Kind is the stable programmatic tag the
// HTTP layer and tests branch on; Code is the wire value for the
// {error, error_description} body. The two differ where RFC 6750 collapses
// distinct conditions onto one wire code.
type Error struct {
	Kind        string
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Is matches by Kind so errors.Is works on WithDescription copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// WithDescription returns a copy carrying a specific description.
func (e *Error) WithDescription(desc string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Description: desc, Status: e.Status}
}

var (
	// ErrAuthorizationPending is returned while a device-flow request awaits
	// approval. Clients keep polling.
	ErrAuthorizationPending = &Error{
		Kind:        "authorization_pending",
		Code:        "authorization_pending",
		Description: "the authorization request is still pending",
		Status:      http.StatusBadRequest,
	}

	// ErrExpiredToken is returned when a device code has expired or was
	// never issued.
	ErrExpiredToken = &Error{
		Kind:        "expired_token",
		Code:        "expired_token",
		Description: "the device code has expired",
		Status:      http.StatusBadRequest,
	}

	// ErrInvalidGrant covers consumed or unknown grants: double-polled
	// device codes, redeemed authorization codes, revoked refresh tokens,
	// failed PKCE verification.
	ErrInvalidGrant = &Error{
		Kind:   "invalid_grant",
		Code:   "invalid_grant",
		Status: http.StatusBadRequest,
	}

	// ErrInvalidClient is returned when client_id is missing or does not
	// match the grant being redeemed.
	ErrInvalidClient = &Error{
		Kind:   "invalid_client",
		Code:   "invalid_client",
		Status: http.StatusUnauthorized,
	}

	// ErrInvalidRequest is returned for malformed or incomplete requests.
	ErrInvalidRequest = &Error{
		Kind:   "invalid_request",
		Code:   "invalid_request",
		Status: http.StatusBadRequest,
	}

	// ErrUnsupportedGrant is returned for a grant_type this server does not
	// implement.
	ErrUnsupportedGrant = &Error{
		Kind:   "unsupported_grant_type",
		Code:   "unsupported_grant_type",
		Status: http.StatusBadRequest,
	}

	// ErrSignatureInvalid is returned when an approval's Ed25519 signature
	// does not verify against the approving device's key.
	ErrSignatureInvalid = &Error{
		Kind:        "signature_invalid",
		Code:        "access_denied",
		Description: "signature verification failed",
		Status:      http.StatusUnauthorized,
	}

	// ErrTokenInvalid is returned for bearer tokens that fail verification
	// for any reason other than expiry.
	ErrTokenInvalid = &Error{
		Kind:   "token_invalid",
		Code:   "invalid_token",
		Status: http.StatusUnauthorized,
	}

	// ErrTokenExpired is returned for bearer tokens past exp. The HTTP layer
	// answers with WWW-Authenticate: Bearer.
	ErrTokenExpired = &Error{
		Kind:        "token_expired",
		Code:        "invalid_token",
		Description: "token expired",
		Status:      http.StatusUnauthorized,
	}
)
