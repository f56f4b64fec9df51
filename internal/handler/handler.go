// Package handler exposes the HTTP surface: OAuth endpoints, discovery
// documents, the MCP gateway, and health probes. Handlers translate
// transport concerns and delegate everything else to the auth and mcp
// packages.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Healer-AI/p8fs/internal/auth"
)

// ── Shared error response helpers ────────────────────────────────────────

type errResp struct {
	Error string `json:"error"`
}

func errResponse(c echo.Context, status int, msg string) error {
	return c.JSON(status, errResp{Error: msg})
}

// oauthError is the RFC 6749 error body.
type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// handleAuthError renders an *auth.Error with its RFC status and wire code.
// Expired bearer tokens additionally carry the WWW-Authenticate challenge.
func handleAuthError(c echo.Context, err error) error {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		return c.JSON(http.StatusInternalServerError, oauthError{Error: "server_error"})
	}
	if errors.Is(ae, auth.ErrTokenExpired) {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate,
			`Bearer error="invalid_token", error_description="token expired"`)
	}
	return c.JSON(ae.Status, oauthError{Error: ae.Code, Description: ae.Description})
}

// bearerToken extracts the bearer credential from the Authorization header.
func bearerToken(c echo.Context) (string, bool) {
	const prefix = "Bearer "
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):], true
	}
	return "", false
}

// baseURL reconstructs the externally visible origin from the request, so
// discovery documents stay correct behind any ingress.
func baseURL(c echo.Context) string {
	scheme := c.Scheme()
	if fwd := c.Request().Header.Get(echo.HeaderXForwardedProto); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + c.Request().Host
}
