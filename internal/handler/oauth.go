package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/auth"
)

// OAuthHandler serves the OAuth 2.1 endpoints and the discovery documents.
type OAuthHandler struct {
	device       *auth.DeviceFlow
	codes        *auth.CodeFlow
	refresh      *auth.RefreshStore
	registration *auth.Registration
	signer       *auth.Signer
	verifier     auth.Verifier
	logger       *zap.Logger

	// verificationURI is the device verification page unauthenticated
	// authorize calls are sent to.
	verificationURI string
}

// NewOAuthHandler wires the OAuth services into one HTTP surface.
func NewOAuthHandler(device *auth.DeviceFlow, codes *auth.CodeFlow, refresh *auth.RefreshStore, registration *auth.Registration, signer *auth.Signer, verifier auth.Verifier, verificationURI string, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{
		device:          device,
		codes:           codes,
		refresh:         refresh,
		registration:    registration,
		signer:          signer,
		verifier:        verifier,
		verificationURI: verificationURI,
		logger:          logger,
	}
}

// Register mounts the endpoint paths.
func (h *OAuthHandler) Register(e *echo.Echo) {
	g := e.Group("/oauth")
	g.POST("/token", h.Token)
	g.POST("/device_authorization", h.DeviceAuthorization)
	g.GET("/authorize", h.Authorize)
	g.POST("/revoke", h.Revoke)
	g.POST("/introspect", h.Introspect)
	g.POST("/device/register", h.DeviceRegister)
	g.POST("/device/verify", h.DeviceVerify)
	g.POST("/device/approve", h.DeviceApprove)

	e.GET("/.well-known/openid-configuration", h.Discovery)
	e.GET("/.well-known/jwks.json", h.JWKS)
}

// Token is the token endpoint. It dispatches on grant_type and answers
// every failure with the RFC {error, error_description} body.
func (h *OAuthHandler) Token(c echo.Context) error {
	ctx := c.Request().Context()

	switch grant := c.FormValue("grant_type"); grant {
	case auth.GrantDeviceCode:
		pair, err := h.device.Poll(ctx, c.FormValue("device_code"), c.FormValue("client_id"))
		if err != nil {
			return handleAuthError(c, err)
		}
		return c.JSON(http.StatusOK, pair)

	case auth.GrantAuthorizationCode:
		pair, err := h.codes.Exchange(ctx,
			c.FormValue("code"),
			c.FormValue("code_verifier"),
			c.FormValue("client_id"),
			c.FormValue("redirect_uri"))
		if err != nil {
			return handleAuthError(c, err)
		}
		return c.JSON(http.StatusOK, pair)

	case auth.GrantRefreshToken:
		return h.refreshGrant(c)

	case "":
		return handleAuthError(c, auth.ErrInvalidRequest.WithDescription("grant_type is required"))
	default:
		return handleAuthError(c, auth.ErrUnsupportedGrant.WithDescription("unsupported grant_type "+grant))
	}
}

// refreshGrant rotates the presented refresh token and mints a fresh access
// token for the same principal. The optional resource param binds aud.
func (h *OAuthHandler) refreshGrant(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.FormValue("refresh_token")
	if token == "" {
		return handleAuthError(c, auth.ErrInvalidRequest.WithDescription("refresh_token is required"))
	}

	rec, next, err := h.refresh.Rotate(ctx, token, c.FormValue("client_id"))
	if err != nil {
		return handleAuthError(c, err)
	}

	access, err := h.signer.Mint(auth.Claims{
		Subject:  rec.Subject,
		Tenant:   rec.TenantID,
		DeviceID: rec.DeviceID,
		ClientID: rec.ClientID,
		Scope:    rec.Scope,
		Audience: c.FormValue("resource"),
	})
	if err != nil {
		h.logger.Error("failed to mint access token", zap.Error(err))
		return handleAuthError(c, err)
	}

	return c.JSON(http.StatusOK, auth.TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(auth.AccessTokenTTL.Seconds()),
		RefreshToken: next,
		Scope:        rec.Scope,
	})
}

// DeviceAuthorization starts a device-authorization grant.
func (h *OAuthHandler) DeviceAuthorization(c echo.Context) error {
	da, err := h.device.Initiate(c.Request().Context(), c.FormValue("client_id"), c.FormValue("scope"))
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.JSON(http.StatusOK, da)
}

// Authorize runs the PKCE code flow for an authenticated caller. An
// unauthenticated caller is redirected to the device verification page with
// the full query preserved, so the flow resumes after sign-in.
func (h *OAuthHandler) Authorize(c echo.Context) error {
	token, ok := bearerToken(c)
	if !ok {
		return h.redirectToVerification(c)
	}
	principal, err := h.verifier.Verify(c.Request().Context(), token)
	if err != nil {
		return h.redirectToVerification(c)
	}

	userID := principal.UserID
	if userID == "" {
		userID = principal.Subject
	}
	req := auth.AuthorizeRequest{
		ResponseType:        c.QueryParam("response_type"),
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		Scope:               c.QueryParam("scope"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
		Resource:            c.QueryParam("resource"),
		TenantID:            principal.TenantID,
		UserID:              userID,
	}

	code, err := h.codes.IssueCode(c.Request().Context(), req)
	if err != nil {
		return handleAuthError(c, err)
	}

	if req.RedirectURI == "" {
		// No redirect target: hand the code back directly (device-local flows).
		return c.JSON(http.StatusOK, map[string]string{"code": code, "state": c.QueryParam("state")})
	}

	loc, err := url.Parse(req.RedirectURI)
	if err != nil {
		return handleAuthError(c, auth.ErrInvalidRequest.WithDescription("redirect_uri is not a valid URL"))
	}
	q := loc.Query()
	q.Set("code", code)
	if state := c.QueryParam("state"); state != "" {
		q.Set("state", state)
	}
	loc.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, loc.String())
}

// redirectToVerification sends the caller to the device verification page,
// carrying the original authorize query so nothing is lost across sign-in.
func (h *OAuthHandler) redirectToVerification(c echo.Context) error {
	target := h.verificationURI
	if raw := c.Request().URL.RawQuery; raw != "" {
		target += "?" + raw
	}
	return c.Redirect(http.StatusFound, target)
}

// Revoke drops a refresh token. Per RFC 7009 the response is 200 even when
// the token was already gone.
func (h *OAuthHandler) Revoke(c echo.Context) error {
	token := c.FormValue("token")
	if token == "" {
		return handleAuthError(c, auth.ErrInvalidRequest.WithDescription("token is required"))
	}
	if err := h.refresh.Revoke(c.Request().Context(), token); err != nil {
		h.logger.Warn("revocation failed", zap.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]any{})
}

// Introspect reports whether a token is active. Inactive tokens disclose
// nothing else, per RFC 7662.
func (h *OAuthHandler) Introspect(c echo.Context) error {
	token := c.FormValue("token")
	if token == "" {
		return c.JSON(http.StatusOK, auth.Introspection{Active: false})
	}
	principal, err := h.verifier.Verify(c.Request().Context(), token)
	if err != nil {
		return c.JSON(http.StatusOK, auth.Introspection{Active: false})
	}
	return c.JSON(http.StatusOK, auth.Introspection{
		Active:    true,
		Subject:   principal.Subject,
		TenantID:  principal.TenantID,
		ClientID:  principal.ClientID,
		Scope:     strings.Join(principal.Scopes, " "),
		TokenType: "Bearer",
		ExpiresAt: principal.ExpiresAt.Unix(),
	})
}

// ── device registration and approval ─────────────────────────────────────

type registerRequest struct {
	Email      string          `json:"email"`
	PublicKey  string          `json:"public_key"`
	DeviceInfo auth.DeviceInfo `json:"device_info"`
}

// DeviceRegister opens a pending registration for a new device.
func (h *OAuthHandler) DeviceRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return handleAuthError(c, auth.ErrInvalidRequest.WithDescription("invalid request body"))
	}
	resp, err := h.registration.Register(c.Request().Context(), req.Email, req.PublicKey, req.DeviceInfo)
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

type verifyRequest struct {
	RegistrationID   string `json:"registration_id"`
	VerificationCode string `json:"verification_code"`
}

// DeviceVerify closes a registration with the emailed code and returns the
// initial token pair.
func (h *OAuthHandler) DeviceVerify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return handleAuthError(c, auth.ErrInvalidRequest.WithDescription("invalid request body"))
	}
	pair, err := h.registration.Verify(c.Request().Context(), req.RegistrationID, req.VerificationCode)
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

type approveRequest struct {
	UserCode  string `json:"user_code"`
	TenantID  string `json:"tenant_id"`
	DeviceID  string `json:"device_id"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
	Action    string `json:"action"`
}

// DeviceApprove resolves a pending device authorization. The default action
// approves; action=deny tears the request down instead.
func (h *OAuthHandler) DeviceApprove(c echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return handleAuthError(c, auth.ErrInvalidRequest.WithDescription("invalid request body"))
	}
	ctx := c.Request().Context()

	if req.Action == "deny" {
		if err := h.device.Deny(ctx, req.UserCode); err != nil {
			return handleAuthError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "denied"})
	}

	err := h.device.Approve(ctx, auth.ApproveRequest{
		UserCode:  req.UserCode,
		TenantID:  req.TenantID,
		DeviceID:  req.DeviceID,
		Challenge: req.Challenge,
		Signature: req.Signature,
	})
	if err != nil {
		return handleAuthError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "approved"})
}

// ── discovery ────────────────────────────────────────────────────────────

// Discovery serves the OIDC-shaped metadata document.
func (h *OAuthHandler) Discovery(c echo.Context) error {
	return c.JSON(http.StatusOK, auth.Discovery(baseURL(c)))
}

// JWKS serves the token verification keys.
func (h *OAuthHandler) JWKS(c echo.Context) error {
	return c.JSON(http.StatusOK, h.signer.JWKS())
}
