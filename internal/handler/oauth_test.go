package handler_test

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/model"
)

// ── Token endpoint ────────────────────────────────────────────────────────

func TestToken_MissingGrantType(t *testing.T) {
	h := newOAuthHarness(t)

	rec := postForm(t, h.e, h.handler.Token, url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "invalid_request", body["error"])
	assert.Equal(t, "grant_type is required", body["error_description"])
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	h := newOAuthHarness(t)

	rec := postForm(t, h.e, h.handler.Token, url.Values{"grant_type": {"password"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_grant_type", decodeJSON(t, rec)["error"])
}

// ── Device flow ───────────────────────────────────────────────────────────

func TestDeviceFlow_EndToEnd(t *testing.T) {
	h := newOAuthHarness(t)

	rec := postForm(t, h.e, h.handler.DeviceAuthorization, url.Values{
		"client_id": {"demo-cli"},
		"scope":     {"read write"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	da := decodeJSON(t, rec)
	deviceCode := da["device_code"].(string)
	userCode := da["user_code"].(string)
	require.NotEmpty(t, deviceCode)
	assert.Regexp(t, `^[BCDFGHJKMNPQRSTVWXZ23456789]{4}-[BCDFGHJKMNPQRSTVWXZ23456789]{4}$`, userCode)
	assert.Equal(t, testVerificationURI, da["verification_uri"])
	assert.Contains(t, da["verification_uri_complete"], "user_code=")
	assert.EqualValues(t, 600, da["expires_in"])
	assert.EqualValues(t, 5, da["interval"])

	poll := url.Values{
		"grant_type":  {auth.GrantDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {"demo-cli"},
	}
	rec = postForm(t, h.e, h.handler.Token, poll)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "authorization_pending", decodeJSON(t, rec)["error"])

	rec = postJSON(t, h.e, h.handler.DeviceApprove, map[string]any{
		"user_code": userCode,
		"tenant_id": "tenant-e2e",
		"device_id": "device-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decodeJSON(t, rec)["status"])
	assert.Contains(t, h.accounts.promoted, "device-1")

	rec = postForm(t, h.e, h.handler.Token, poll)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodeJSON(t, rec)
	assert.Equal(t, "Bearer", pair["token_type"])
	assert.Equal(t, "read write", pair["scope"])
	require.NotEmpty(t, pair["refresh_token"])

	principal, err := h.verifier.Verify(context.Background(), pair["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "tenant-e2e", principal.TenantID)
	assert.Equal(t, "device-1", principal.DeviceID)
	assert.Equal(t, []string{"read", "write"}, principal.Scopes)

	// tokens are handed out exactly once
	rec = postForm(t, h.e, h.handler.Token, poll)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])
}

func TestToken_DeviceFlow_WrongClient(t *testing.T) {
	h := newOAuthHarness(t)

	rec := postForm(t, h.e, h.handler.DeviceAuthorization, url.Values{"client_id": {"demo-cli"}})
	require.Equal(t, http.StatusOK, rec.Code)
	deviceCode := decodeJSON(t, rec)["device_code"].(string)

	rec = postForm(t, h.e, h.handler.Token, url.Values{
		"grant_type":  {auth.GrantDeviceCode},
		"device_code": {deviceCode},
		"client_id":   {"someone-else"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeJSON(t, rec)["error"])
}

func TestDeviceAuthorization_RequiresClientID(t *testing.T) {
	h := newOAuthHarness(t)

	rec := postForm(t, h.e, h.handler.DeviceAuthorization, url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeJSON(t, rec)["error"])
}

func TestDeviceApprove_Deny(t *testing.T) {
	h := newOAuthHarness(t)

	rec := postForm(t, h.e, h.handler.DeviceAuthorization, url.Values{"client_id": {"demo-cli"}})
	require.Equal(t, http.StatusOK, rec.Code)
	da := decodeJSON(t, rec)

	rec = postJSON(t, h.e, h.handler.DeviceApprove, map[string]any{
		"user_code": da["user_code"],
		"action":    "deny",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "denied", decodeJSON(t, rec)["status"])

	// the request is gone: the poller sees an expired code
	rec = postForm(t, h.e, h.handler.Token, url.Values{
		"grant_type":  {auth.GrantDeviceCode},
		"device_code": {da["device_code"].(string)},
		"client_id":   {"demo-cli"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "expired_token", decodeJSON(t, rec)["error"])
}

func TestDeviceApprove_SignatureChecked(t *testing.T) {
	h := newOAuthHarness(t)

	pub, priv := newDeviceKey(t)
	require.NoError(t, h.accounts.PutDevice(context.Background(), &model.Device{
		DeviceID:   "device-sig",
		TenantID:   "tenant-sig",
		PublicKey:  pub,
		TrustLevel: model.TrustUnverified,
	}))

	rec := postForm(t, h.e, h.handler.DeviceAuthorization, url.Values{"client_id": {"demo-cli"}})
	require.Equal(t, http.StatusOK, rec.Code)
	userCode := decodeJSON(t, rec)["user_code"].(string)

	challenge := "approve:" + userCode
	approve := map[string]any{
		"user_code": userCode,
		"tenant_id": "tenant-sig",
		"device_id": "device-sig",
		"challenge": challenge,
		"signature": base64.StdEncoding.EncodeToString([]byte("not a signature")),
	}
	rec = postJSON(t, h.e, h.handler.DeviceApprove, approve)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "access_denied", decodeJSON(t, rec)["error"])

	approve["signature"] = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(challenge)))
	rec = postJSON(t, h.e, h.handler.DeviceApprove, approve)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decodeJSON(t, rec)["status"])

	dev, err := h.accounts.GetDevice(context.Background(), "tenant-sig", "device-sig")
	require.NoError(t, err)
	assert.Equal(t, model.TrustTrusted, dev.TrustLevel)
}

// ── Authorization-code flow ───────────────────────────────────────────────

func authorizeReq(t *testing.T, h *oauthHarness, query url.Values, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+query.Encode(), nil)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h.handler.Authorize(h.e.NewContext(req, rec)))
	return rec
}

func TestAuthorize_RedirectsUnauthenticated(t *testing.T) {
	h := newOAuthHarness(t)

	query := url.Values{
		"response_type": {"code"},
		"client_id":     {"web-app"},
		"state":         {"xyz"},
	}

	rec := authorizeReq(t, h, query, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testVerificationURI+"?"+query.Encode(), rec.Header().Get(echo.HeaderLocation))

	// a broken token redirects the same way instead of 401ing the browser
	rec = authorizeReq(t, h, query, "garbage")
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestAuthorize_IssuesCodeThroughRedirect(t *testing.T) {
	h := newOAuthHarness(t)

	access, err := h.signer.Mint(auth.Claims{Subject: "tenant-auth", Tenant: "tenant-auth", Scope: "read"})
	require.NoError(t, err)

	verifier := "correct-horse-battery-staple-0123456789abcdef"
	rec := authorizeReq(t, h, url.Values{
		"response_type":         {"code"},
		"client_id":             {"web-app"},
		"redirect_uri":          {"https://app.example.com/cb"},
		"scope":                 {"read"},
		"state":                 {"s-123"},
		"code_challenge":        {pkceChallenge(verifier)},
		"code_challenge_method": {"S256"},
	}, access)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "/cb", loc.Path)
	assert.Equal(t, "s-123", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	exchange := url.Values{
		"grant_type":    {auth.GrantAuthorizationCode},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {"web-app"},
		"redirect_uri":  {"https://app.example.com/cb"},
	}
	rec = postForm(t, h.e, h.handler.Token, exchange)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodeJSON(t, rec)
	assert.Equal(t, "read", pair["scope"])

	principal, err := h.verifier.Verify(context.Background(), pair["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "tenant-auth", principal.TenantID)

	// codes are single use
	rec = postForm(t, h.e, h.handler.Token, exchange)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])
}

func TestAuthorize_ReturnsCodeInlineWithoutRedirectURI(t *testing.T) {
	h := newOAuthHarness(t)

	access, err := h.signer.Mint(auth.Claims{Subject: "tenant-auth", Tenant: "tenant-auth"})
	require.NoError(t, err)

	rec := authorizeReq(t, h, url.Values{
		"response_type":         {"code"},
		"client_id":             {"local-cli"},
		"state":                 {"inline"},
		"code_challenge":        {pkceChallenge("some-verifier-value-padded-out")},
		"code_challenge_method": {"S256"},
	}, access)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.NotEmpty(t, body["code"])
	assert.Equal(t, "inline", body["state"])
}

func TestAuthorize_RejectsPlainPKCE(t *testing.T) {
	h := newOAuthHarness(t)

	access, err := h.signer.Mint(auth.Claims{Subject: "tenant-auth", Tenant: "tenant-auth"})
	require.NoError(t, err)

	rec := authorizeReq(t, h, url.Values{
		"response_type":         {"code"},
		"client_id":             {"web-app"},
		"code_challenge":        {"abc"},
		"code_challenge_method": {"plain"},
	}, access)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "invalid_request", body["error"])
	assert.Contains(t, body["error_description"], "S256")
}

func TestToken_CodeExchange_WrongVerifier(t *testing.T) {
	h := newOAuthHarness(t)

	access, err := h.signer.Mint(auth.Claims{Subject: "tenant-auth", Tenant: "tenant-auth"})
	require.NoError(t, err)

	rec := authorizeReq(t, h, url.Values{
		"response_type":         {"code"},
		"client_id":             {"web-app"},
		"code_challenge":        {pkceChallenge("the-real-verifier-padded-to-length")},
		"code_challenge_method": {"S256"},
	}, access)
	require.Equal(t, http.StatusOK, rec.Code)
	code := decodeJSON(t, rec)["code"].(string)

	rec = postForm(t, h.e, h.handler.Token, url.Values{
		"grant_type":    {auth.GrantAuthorizationCode},
		"code":          {code},
		"code_verifier": {"a-different-verifier-padded-to-length"},
		"client_id":     {"web-app"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "invalid_grant", body["error"])
	assert.Contains(t, body["error_description"], "PKCE")
}

// ── Refresh grant ─────────────────────────────────────────────────────────

func TestToken_RefreshRotationAndReplay(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	first, err := h.refresh.Issue(ctx, auth.RefreshRecord{
		Subject:  "tenant-r",
		TenantID: "tenant-r",
		ClientID: "demo-cli",
		Scope:    "read",
	})
	require.NoError(t, err)

	form := url.Values{
		"grant_type":    {auth.GrantRefreshToken},
		"refresh_token": {first},
		"client_id":     {"demo-cli"},
	}
	rec := postForm(t, h.e, h.handler.Token, form)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodeJSON(t, rec)
	next := pair["refresh_token"].(string)
	assert.NotEqual(t, first, next)
	assert.EqualValues(t, 3600, pair["expires_in"])

	principal, err := h.verifier.Verify(ctx, pair["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "tenant-r", principal.TenantID)
	assert.Equal(t, []string{"read"}, principal.Scopes)

	// replaying the rotated-out token burns the whole family
	rec = postForm(t, h.e, h.handler.Token, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON(t, rec)["error_description"], "reuse")

	form.Set("refresh_token", next)
	rec = postForm(t, h.e, h.handler.Token, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])
}

func TestToken_RefreshMissingToken(t *testing.T) {
	h := newOAuthHarness(t)

	rec := postForm(t, h.e, h.handler.Token, url.Values{"grant_type": {auth.GrantRefreshToken}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeJSON(t, rec)["error"])
}

func TestToken_RefreshWrongClient(t *testing.T) {
	h := newOAuthHarness(t)

	token, err := h.refresh.Issue(context.Background(), auth.RefreshRecord{
		Subject:  "tenant-r",
		TenantID: "tenant-r",
		ClientID: "demo-cli",
	})
	require.NoError(t, err)

	rec := postForm(t, h.e, h.handler.Token, url.Values{
		"grant_type":    {auth.GrantRefreshToken},
		"refresh_token": {token},
		"client_id":     {"someone-else"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeJSON(t, rec)["error"])
}

// ── Revocation and introspection ──────────────────────────────────────────

func TestRevoke(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	rec := postForm(t, h.e, h.handler.Revoke, url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	token, err := h.refresh.Issue(ctx, auth.RefreshRecord{Subject: "tenant-r", TenantID: "tenant-r"})
	require.NoError(t, err)

	rec = postForm(t, h.e, h.handler.Revoke, url.Values{"token": {token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postForm(t, h.e, h.handler.Token, url.Values{
		"grant_type":    {auth.GrantRefreshToken},
		"refresh_token": {token},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])

	// revoking an already-gone token still answers 200 per RFC 7009
	rec = postForm(t, h.e, h.handler.Revoke, url.Values{"token": {token}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIntrospect_InactiveTokensDiscloseNothing(t *testing.T) {
	h := newOAuthHarness(t)

	for _, form := range []url.Values{
		{},
		{"token": {"not-a-jwt"}},
	} {
		rec := postForm(t, h.e, h.handler.Introspect, form)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeJSON(t, rec)
		assert.Equal(t, false, body["active"])
		assert.NotContains(t, body, "sub")
		assert.NotContains(t, body, "tenant")
	}
}

func TestIntrospect_ActiveToken(t *testing.T) {
	h := newOAuthHarness(t)

	access, err := h.signer.Mint(auth.Claims{
		Subject:  "tenant-i",
		Tenant:   "tenant-i",
		ClientID: "demo-cli",
		Scope:    "read search",
	})
	require.NoError(t, err)

	rec := postForm(t, h.e, h.handler.Introspect, url.Values{"token": {access}})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "tenant-i", body["sub"])
	assert.Equal(t, "tenant-i", body["tenant"])
	assert.Equal(t, "demo-cli", body["client_id"])
	assert.Equal(t, "read search", body["scope"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Greater(t, body["exp"], float64(time.Now().Unix()))
}

// ── Device registration ───────────────────────────────────────────────────

func TestDeviceRegistration_EndToEnd(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	pub, _ := newDeviceKey(t)
	rec := postJSON(t, h.e, h.handler.DeviceRegister, map[string]any{
		"email":      " User@Example.COM",
		"public_key": pub,
		"device_info": map[string]string{
			"name":     "Pixel",
			"type":     "phone",
			"platform": "android",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	reg := decodeJSON(t, rec)
	registrationID := reg["registration_id"].(string)
	require.NotEmpty(t, registrationID)
	assert.EqualValues(t, 600, reg["expires_in"])
	assert.Equal(t, "user@example.com", h.sender.email)
	require.NotEmpty(t, h.sender.code)

	wrongCode := "000000"
	if h.sender.code == wrongCode {
		wrongCode = "000001"
	}
	rec = postJSON(t, h.e, h.handler.DeviceVerify, map[string]any{
		"registration_id":   registrationID,
		"verification_code": wrongCode,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])

	rec = postJSON(t, h.e, h.handler.DeviceVerify, map[string]any{
		"registration_id":   registrationID,
		"verification_code": h.sender.code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodeJSON(t, rec)

	wantTenant := model.TenantIDFromEmail("user@example.com")
	principal, err := h.verifier.Verify(ctx, pair["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, wantTenant, principal.TenantID)
	require.NotEmpty(t, pair["refresh_token"])

	tenant, err := h.accounts.GetTenant(ctx, wantTenant)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", tenant.Email)
	assert.Equal(t, pub, tenant.PublicKey)
	require.Len(t, tenant.DeviceIDs, 1)

	dev, err := h.accounts.GetDevice(ctx, wantTenant, tenant.DeviceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TrustUnverified, dev.TrustLevel)
	assert.Equal(t, pub, dev.PublicKey)

	// registrations are single use
	rec = postJSON(t, h.e, h.handler.DeviceVerify, map[string]any{
		"registration_id":   registrationID,
		"verification_code": h.sender.code,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceRegister_RejectsBadInput(t *testing.T) {
	h := newOAuthHarness(t)
	pub, _ := newDeviceKey(t)

	cases := map[string]map[string]any{
		"bad email": {
			"email":      "not-an-email",
			"public_key": pub,
		},
		"short key": {
			"email":      "user@example.com",
			"public_key": base64.StdEncoding.EncodeToString([]byte("too-short")),
		},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := postJSON(t, h.e, h.handler.DeviceRegister, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", decodeJSON(t, rec)["error"])
		})
	}
}

func TestDeviceRegistration_SecondDeviceKeepsTenantKey(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	register := func(pub, deviceName string) {
		rec := postJSON(t, h.e, h.handler.DeviceRegister, map[string]any{
			"email":       "user@example.com",
			"public_key":  pub,
			"device_info": map[string]string{"name": deviceName, "type": "phone", "platform": "ios"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = postJSON(t, h.e, h.handler.DeviceVerify, map[string]any{
			"registration_id":   decodeJSON(t, rec)["registration_id"],
			"verification_code": h.sender.code,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	firstKey, _ := newDeviceKey(t)
	register(firstKey, "iPhone")
	secondKey, _ := newDeviceKey(t)
	register(secondKey, "iPad")

	tenant, err := h.accounts.GetTenant(ctx, model.TenantIDFromEmail("user@example.com"))
	require.NoError(t, err)
	assert.Len(t, tenant.DeviceIDs, 2)
	assert.Equal(t, firstKey, tenant.PublicKey, "tenant key is pinned by the first device")
}

// ── Discovery documents ───────────────────────────────────────────────────

func TestDiscovery_UsesRequestHost(t *testing.T) {
	h := newOAuthHarness(t)

	req := httptest.NewRequest(http.MethodGet, "http://api.p8fs.example/.well-known/openid-configuration", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.handler.Discovery(h.e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	doc := decodeJSON(t, rec)
	assert.Equal(t, "http://api.p8fs.example", doc["issuer"])
	assert.Equal(t, "http://api.p8fs.example/oauth/token", doc["token_endpoint"])
	assert.Equal(t, "http://api.p8fs.example/oauth/device_authorization", doc["device_authorization_endpoint"])
	assert.Equal(t, "http://api.p8fs.example/.well-known/jwks.json", doc["jwks_uri"])
	assert.Equal(t, []any{"S256"}, doc["code_challenge_methods_supported"])
	assert.Contains(t, doc["grant_types_supported"], auth.GrantDeviceCode)
}

func TestDiscovery_HonorsForwardedProto(t *testing.T) {
	h := newOAuthHarness(t)

	req := httptest.NewRequest(http.MethodGet, "http://api.p8fs.example/.well-known/openid-configuration", nil)
	req.Header.Set(echo.HeaderXForwardedProto, "https")
	rec := httptest.NewRecorder()
	require.NoError(t, h.handler.Discovery(h.e.NewContext(req, rec)))

	assert.Equal(t, "https://api.p8fs.example", decodeJSON(t, rec)["issuer"])
}

func TestJWKS_PublishesSigningKey(t *testing.T) {
	h := newOAuthHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.handler.JWKS(h.e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	keys := body["keys"].([]any)
	require.Len(t, keys, 1)
	key := keys[0].(map[string]any)
	assert.Equal(t, "EC", key["kty"])
	assert.Equal(t, "P-256", key["crv"])
	assert.Equal(t, "ES256", key["alg"])
	assert.Equal(t, h.signer.KeyID(), key["kid"])
	assert.NotEmpty(t, key["x"])
	assert.NotEmpty(t, key["y"])
}
