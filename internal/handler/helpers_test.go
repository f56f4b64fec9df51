package handler_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/handler"
	"github.com/Healer-AI/p8fs/internal/kvstore"
	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/repository"
)

const (
	testIssuer          = "https://auth.test.p8fs.io"
	testVerificationURI = testIssuer + "/device"
)

// ── In-memory accounts ────────────────────────────────────────────────────

// memAccounts is a map-backed account store so flows that write and then
// read back (registration, approval) run against real state.
type memAccounts struct {
	mu       sync.Mutex
	tenants  map[string]*model.Tenant
	devices  map[string]*model.Device
	promoted []string
}

var _ repository.Accounts = (*memAccounts)(nil)

func newMemAccounts() *memAccounts {
	return &memAccounts{
		tenants: make(map[string]*model.Tenant),
		devices: make(map[string]*model.Device),
	}
}

func (a *memAccounts) GetTenant(_ context.Context, tenantID string) (*model.Tenant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tenants[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (a *memAccounts) PutTenant(_ context.Context, t *model.Tenant) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *t
	a.tenants[t.TenantID] = &cp
	return nil
}

func (a *memAccounts) GetDevice(_ context.Context, tenantID, deviceID string) (*model.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[tenantID+"/"+deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (a *memAccounts) PutDevice(_ context.Context, d *model.Device) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *d
	a.devices[d.TenantID+"/"+d.DeviceID] = &cp
	return nil
}

func (a *memAccounts) TouchDevice(context.Context, string, string) {}

func (a *memAccounts) PromoteDevice(_ context.Context, tenantID, deviceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.promoted = append(a.promoted, deviceID)
	if d, ok := a.devices[tenantID+"/"+deviceID]; ok {
		d.TrustLevel = model.TrustTrusted
	}
	return nil
}

// captureSender records the last verification code instead of sending it.
type captureSender struct {
	email string
	code  string
}

func (s *captureSender) SendVerificationCode(_ context.Context, email, code string) error {
	s.email, s.code = email, code
	return nil
}

// ── Harness ───────────────────────────────────────────────────────────────

// oauthHarness wires the real auth services over miniredis behind one
// OAuthHandler, so endpoint tests drive complete flows.
type oauthHarness struct {
	e        *echo.Echo
	handler  *handler.OAuthHandler
	signer   *auth.Signer
	verifier auth.Verifier
	refresh  *auth.RefreshStore
	accounts *memAccounts
	sender   *captureSender
}

func newOAuthHarness(t *testing.T) *oauthHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	logger := zaptest.NewLogger(t)
	kv := kvstore.NewRedisStore(rdb, logger)

	signer, err := auth.NewSigner(testIssuer)
	require.NoError(t, err)
	verifier := auth.NewLocalVerifier(signer.PublicKey())

	accounts := newMemAccounts()
	refresh := auth.NewRefreshStore(kv, logger)
	device := auth.NewDeviceFlow(kv, accounts, signer, refresh, testVerificationURI, logger)
	codes := auth.NewCodeFlow(kv, signer, refresh, logger)
	sender := &captureSender{}
	registration := auth.NewRegistration(kv, accounts, signer, refresh, sender, logger)

	h := handler.NewOAuthHandler(device, codes, refresh, registration, signer, verifier, testVerificationURI, logger)
	e := echo.New()
	h.Register(e)

	return &oauthHarness{
		e:        e,
		handler:  h,
		signer:   signer,
		verifier: verifier,
		refresh:  refresh,
		accounts: accounts,
		sender:   sender,
	}
}

// ── Request helpers ───────────────────────────────────────────────────────

func postForm(t *testing.T, e *echo.Echo, fn echo.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	require.NoError(t, fn(e.NewContext(req, rec)))
	return rec
}

func postJSON(t *testing.T, e *echo.Echo, fn echo.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, fn(e.NewContext(req, rec)))
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func newDeviceKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), priv
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
