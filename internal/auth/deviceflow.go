package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/kvstore"
	"github.com/Healer-AI/p8fs/internal/repository"
)

// Device-flow constants per RFC 8628.
const (
	DeviceCodeTTL = 600 * time.Second
	PollInterval  = 5 // seconds

	deviceAuthKeyPrefix = "device_auth:"
	userCodeKeyPrefix   = "user_code:"
)

// Pending request states.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusConsumed = "CONSUMED"
)

// userCodeAlphabet avoids vowels and ambiguous glyphs so codes read cleanly
// off a screen and never spell anything.
const userCodeAlphabet = "BCDFGHJKMNPQRSTVWXZ23456789"

// PendingDeviceRequest is the double-keyed KV record behind one device
// authorization. The same JSON lives under device_auth:{device_code} and
// user_code:{user_code}; every transition rewrites both.
type PendingDeviceRequest struct {
	DeviceCode   string    `json:"device_code"`
	UserCode     string    `json:"user_code"`
	ClientID     string    `json:"client_id"`
	Scope        string    `json:"scope,omitempty"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expires_at"`
	TenantID     string    `json:"tenant_id,omitempty"`
	DeviceID     string    `json:"device_id,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenExpires int       `json:"token_expires,omitempty"`
}

// DeviceAuthorization is the RFC 8628 issuance response. QRCode carries the
// complete verification URI for client-side rendering.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
	QRCode                  string `json:"qr_code"`
}

// ApproveRequest is a mobile device's approval of a pending authorization.
type ApproveRequest struct {
	UserCode  string
	TenantID  string
	DeviceID  string
	Challenge string
	Signature string // base64 Ed25519 signature over Challenge
}

// DeviceFlow runs the device-authorization grant.
type DeviceFlow struct {
	kv       kvstore.Store
	accounts repository.Accounts
	signer   *Signer
	refresh  *RefreshStore
	logger   *zap.Logger

	// verificationURI is where the user enters the code, e.g.
	// https://auth.example.com/device.
	verificationURI string
}

// NewDeviceFlow builds the device-authorization service.
func NewDeviceFlow(kv kvstore.Store, accounts repository.Accounts, signer *Signer, refresh *RefreshStore, verificationURI string, logger *zap.Logger) *DeviceFlow {
	return &DeviceFlow{
		kv:              kv,
		accounts:        accounts,
		signer:          signer,
		refresh:         refresh,
		verificationURI: verificationURI,
		logger:          logger,
	}
}

// Initiate starts a device authorization for client_id and returns the codes
// the client displays and polls with.
func (f *DeviceFlow) Initiate(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error) {
	if clientID == "" {
		return nil, ErrInvalidRequest.WithDescription("client_id is required")
	}

	deviceCode, err := randomToken()
	if err != nil {
		return nil, err
	}
	userCode, err := newUserCode()
	if err != nil {
		return nil, err
	}

	req := &PendingDeviceRequest{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   clientID,
		Scope:      scope,
		Status:     StatusPending,
		ExpiresAt:  time.Now().UTC().Add(DeviceCodeTTL),
	}
	if err := f.writeBoth(ctx, req, DeviceCodeTTL); err != nil {
		return nil, err
	}

	complete := f.verificationURI + "?user_code=" + url.QueryEscape(userCode)
	f.logger.Info("device authorization initiated",
		zap.String("client_id", clientID),
		zap.String("user_code", userCode))

	return &DeviceAuthorization{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         f.verificationURI,
		VerificationURIComplete: complete,
		ExpiresIn:               int(DeviceCodeTTL.Seconds()),
		Interval:                PollInterval,
		QRCode:                  complete,
	}, nil
}

// Poll is the device_code grant: the initiating client exchanges its device
// code for tokens once approval lands. Tokens are handed out exactly once;
// a second successful-looking poll gets invalid_grant.
func (f *DeviceFlow) Poll(ctx context.Context, deviceCode, clientID string) (*TokenPair, error) {
	req, err := f.loadByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, err
	}
	if req.ClientID != clientID {
		return nil, ErrInvalidClient.WithDescription("device code belongs to a different client")
	}

	switch req.Status {
	case StatusPending:
		return nil, ErrAuthorizationPending
	case StatusConsumed:
		return nil, ErrInvalidGrant.WithDescription("device code already redeemed")
	case StatusApproved:
		req.Status = StatusConsumed
		if err := f.writeBoth(ctx, req, time.Until(req.ExpiresAt)); err != nil {
			return nil, err
		}
		f.logger.Info("device authorization consumed",
			zap.String("client_id", clientID),
			zap.String("tenant_id", req.TenantID))
		return &TokenPair{
			AccessToken:  req.AccessToken,
			TokenType:    "Bearer",
			ExpiresIn:    req.TokenExpires,
			RefreshToken: req.RefreshToken,
			Scope:        req.Scope,
		}, nil
	default:
		return nil, ErrInvalidGrant.WithDescription("unknown device request state")
	}
}

// Approve transitions a pending request to APPROVED and binds tokens to the
// approving tenant and device. When a challenge and signature are supplied,
// the signature must verify against the approving device's Ed25519 key; a
// bad signature leaves the request untouched.
func (f *DeviceFlow) Approve(ctx context.Context, a ApproveRequest) error {
	if a.UserCode == "" || a.TenantID == "" || a.DeviceID == "" {
		return ErrInvalidRequest.WithDescription("user_code, tenant and device are required")
	}

	req, err := f.loadByUserCode(ctx, a.UserCode)
	if err != nil {
		return err
	}
	if req.Status != StatusPending {
		return ErrInvalidGrant.WithDescription("device request is not pending")
	}

	if a.Challenge != "" || a.Signature != "" {
		if err := f.verifyApproval(ctx, a); err != nil {
			return err
		}
	}

	pair, err := mintPair(ctx, f.signer, f.refresh, Claims{
		Subject:  a.TenantID,
		Tenant:   a.TenantID,
		DeviceID: a.DeviceID,
		ClientID: req.ClientID,
		Scope:    req.Scope,
	})
	if err != nil {
		return err
	}

	req.Status = StatusApproved
	req.TenantID = a.TenantID
	req.DeviceID = a.DeviceID
	req.AccessToken = pair.AccessToken
	req.RefreshToken = pair.RefreshToken
	req.TokenExpires = pair.ExpiresIn

	if err := f.writeBoth(ctx, req, time.Until(req.ExpiresAt)); err != nil {
		return err
	}

	// Approval is proof of key possession, so the device graduates.
	if err := f.accounts.PromoteDevice(ctx, a.TenantID, a.DeviceID); err != nil {
		f.logger.Warn("failed to promote approving device",
			zap.String("device_id", a.DeviceID), zap.Error(err))
	}

	f.logger.Info("device authorization approved",
		zap.String("user_code", req.UserCode),
		zap.String("tenant_id", a.TenantID),
		zap.String("device_id", a.DeviceID))
	return nil
}

// Deny removes a pending request entirely.
func (f *DeviceFlow) Deny(ctx context.Context, userCode string) error {
	req, err := f.loadByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil
		}
		return err
	}
	f.deleteBoth(ctx, req)
	f.logger.Info("device authorization denied", zap.String("user_code", req.UserCode))
	return nil
}

// verifyApproval checks the Ed25519 signature against the approving
// device's registered public key.
func (f *DeviceFlow) verifyApproval(ctx context.Context, a ApproveRequest) error {
	if a.Challenge == "" || a.Signature == "" {
		return ErrInvalidRequest.WithDescription("challenge and signature must be supplied together")
	}

	dev, err := f.accounts.GetDevice(ctx, a.TenantID, a.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSignatureInvalid.WithDescription("unknown approving device")
		}
		return fmt.Errorf("failed to load approving device: %w", err)
	}

	pub, err := decodeKey(dev.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrSignatureInvalid.WithDescription("approving device has no usable key")
	}
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		sig, err = base64.RawURLEncoding.DecodeString(a.Signature)
	}
	if err != nil {
		return ErrSignatureInvalid.WithDescription("signature is not valid base64")
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(a.Challenge), sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// decodeKey accepts a device public key in standard or url-safe base64.
func decodeKey(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// ── KV plumbing ───────────────────────────────────────────────────────────

func (f *DeviceFlow) loadByDeviceCode(ctx context.Context, deviceCode string) (*PendingDeviceRequest, error) {
	return f.load(ctx, deviceAuthKeyPrefix+deviceCode)
}

// loadByUserCode resolves a user code in either display form: ABCD-EFGH or
// ABCDEFGH.
func (f *DeviceFlow) loadByUserCode(ctx context.Context, userCode string) (*PendingDeviceRequest, error) {
	userCode = strings.ToUpper(strings.TrimSpace(userCode))
	req, err := f.load(ctx, userCodeKeyPrefix+userCode)
	if errors.Is(err, ErrExpiredToken) && len(userCode) == 8 && !strings.Contains(userCode, "-") {
		return f.load(ctx, userCodeKeyPrefix+userCode[:4]+"-"+userCode[4:])
	}
	return req, err
}

func (f *DeviceFlow) load(ctx context.Context, key string) (*PendingDeviceRequest, error) {
	raw, err := f.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("failed to load device request: %w", err)
	}

	var req PendingDeviceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("failed to decode device request: %w", err)
	}
	if time.Now().After(req.ExpiresAt) {
		f.deleteBoth(ctx, &req)
		return nil, ErrExpiredToken
	}
	return &req, nil
}

func (f *DeviceFlow) writeBoth(ctx context.Context, req *PendingDeviceRequest, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrExpiredToken
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode device request: %w", err)
	}
	if err := f.kv.Put(ctx, deviceAuthKeyPrefix+req.DeviceCode, raw, ttl); err != nil {
		return fmt.Errorf("failed to store device request: %w", err)
	}
	if err := f.kv.Put(ctx, userCodeKeyPrefix+req.UserCode, raw, ttl); err != nil {
		return fmt.Errorf("failed to store user code: %w", err)
	}
	return nil
}

func (f *DeviceFlow) deleteBoth(ctx context.Context, req *PendingDeviceRequest) {
	if err := f.kv.Delete(ctx, deviceAuthKeyPrefix+req.DeviceCode); err != nil {
		f.logger.Warn("failed to drop device code key", zap.Error(err))
	}
	if err := f.kv.Delete(ctx, userCodeKeyPrefix+req.UserCode); err != nil {
		f.logger.Warn("failed to drop user code key", zap.Error(err))
	}
}

// newUserCode renders 8 characters from the code alphabet with a hyphen
// after the fourth: XXXX-XXXX.
func newUserCode() (string, error) {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		if i == 4 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userCodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		b.WriteByte(userCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
