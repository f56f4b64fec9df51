package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/kvstore"
	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/repository"
)

// RegistrationTTL bounds how long an unverified registration stays open.
const RegistrationTTL = 600 * time.Second

const registrationKeyPrefix = "registration:"

// VerificationSender delivers a registration code out-of-band.
type VerificationSender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// LogSender logs the code instead of sending it. Replace with a real email
// or SMS dispatcher when one is wired up.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) SendVerificationCode(_ context.Context, email, code string) error {
	// ── Stub: log instead of sending ───────────────────────────────────
	s.Logger.Info("verification code dispatched (stub)",
		zap.String("to", email),
		zap.String("code", code),
	)
	return nil
}

// DeviceInfo describes the enrolling device.
type DeviceInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Platform string `json:"platform"`
}

// RegistrationResponse answers a register call.
type RegistrationResponse struct {
	RegistrationID string `json:"registration_id"`
	ExpiresIn      int    `json:"expires_in"`
}

// pendingRegistration is the KV record awaiting email verification.
type pendingRegistration struct {
	Email     string     `json:"email"`
	PublicKey string     `json:"public_key"`
	Device    DeviceInfo `json:"device"`
	Code      string     `json:"code"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Registration enrolls mobile devices: an email-verified registration
// creates the tenant on first contact and an UNVERIFIED device row. The
// device reaches TRUSTED later by approving a device authorization.
type Registration struct {
	kv       kvstore.Store
	accounts repository.Accounts
	signer   *Signer
	refresh  *RefreshStore
	sender   VerificationSender
	logger   *zap.Logger
}

// NewRegistration builds the enrollment service.
func NewRegistration(kv kvstore.Store, accounts repository.Accounts, signer *Signer, refresh *RefreshStore, sender VerificationSender, logger *zap.Logger) *Registration {
	return &Registration{
		kv:       kv,
		accounts: accounts,
		signer:   signer,
		refresh:  refresh,
		sender:   sender,
		logger:   logger,
	}
}

// Register opens a pending registration and sends the verification code to
// the supplied address.
func (r *Registration) Register(ctx context.Context, email, publicKey string, info DeviceInfo) (*RegistrationResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidRequest.WithDescription("a valid email is required")
	}
	if key, err := decodeKey(publicKey); err != nil || len(key) != ed25519.PublicKeySize {
		return nil, ErrInvalidRequest.WithDescription("public_key must be a base64 Ed25519 key")
	}

	registrationID, err := randomToken()
	if err != nil {
		return nil, err
	}
	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}

	rec := pendingRegistration{
		Email:     email,
		PublicKey: publicKey,
		Device:    info,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(RegistrationTTL),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration: %w", err)
	}
	if err := r.kv.Put(ctx, registrationKeyPrefix+registrationID, raw, RegistrationTTL); err != nil {
		return nil, fmt.Errorf("failed to store registration: %w", err)
	}

	if err := r.sender.SendVerificationCode(ctx, email, code); err != nil {
		return nil, fmt.Errorf("failed to send verification code: %w", err)
	}

	r.logger.Info("device registration opened", zap.String("email", email))
	return &RegistrationResponse{
		RegistrationID: registrationID,
		ExpiresIn:      int(RegistrationTTL.Seconds()),
	}, nil
}

// Verify closes a registration: on code match it creates the tenant if this
// is its first device, writes the device as UNVERIFIED, and mints initial
// tokens bound to the tenant.
func (r *Registration) Verify(ctx context.Context, registrationID, code string) (*TokenPair, error) {
	key := registrationKeyPrefix + registrationID
	raw, err := r.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, ErrInvalidGrant.WithDescription("registration is invalid or expired")
		}
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}

	var rec pendingRegistration
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode registration: %w", err)
	}
	if time.Now().After(rec.ExpiresAt) {
		_ = r.kv.Delete(ctx, key)
		return nil, ErrInvalidGrant.WithDescription("registration is invalid or expired")
	}
	if code == "" || code != rec.Code {
		return nil, ErrInvalidGrant.WithDescription("verification code does not match")
	}
	if err := r.kv.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to consume registration: %w", err)
	}

	tenantID := model.TenantIDFromEmail(rec.Email)
	deviceID := model.DeviceID(rec.Email, rec.Device.Name, rec.Device.Type, rec.Device.Platform, keyPrefix(rec.PublicKey))

	if err := r.ensureTenant(ctx, tenantID, rec.Email, deviceID, rec.PublicKey); err != nil {
		return nil, err
	}

	if err := r.accounts.PutDevice(ctx, &model.Device{
		DeviceID:   deviceID,
		TenantID:   tenantID,
		Email:      rec.Email,
		DeviceName: rec.Device.Name,
		DeviceType: rec.Device.Type,
		Platform:   rec.Device.Platform,
		PublicKey:  rec.PublicKey,
		TrustLevel: model.TrustUnverified,
	}); err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	r.logger.Info("device registered",
		zap.String("tenant_id", tenantID),
		zap.String("device_id", deviceID))

	return mintPair(ctx, r.signer, r.refresh, Claims{
		Subject:  tenantID,
		Tenant:   tenantID,
		DeviceID: deviceID,
	})
}

// ensureTenant creates the tenant on first registration and keeps its
// device list current on subsequent ones. The tenant public key is pinned
// from the first device and never rewritten here.
func (r *Registration) ensureTenant(ctx context.Context, tenantID, email, deviceID, publicKey string) error {
	t, err := r.accounts.GetTenant(ctx, tenantID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		t = &model.Tenant{
			TenantID:  tenantID,
			Email:     email,
			PublicKey: publicKey,
			DeviceIDs: []string{deviceID},
		}
	case err != nil:
		return fmt.Errorf("failed to load tenant: %w", err)
	default:
		for _, id := range t.DeviceIDs {
			if id == deviceID {
				return nil
			}
		}
		t.DeviceIDs = append(t.DeviceIDs, deviceID)
	}
	if err := r.accounts.PutTenant(ctx, t); err != nil {
		return fmt.Errorf("failed to store tenant: %w", err)
	}
	return nil
}

func keyPrefix(publicKey string) string {
	if len(publicKey) > 12 {
		return publicKey[:12]
	}
	return publicKey
}

// newVerificationCode returns a 6-digit numeric code.
func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
