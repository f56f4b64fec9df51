package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/kvstore"
)

// RefreshTokenTTL bounds how long an unrotated refresh token stays valid.
const RefreshTokenTTL = 30 * 24 * time.Hour

const (
	refreshKeyPrefix = "refresh:"
	familyKeyPrefix  = "refresh_family:"
)

// RefreshRecord is the persisted state behind one opaque refresh token.
// FamilyID ties together every token descended from one grant; rotation
// moves the family's current pointer, and presenting a superseded token
// revokes the whole family.
type RefreshRecord struct {
	Token    string    `json:"token"`
	FamilyID string    `json:"family_id"`
	Subject  string    `json:"subject"`
	TenantID string    `json:"tenant_id"`
	DeviceID string    `json:"device_id,omitempty"`
	ClientID string    `json:"client_id,omitempty"`
	Scope    string    `json:"scope,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// RefreshStore manages refresh tokens in the KV store.
type RefreshStore struct {
	kv     kvstore.Store
	logger *zap.Logger
}

// NewRefreshStore builds a RefreshStore.
func NewRefreshStore(kv kvstore.Store, logger *zap.Logger) *RefreshStore {
	return &RefreshStore{kv: kv, logger: logger}
}

// Issue creates a new refresh token in a new family.
func (r *RefreshStore) Issue(ctx context.Context, rec RefreshRecord) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	familyID, err := randomToken()
	if err != nil {
		return "", err
	}

	rec.Token = token
	rec.FamilyID = familyID
	rec.IssuedAt = time.Now().UTC()

	if err := r.write(ctx, &rec); err != nil {
		return "", err
	}
	return token, nil
}

// Rotate exchanges a refresh token for its record and a replacement token.
// A token that is known but no longer the family's current one is a replay:
// the family is revoked and the exchange fails.
func (r *RefreshStore) Rotate(ctx context.Context, token, clientID string) (*RefreshRecord, string, error) {
	rec, err := r.load(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if rec.ClientID != "" && clientID != rec.ClientID {
		return nil, "", ErrInvalidClient.WithDescription("refresh token belongs to a different client")
	}

	current, err := r.kv.Get(ctx, familyKeyPrefix+rec.FamilyID)
	if err != nil || string(current) != token {
		// Replay: an already rotated token came back. Revoke everything the
		// grant ever issued.
		r.revokeFamily(ctx, rec)
		r.logger.Warn("refresh token replay detected, family revoked",
			zap.String("family_id", rec.FamilyID),
			zap.String("tenant_id", rec.TenantID))
		return nil, "", ErrInvalidGrant.WithDescription("refresh token reuse detected")
	}

	next, err := randomToken()
	if err != nil {
		return nil, "", err
	}
	nextRec := *rec
	nextRec.Token = next
	nextRec.IssuedAt = time.Now().UTC()

	// The superseded token stays stored until its TTL runs out: presenting
	// it again must resolve to this family so the replay can be detected.
	if err := r.write(ctx, &nextRec); err != nil {
		return nil, "", err
	}
	return rec, next, nil
}

// Revoke drops a refresh token and its family.
func (r *RefreshStore) Revoke(ctx context.Context, token string) error {
	rec, err := r.load(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			return nil // already gone
		}
		return err
	}
	r.revokeFamily(ctx, rec)
	return nil
}

func (r *RefreshStore) load(ctx context.Context, token string) (*RefreshRecord, error) {
	raw, err := r.kv.Get(ctx, refreshKeyPrefix+token)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, ErrInvalidGrant.WithDescription("unknown refresh token")
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	var rec RefreshRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode refresh record: %w", err)
	}
	return &rec, nil
}

func (r *RefreshStore) write(ctx context.Context, rec *RefreshRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode refresh record: %w", err)
	}
	if err := r.kv.Put(ctx, refreshKeyPrefix+rec.Token, raw, RefreshTokenTTL); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	if err := r.kv.Put(ctx, familyKeyPrefix+rec.FamilyID, []byte(rec.Token), RefreshTokenTTL); err != nil {
		return fmt.Errorf("failed to store refresh family: %w", err)
	}
	return nil
}

func (r *RefreshStore) revokeFamily(ctx context.Context, rec *RefreshRecord) {
	if current, err := r.kv.Get(ctx, familyKeyPrefix+rec.FamilyID); err == nil {
		if err := r.kv.Delete(ctx, refreshKeyPrefix+string(current)); err != nil {
			r.logger.Warn("failed to drop family's current token", zap.Error(err))
		}
	}
	if err := r.kv.Delete(ctx, familyKeyPrefix+rec.FamilyID); err != nil {
		r.logger.Warn("failed to drop refresh family", zap.Error(err))
	}
	if err := r.kv.Delete(ctx, refreshKeyPrefix+rec.Token); err != nil {
		r.logger.Warn("failed to drop refresh token", zap.Error(err))
	}
}
