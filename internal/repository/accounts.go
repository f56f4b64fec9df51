package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/tenant"
)

// Accounts is the typed surface over tenants and devices that the auth core
// drives. Device rows are tenant-isolated; the methods here derive the
// tenant scope from the device itself, since auth often acts before any
// token exists.
type Accounts interface {
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	PutTenant(ctx context.Context, t *model.Tenant) error
	GetDevice(ctx context.Context, tenantID, deviceID string) (*model.Device, error)
	PutDevice(ctx context.Context, d *model.Device) error
	// TouchDevice bumps last_seen; failures are logged, not returned.
	TouchDevice(ctx context.Context, tenantID, deviceID string)
	// PromoteDevice raises the device to TRUSTED. Trust never goes back.
	PromoteDevice(ctx context.Context, tenantID, deviceID string) error
}

type accounts struct {
	repo   Repository
	logger *zap.Logger
}

// NewAccounts builds the account surface over the generic repository.
func NewAccounts(repo Repository, logger *zap.Logger) Accounts {
	return &accounts{repo: repo, logger: logger}
}

func (a *accounts) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	rec, err := a.repo.Get(ctx, model.ModelTenant, tenantID)
	if err != nil {
		return nil, err
	}
	return TenantFromRecord(rec)
}

func (a *accounts) PutTenant(ctx context.Context, t *model.Tenant) error {
	if t.TenantID == "" {
		return fmt.Errorf("%w: tenant id required", ErrInvalidInput)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := a.repo.Upsert(ctx, model.ModelTenant, TenantRecord(t))
	return err
}

func (a *accounts) GetDevice(ctx context.Context, tenantID, deviceID string) (*model.Device, error) {
	rec, err := a.repo.Get(tenant.WithTenantID(ctx, tenantID), model.ModelDevice, deviceID)
	if err != nil {
		return nil, err
	}
	return DeviceFromRecord(rec)
}

func (a *accounts) PutDevice(ctx context.Context, d *model.Device) error {
	if d.DeviceID == "" || d.TenantID == "" {
		return fmt.Errorf("%w: device and tenant ids required", ErrInvalidInput)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = d.CreatedAt
	}
	_, err := a.repo.Upsert(tenant.WithTenantID(ctx, d.TenantID), model.ModelDevice, DeviceRecord(d))
	return err
}

func (a *accounts) TouchDevice(ctx context.Context, tenantID, deviceID string) {
	d, err := a.GetDevice(ctx, tenantID, deviceID)
	if err != nil {
		a.logger.Warn("failed to load device for last_seen update",
			zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	d.LastSeen = time.Now().UTC()
	if err := a.PutDevice(ctx, d); err != nil {
		a.logger.Warn("failed to update device last_seen",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}

func (a *accounts) PromoteDevice(ctx context.Context, tenantID, deviceID string) error {
	d, err := a.GetDevice(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if d.TrustLevel == model.TrustTrusted {
		return nil
	}
	d.TrustLevel = model.TrustTrusted
	return a.PutDevice(ctx, d)
}
