package auth_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/kvstore"
	"github.com/Healer-AI/p8fs/internal/model"
)

// --- Mock Accounts ---

type MockAccounts struct {
	ctrl     *gomock.Controller
	recorder *MockAccountsRecorder
}

type MockAccountsRecorder struct {
	mock *MockAccounts
}

func NewMockAccounts(ctrl *gomock.Controller) *MockAccounts {
	m := &MockAccounts{ctrl: ctrl}
	m.recorder = &MockAccountsRecorder{mock: m}
	return m
}

func (m *MockAccounts) EXPECT() *MockAccountsRecorder {
	return m.recorder
}

func toError(v interface{}) error {
	if v == nil {
		return nil
	}
	return v.(error)
}

// GetTenant
func (m *MockAccounts) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	ret := m.ctrl.Call(m, "GetTenant", ctx, tenantID)
	ret0, _ := ret[0].(*model.Tenant)
	return ret0, toError(ret[1])
}
func (mr *MockAccountsRecorder) GetTenant(ctx, tenantID any) *gomock.Call {
	return mr.mock.ctrl.RecordCall(mr.mock, "GetTenant", ctx, tenantID)
}

// PutTenant
func (m *MockAccounts) PutTenant(ctx context.Context, t *model.Tenant) error {
	ret := m.ctrl.Call(m, "PutTenant", ctx, t)
	return toError(ret[0])
}
func (mr *MockAccountsRecorder) PutTenant(ctx, t any) *gomock.Call {
	return mr.mock.ctrl.RecordCall(mr.mock, "PutTenant", ctx, t)
}

// GetDevice
func (m *MockAccounts) GetDevice(ctx context.Context, tenantID, deviceID string) (*model.Device, error) {
	ret := m.ctrl.Call(m, "GetDevice", ctx, tenantID, deviceID)
	ret0, _ := ret[0].(*model.Device)
	return ret0, toError(ret[1])
}
func (mr *MockAccountsRecorder) GetDevice(ctx, tenantID, deviceID any) *gomock.Call {
	return mr.mock.ctrl.RecordCall(mr.mock, "GetDevice", ctx, tenantID, deviceID)
}

// PutDevice
func (m *MockAccounts) PutDevice(ctx context.Context, d *model.Device) error {
	ret := m.ctrl.Call(m, "PutDevice", ctx, d)
	return toError(ret[0])
}
func (mr *MockAccountsRecorder) PutDevice(ctx, d any) *gomock.Call {
	return mr.mock.ctrl.RecordCall(mr.mock, "PutDevice", ctx, d)
}

// TouchDevice
func (m *MockAccounts) TouchDevice(ctx context.Context, tenantID, deviceID string) {
	m.ctrl.Call(m, "TouchDevice", ctx, tenantID, deviceID)
}
func (mr *MockAccountsRecorder) TouchDevice(ctx, tenantID, deviceID any) *gomock.Call {
	return mr.mock.ctrl.RecordCall(mr.mock, "TouchDevice", ctx, tenantID, deviceID)
}

// PromoteDevice
func (m *MockAccounts) PromoteDevice(ctx context.Context, tenantID, deviceID string) error {
	ret := m.ctrl.Call(m, "PromoteDevice", ctx, tenantID, deviceID)
	return toError(ret[0])
}
func (mr *MockAccountsRecorder) PromoteDevice(ctx, tenantID, deviceID any) *gomock.Call {
	return mr.mock.ctrl.RecordCall(mr.mock, "PromoteDevice", ctx, tenantID, deviceID)
}

// --- Helpers ---

func newTestKV(t *testing.T) (kvstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kvstore.NewRedisStore(rdb, zaptest.NewLogger(t)), mr
}

func newTestSigner(t *testing.T) *auth.Signer {
	t.Helper()
	signer, err := auth.NewSigner("https://auth.test.p8fs.io")
	require.NoError(t, err)
	return signer
}
