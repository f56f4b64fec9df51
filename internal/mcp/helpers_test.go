package mcp_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/kvstore"
	"github.com/Healer-AI/p8fs/internal/repository"
)

type fakeRepo struct {
	getFn    func(ctx context.Context, modelName, id string) (repository.Record, error)
	selectFn func(ctx context.Context, modelName string, q repository.SelectQuery) ([]repository.Record, error)
	upsertFn func(ctx context.Context, modelName string, recs ...repository.Record) ([]string, error)
	queryFn  func(ctx context.Context, modelName, queryText string, hint repository.QueryHint, limit int, threshold float64) ([]repository.SearchHit, error)
}

func (r *fakeRepo) Get(ctx context.Context, modelName, id string) (repository.Record, error) {
	if r.getFn != nil {
		return r.getFn(ctx, modelName, id)
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) Select(ctx context.Context, modelName string, q repository.SelectQuery) ([]repository.Record, error) {
	if r.selectFn != nil {
		return r.selectFn(ctx, modelName, q)
	}
	return nil, nil
}

func (r *fakeRepo) Upsert(ctx context.Context, modelName string, recs ...repository.Record) ([]string, error) {
	if r.upsertFn != nil {
		return r.upsertFn(ctx, modelName, recs...)
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		id, _ := rec["id"].(string)
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *fakeRepo) Delete(ctx context.Context, modelName, id string) (bool, error) {
	return true, nil
}

func (r *fakeRepo) SemanticSearch(ctx context.Context, modelName, queryText string, limit int, threshold float64) ([]repository.SearchHit, error) {
	return nil, nil
}

func (r *fakeRepo) Query(ctx context.Context, modelName, queryText string, hint repository.QueryHint, limit int, threshold float64) ([]repository.SearchHit, error) {
	if r.queryFn != nil {
		return r.queryFn(ctx, modelName, queryText, hint, limit, threshold)
	}
	return nil, nil
}

func (r *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

var _ repository.Repository = (*fakeRepo)(nil)

// ── helpers ───────────────────────────────────────────────────────────────

func newTestKV(t *testing.T) (kvstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kvstore.NewRedisStore(rdb, zaptest.NewLogger(t)), mr
}

func newPrincipal(tenantID string, scopes ...string) *auth.Principal {
	return &auth.Principal{
		Subject:   tenantID,
		TenantID:  tenantID,
		ClientID:  "test-client",
		Scopes:    scopes,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}
