// Package repository is the tenant-scoped data-access layer. CRUD, semantic
// search, and schema provisioning are all planned from the model registry:
// the descriptor decides the table, the key, the tenancy predicate, and
// which fields carry embeddings.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/embedding"
	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/tenant"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoTenant is returned when a tenant-isolated operation runs without
	// a tenant in context.
	ErrNoTenant = errors.New("missing tenant in context")
)

// Record is one entity row keyed by field name. Values follow the
// descriptor's semantic types.
type Record map[string]any

// SelectQuery narrows a Select call. Filters are equality matches, or JSONB
// containment when the value is a map.
type SelectQuery struct {
	Filters map[string]any
	Limit   int
	Offset  int
	OrderBy string
}

// SearchHit is one semantic search result.
type SearchHit struct {
	Entity Record  `json:"entity"`
	Score  float64 `json:"score"`
}

// QueryHint selects the search strategy.
type QueryHint string

const (
	HintSemantic QueryHint = "semantic"
	HintLexical  QueryHint = "lexical"
)

// DBTX is the pgx surface the repository needs. *pgxpool.Pool satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository is the entity data-access surface.
type Repository interface {
	// Get returns one entity by id, or ErrNotFound.
	Get(ctx context.Context, modelName, id string) (Record, error)
	// Select returns entities matching q. No joins.
	Select(ctx context.Context, modelName string, q SelectQuery) ([]Record, error)
	// Upsert replaces rows by primary id and recomputes embeddings for
	// embedding-bearing fields. Returns the ids written.
	Upsert(ctx context.Context, modelName string, recs ...Record) ([]string, error)
	// Delete removes an entity and its embedding rows. Returns false when
	// the entity did not exist.
	Delete(ctx context.Context, modelName, id string) (bool, error)
	// SemanticSearch compares the query text's embedding against the
	// model's embedding fields and returns hits at or above threshold,
	// best first.
	SemanticSearch(ctx context.Context, modelName, queryText string, limit int, threshold float64) ([]SearchHit, error)
	// Query dispatches on hint: semantic search or lexical ILIKE matching.
	Query(ctx context.Context, modelName, queryText string, hint QueryHint, limit int, threshold float64) ([]SearchHit, error)
	// EnsureSchema provisions tables for every registered model.
	EnsureSchema(ctx context.Context) error
}

type pgRepository struct {
	db       DBTX
	registry *model.Registry
	embedder embedding.Provider
	logger   *zap.Logger
}

// New builds a Repository over an established pgx pool.
func New(db DBTX, registry *model.Registry, embedder embedding.Provider, logger *zap.Logger) Repository {
	return &pgRepository{db: db, registry: registry, embedder: embedder, logger: logger}
}

// descriptorFor resolves the model and, for tenant-isolated models, the
// caller's tenant. A missing tenant rejects the call before any SQL runs.
func (r *pgRepository) descriptorFor(ctx context.Context, modelName string) (model.Descriptor, string, error) {
	desc, err := r.registry.Lookup(modelName)
	if err != nil {
		return model.Descriptor{}, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !desc.TenantIsolated {
		return desc, "", nil
	}
	tenantID, ok := tenant.GetTenantID(ctx)
	if !ok {
		return model.Descriptor{}, "", ErrNoTenant
	}
	return desc, tenantID, nil
}

func (r *pgRepository) Get(ctx context.Context, modelName, id string) (Record, error) {
	desc, tenantID, err := r.descriptorFor(ctx, modelName)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", desc.Table, desc.KeyField)
	args := []any{id}
	if desc.TenantIsolated {
		sql += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", modelName, id, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

func (r *pgRepository) Select(ctx context.Context, modelName string, q SelectQuery) ([]Record, error) {
	desc, tenantID, err := r.descriptorFor(ctx, modelName)
	if err != nil {
		return nil, err
	}

	sql, args, err := buildSelect(desc, tenantID, q)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", modelName, err)
	}
	return scanRecords(rows)
}

func (r *pgRepository) Delete(ctx context.Context, modelName, id string) (bool, error) {
	desc, tenantID, err := r.descriptorFor(ctx, modelName)
	if err != nil {
		return false, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	// Embedding rows go first so a partial failure never leaves orphaned
	// vectors behind a deleted entity.
	embSQL := "DELETE FROM embeddings WHERE entity_id = $1"
	embArgs := []any{id}
	if desc.TenantIsolated {
		embSQL += " AND tenant_id = $2"
		embArgs = append(embArgs, tenantID)
	}
	if _, err := tx.Exec(ctx, embSQL, embArgs...); err != nil {
		return false, fmt.Errorf("failed to delete embeddings for %s %s: %w", modelName, id, err)
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", desc.Table, desc.KeyField)
	args := []any{id}
	if desc.TenantIsolated {
		sql += " AND tenant_id = $2"
		args = append(args, tenantID)
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", modelName, id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// buildSelect renders a filtered SELECT. Filter keys and order columns must
// exist in the descriptor; anything else is rejected, which keeps caller
// input out of the SQL text.
func buildSelect(desc model.Descriptor, tenantID string, q SelectQuery) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if desc.TenantIsolated {
		where = append(where, "tenant_id = "+arg(tenantID))
	}

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		ft, ok := desc.FieldTypes[k]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown filter field %q", ErrInvalidInput, k)
		}
		v := q.Filters[k]
		if m, isMap := v.(map[string]any); isMap {
			if ft != model.FieldJSONB {
				return "", nil, fmt.Errorf("%w: containment filter on non-json field %q", ErrInvalidInput, k)
			}
			where = append(where, fmt.Sprintf("%s @> %s::jsonb", k, arg(model.MetadataJSON(m))))
			continue
		}
		where = append(where, fmt.Sprintf("%s = %s", k, arg(v)))
	}

	sql := "SELECT * FROM " + desc.Table
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	if q.OrderBy != "" {
		col, dir, err := parseOrderBy(desc, q.OrderBy)
		if err != nil {
			return "", nil, err
		}
		sql += " ORDER BY " + col + " " + dir
	}

	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		sql += " OFFSET " + arg(q.Offset)
	}
	return sql, args, nil
}

func parseOrderBy(desc model.Descriptor, orderBy string) (col, dir string, err error) {
	parts := strings.Fields(strings.ToLower(orderBy))
	if len(parts) == 0 || len(parts) > 2 {
		return "", "", fmt.Errorf("%w: malformed order_by %q", ErrInvalidInput, orderBy)
	}
	col = parts[0]
	if _, ok := desc.FieldTypes[col]; !ok {
		return "", "", fmt.Errorf("%w: unknown order_by field %q", ErrInvalidInput, col)
	}
	dir = "ASC"
	if len(parts) == 2 {
		switch parts[1] {
		case "asc":
		case "desc":
			dir = "DESC"
		default:
			return "", "", fmt.Errorf("%w: malformed order_by %q", ErrInvalidInput, orderBy)
		}
	}
	return col, dir, nil
}

// scanRecords turns pgx rows into Records using the result's own column
// metadata, so one scanner serves every table.
func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		rec := make(Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}
