package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/model"
)

const defaultSearchLimit = 10

func (r *pgRepository) SemanticSearch(ctx context.Context, modelName, queryText string, limit int, threshold float64) ([]SearchHit, error) {
	desc, tenantID, err := r.descriptorFor(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if len(desc.EmbeddingFields) == 0 {
		return nil, fmt.Errorf("%w: model %s has no embedding fields", ErrInvalidInput, modelName)
	}
	if queryText == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if r.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	queryVec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	fieldNames := make([]string, len(desc.EmbeddingFields))
	for i, ef := range desc.EmbeddingFields {
		fieldNames[i] = ef.Name
	}

	// An entity can match on several fields; DISTINCT ON keeps its best
	// score only.
	sql := fmt.Sprintf(`
		SELECT * FROM (
			SELECT DISTINCT ON (t.%[1]s) t.*, 1 - (e.embedding_vector <=> $1) AS score
			FROM embeddings e
			JOIN %[2]s t ON t.%[1]s = e.entity_id
			WHERE e.field_name = ANY($2)
			  AND 1 - (e.embedding_vector <=> $1) >= $3`,
		desc.KeyField, desc.Table)

	args := []any{pgvector.NewVector(queryVec), fieldNames, threshold}
	if desc.TenantIsolated {
		args = append(args, tenantID)
		sql += fmt.Sprintf(" AND e.tenant_id = $%d AND t.tenant_id = $%d", len(args), len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(`
			ORDER BY t.%[1]s, score DESC
		) ranked ORDER BY score DESC LIMIT $%[2]d`, desc.KeyField, len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search on %s failed: %w", modelName, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return toHits(recs), nil
}

func (r *pgRepository) Query(ctx context.Context, modelName, queryText string, hint QueryHint, limit int, threshold float64) ([]SearchHit, error) {
	switch hint {
	case HintSemantic, "":
		return r.SemanticSearch(ctx, modelName, queryText, limit, threshold)
	case HintLexical:
		return r.lexicalSearch(ctx, modelName, queryText, limit)
	default:
		return nil, fmt.Errorf("%w: unknown query hint %q", ErrInvalidInput, hint)
	}
}

// lexicalSearch matches the query as a substring of the model's
// embedding-bearing fields. Hits carry score 1; there is no ranking signal.
func (r *pgRepository) lexicalSearch(ctx context.Context, modelName, queryText string, limit int) ([]SearchHit, error) {
	desc, tenantID, err := r.descriptorFor(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if len(desc.EmbeddingFields) == 0 {
		return nil, fmt.Errorf("%w: model %s has no searchable fields", ErrInvalidInput, modelName)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var (
		clauses []string
		args    []any
	)
	args = append(args, "%"+queryText+"%")
	for _, ef := range desc.EmbeddingFields {
		clauses = append(clauses, fmt.Sprintf("%s ILIKE $1", ef.Name))
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE (%s)", desc.Table, strings.Join(clauses, " OR "))
	if desc.TenantIsolated {
		args = append(args, tenantID)
		sql += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search on %s failed: %w", modelName, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(recs))
	for i, rec := range recs {
		hits[i] = SearchHit{Entity: rec, Score: 1}
	}
	return hits, nil
}

// toHits lifts the score column out of each record.
func toHits(recs []Record) []SearchHit {
	hits := make([]SearchHit, len(recs))
	for i, rec := range recs {
		var score float64
		switch s := rec["score"].(type) {
		case float64:
			score = s
		case float32:
			score = float64(s)
		}
		delete(rec, "score")
		hits[i] = SearchHit{Entity: rec, Score: score}
	}
	return hits
}

// EnsureSchema provisions the vector extension and one table per registered
// model, columns typed from the descriptor's semantic field types.
func (r *pgRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}

	for _, name := range r.registry.Names() {
		desc, err := r.registry.Lookup(name)
		if err != nil {
			return err
		}
		if _, err := r.db.Exec(ctx, buildCreateTable(desc)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", desc.Table, err)
		}
	}
	r.logger.Info("schema ensured", zap.Strings("models", r.registry.Names()))
	return nil
}

func buildCreateTable(desc model.Descriptor) string {
	cols := make([]string, 0, len(desc.FieldTypes))
	// Key first, the rest sorted, matching how the registry reports names.
	cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", desc.KeyField, desc.FieldTypes[desc.KeyField]))
	for _, f := range sortedFields(desc) {
		if f == desc.KeyField {
			continue
		}
		cols = append(cols, fmt.Sprintf("%s %s", f, desc.FieldTypes[f]))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", desc.Table, strings.Join(cols, ", "))
}

func sortedFields(desc model.Descriptor) []string {
	fields := make([]string, 0, len(desc.FieldTypes))
	for f := range desc.FieldTypes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
