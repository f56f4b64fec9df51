package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/Healer-AI/p8fs/internal/model"
)

func (r *pgRepository) Upsert(ctx context.Context, modelName string, recs ...Record) ([]string, error) {
	desc, tenantID, err := r.descriptorFor(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		id, err := r.upsertOne(ctx, desc, tenantID, rec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *pgRepository) upsertOne(ctx context.Context, desc model.Descriptor, tenantID string, rec Record) (string, error) {
	if desc.TenantIsolated {
		// The caller's tenant always wins over whatever the record claims.
		rec["tenant_id"] = tenantID
	}

	id, ok := rec[desc.KeyField]
	if !ok || fmt.Sprint(id) == "" {
		return "", fmt.Errorf("%w: record missing key field %q", ErrInvalidInput, desc.KeyField)
	}
	idStr := fmt.Sprint(id)

	sql, args, err := buildUpsert(desc, rec)
	if err != nil {
		return "", err
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return "", fmt.Errorf("failed to upsert %s %s: %w", desc.Name, idStr, err)
	}

	if err := r.recomputeEmbeddings(ctx, desc, tenantID, idStr, rec); err != nil {
		return "", err
	}
	return idStr, nil
}

// buildUpsert renders INSERT .. ON CONFLICT (key) DO UPDATE over the
// record's descriptor-known fields. Unknown fields are dropped rather than
// rejected so enriched payloads can flow through unchanged.
func buildUpsert(desc model.Descriptor, rec Record) (string, []any, error) {
	cols := make([]string, 0, len(rec))
	for k := range rec {
		if _, known := desc.FieldTypes[k]; known {
			cols = append(cols, k)
		}
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("%w: record has no persistable fields", ErrInvalidInput)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	var updates []string
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = normalizeValue(desc.FieldTypes[col], rec[col])
		if col != desc.KeyField {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		desc.Table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		desc.KeyField,
		strings.Join(updates, ", "),
	)
	return sql, args, nil
}

// normalizeValue adapts record values to what pgx expects for the column's
// semantic type.
func normalizeValue(ft model.FieldType, v any) any {
	switch ft {
	case model.FieldJSONB:
		switch m := v.(type) {
		case map[string]any:
			return model.MetadataJSON(m)
		case json.RawMessage:
			return m
		case nil:
			return model.MetadataJSON(nil)
		}
	case model.FieldVector:
		if f, ok := v.([]float32); ok {
			return pgvector.NewVector(f)
		}
	}
	return v
}

// recomputeEmbeddings regenerates the sidecar rows for every
// embedding-bearing field present in the record. Records are keyed by
// (entity, field, provider), so recomputation overwrites in place.
func (r *pgRepository) recomputeEmbeddings(ctx context.Context, desc model.Descriptor, tenantID, entityID string, rec Record) error {
	if r.embedder == nil || len(desc.EmbeddingFields) == 0 {
		return nil
	}

	var (
		fields []model.EmbeddingField
		texts  []string
	)
	for _, ef := range desc.EmbeddingFields {
		text, ok := rec[ef.Name].(string)
		if !ok || text == "" {
			continue
		}
		fields = append(fields, ef)
		texts = append(texts, text)
	}
	if len(fields) == 0 {
		return nil
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %s %s: %w", desc.Name, entityID, err)
	}

	for i, ef := range fields {
		provider := ef.Provider
		if provider == "" {
			provider = r.embedder.Name()
		}
		embID := model.EmbeddingID(entityID, ef.Name, provider)
		_, err := r.db.Exec(ctx, `
			INSERT INTO embeddings (id, entity_id, field_name, embedding_provider, embedding_vector, vector_dimension, tenant_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				embedding_vector = EXCLUDED.embedding_vector,
				vector_dimension = EXCLUDED.vector_dimension`,
			embID, entityID, ef.Name, provider, pgvector.NewVector(vectors[i]), len(vectors[i]), tenantID,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding %s/%s: %w", entityID, ef.Name, err)
		}
	}
	return nil
}
