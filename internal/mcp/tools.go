package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/repository"
)

// Scope names required by the built-in tools.
const (
	ScopeRead   = "read"
	ScopeWrite  = "write"
	ScopeSearch = "search"
)

// NewDefaultRegistry returns the static tool registry backed by the
// repository. All handlers run with the session tenant already bound into
// ctx, so tenant isolation is enforced below them.
func NewDefaultRegistry(repo repository.Repository) *Registry {
	r := NewRegistry()

	r.Register(Tool{
		Name:        "search_content",
		Description: "Search indexed content by meaning or by keyword match.",
		Scopes:      []string{ScopeSearch},
		InputSchema: objectSchema(map[string]any{
			"query":     map[string]any{"type": "string", "description": "Search text."},
			"model":     map[string]any{"type": "string", "description": "Model to search (resource, moment). Defaults to resource."},
			"mode":      map[string]any{"type": "string", "enum": []string{"semantic", "lexical"}, "description": "Search strategy. Defaults to semantic."},
			"limit":     map[string]any{"type": "integer", "description": "Maximum hits. Defaults to 10."},
			"threshold": map[string]any{"type": "number", "description": "Minimum similarity score for semantic mode. Defaults to 0.7."},
		}, "query"),
		Handler: func(ctx context.Context, _ ToolContext, args map[string]any) (any, error) {
			query := strArg(args, "query", "")
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			modelName := strArg(args, "model", model.ModelResource)
			hint := repository.HintSemantic
			if strArg(args, "mode", "semantic") == "lexical" {
				hint = repository.HintLexical
			}
			hits, err := repo.Query(ctx, modelName, query, hint, intArg(args, "limit", 10), floatArg(args, "threshold", 0.7))
			if err != nil {
				return nil, err
			}
			return map[string]any{"hits": hits, "count": len(hits)}, nil
		},
	})

	r.Register(Tool{
		Name:        "get_resource",
		Description: "Fetch one entity by model name and id.",
		Scopes:      []string{ScopeRead},
		InputSchema: objectSchema(map[string]any{
			"model": map[string]any{"type": "string", "description": "Model name (file, resource, moment)."},
			"id":    map[string]any{"type": "string", "description": "Entity id."},
		}, "model", "id"),
		Handler: func(ctx context.Context, _ ToolContext, args map[string]any) (any, error) {
			modelName := strArg(args, "model", "")
			id := strArg(args, "id", "")
			if modelName == "" || id == "" {
				return nil, fmt.Errorf("model and id are required")
			}
			rec, err := repo.Get(ctx, modelName, id)
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%s %s not found", modelName, id)
			}
			if err != nil {
				return nil, err
			}
			return rec, nil
		},
	})

	r.Register(Tool{
		Name:        "list_files",
		Description: "List indexed files for the current tenant.",
		Scopes:      []string{ScopeRead},
		InputSchema: objectSchema(map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Maximum rows. Defaults to 50."},
			"offset": map[string]any{"type": "integer", "description": "Rows to skip."},
		}),
		Handler: func(ctx context.Context, _ ToolContext, args map[string]any) (any, error) {
			recs, err := repo.Select(ctx, model.ModelFile, repository.SelectQuery{
				Limit:   intArg(args, "limit", 50),
				Offset:  intArg(args, "offset", 0),
				OrderBy: "upload_timestamp desc",
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"files": recs, "count": len(recs)}, nil
		},
	})

	r.Register(Tool{
		Name:        "upsert_moment",
		Description: "Create or update a moment record for the current tenant.",
		Scopes:      []string{ScopeWrite},
		InputSchema: objectSchema(map[string]any{
			"name":        map[string]any{"type": "string", "description": "Moment name; also keys the record."},
			"content":     map[string]any{"type": "string", "description": "Moment body text."},
			"summary":     map[string]any{"type": "string"},
			"moment_type": map[string]any{"type": "string"},
			"location":    map[string]any{"type": "string"},
			"starts_at":   map[string]any{"type": "string", "format": "date-time"},
			"ends_at":     map[string]any{"type": "string", "format": "date-time"},
		}, "name", "content"),
		Handler: func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
			name := strArg(args, "name", "")
			content := strArg(args, "content", "")
			if name == "" || content == "" {
				return nil, fmt.Errorf("name and content are required")
			}
			starts, err := timeArg(args, "starts_at")
			if err != nil {
				return nil, err
			}
			ends, err := timeArg(args, "ends_at")
			if err != nil {
				return nil, err
			}
			if !ends.IsZero() && !starts.IsZero() && ends.Before(starts) {
				return nil, model.ErrMomentEndsBeforeStart
			}
			if starts.IsZero() {
				starts = time.Now().UTC()
			}

			uri := "mcp://moments/" + name
			rec := repository.Record{
				"id":                 model.ResourceID(tc.TenantID, uri, 0).String(),
				"tenant_id":          tc.TenantID,
				"name":               name,
				"content":            content,
				"summary":            strArg(args, "summary", ""),
				"moment_type":        strArg(args, "moment_type", ""),
				"location":           strArg(args, "location", ""),
				"uri":                uri,
				"ordinal":            0,
				"resource_timestamp": starts,
			}
			if !ends.IsZero() {
				rec["resource_ends_timestamp"] = ends
			}
			ids, err := repo.Upsert(ctx, model.ModelMoment, rec)
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": ids[0]}, nil
		},
	})

	return r
}

// ── argument helpers ────────────────────────────────────────────────────

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// intArg accepts the float64 that encoding/json produces for numbers.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func floatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func timeArg(args map[string]any, key string) (time.Time, error) {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339: %w", key, err)
	}
	return t, nil
}
