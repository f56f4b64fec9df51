package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/repository"
)

// DocumentProcessor handles a whole document as one structured unit instead
// of chunking it. Dispatch is by file extension.
type DocumentProcessor interface {
	// ContentTypes lists the lowercase extensions this processor claims.
	ContentTypes() []string
	// Process inspects raw and either handles the document fully
	// (handled = true, chunking is skipped) or declines it
	// (handled = false, the default path runs).
	Process(ctx context.Context, ev *model.StorageEvent, raw []byte) (handled bool, err error)
}

// ProcessorRegistry maps extensions to document processors. Populated once
// at startup.
type ProcessorRegistry struct {
	byType map[string]DocumentProcessor
}

// NewProcessorRegistry returns an empty registry.
func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{byType: make(map[string]DocumentProcessor)}
}

// Register adds a processor for its content types.
func (r *ProcessorRegistry) Register(p DocumentProcessor) {
	for _, ct := range p.ContentTypes() {
		ct = strings.ToLower(ct)
		if _, dup := r.byType[ct]; dup {
			panic(fmt.Sprintf("worker: duplicate processor for %s", ct))
		}
		r.byType[ct] = p
	}
}

// Get returns the processor for an extension, if any.
func (r *ProcessorRegistry) Get(ext string) (DocumentProcessor, bool) {
	p, ok := r.byType[strings.ToLower(ext)]
	return p, ok
}

// ── engram documents ──────────────────────────────────────────────────────

// EngramDoc is a structured document that drives a batch of entity writes
// instead of default chunking. A document qualifies when it carries a kind
// or p8Kind of "Engram".
type EngramDoc struct {
	Kind         string             `json:"kind" yaml:"kind"`
	P8Kind       string             `json:"p8Kind" yaml:"p8Kind"`
	Name         string             `json:"name" yaml:"name"`
	Category     string             `json:"category" yaml:"category"`
	Entries      []EngramEntry      `json:"entries" yaml:"entries"`
	Associations []EngramAssociation `json:"associations" yaml:"associations"`
}

// EngramEntry is one write: a full upsert when Data is set, a patch of an
// existing entity when Patch is set.
type EngramEntry struct {
	Model string         `json:"model" yaml:"model"`
	Data  map[string]any `json:"data" yaml:"data"`
	Patch *EngramPatch   `json:"patch" yaml:"patch"`
}

// EngramPatch merges Fields into the entity with ID.
type EngramPatch struct {
	ID     string         `json:"id" yaml:"id"`
	Fields map[string]any `json:"fields" yaml:"fields"`
}

// EngramAssociation appends an inline edge to the source entity.
type EngramAssociation struct {
	SrcID   string  `json:"src_id" yaml:"src_id"`
	Dst     string  `json:"dst" yaml:"dst"`
	RelType string  `json:"rel_type" yaml:"rel_type"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

const engramKind = "Engram"

// EngramProcessor executes engram documents against the repository.
type EngramProcessor struct {
	repo   repository.Repository
	logger *zap.Logger
}

// NewEngramProcessor builds the engram processor.
func NewEngramProcessor(repo repository.Repository, logger *zap.Logger) *EngramProcessor {
	return &EngramProcessor{repo: repo, logger: logger}
}

func (p *EngramProcessor) ContentTypes() []string {
	return []string{".yaml", ".yml", ".json"}
}

// Process attempts the engram path. Documents that do not parse or do not
// carry the engram kind are declined so default chunking can run.
func (p *EngramProcessor) Process(ctx context.Context, ev *model.StorageEvent, raw []byte) (bool, error) {
	doc, ok := decodeEngram(raw)
	if !ok {
		return false, nil
	}

	if err := p.apply(ctx, doc, ev); err != nil {
		return true, err
	}

	p.logger.Info("engram processed",
		zap.String("path", ev.Path),
		zap.Int("entries", len(doc.Entries)),
		zap.Int("associations", len(doc.Associations)))
	return true, nil
}

// decodeEngram parses YAML or JSON and checks the kind marker. YAML is a
// superset of JSON here, so one decoder serves both.
func decodeEngram(raw []byte) (*EngramDoc, bool) {
	var doc EngramDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	if doc.Kind != engramKind && doc.P8Kind != engramKind {
		return nil, false
	}
	return &doc, true
}

// apply runs the document's writes in order: upserts, then patches, then
// associations. Later phases may reference ids written by earlier ones.
func (p *EngramProcessor) apply(ctx context.Context, doc *EngramDoc, ev *model.StorageEvent) error {
	for i, entry := range doc.Entries {
		switch {
		case entry.Patch != nil:
			if err := p.applyPatch(ctx, entry); err != nil {
				return fmt.Errorf("engram entry %d: %w", i, err)
			}
		case entry.Data != nil:
			rec := repository.Record(entry.Data)
			p.deriveEntryID(rec, entry.Model, ev)
			if _, err := p.repo.Upsert(ctx, entry.Model, rec); err != nil {
				return fmt.Errorf("engram entry %d: %w", i, err)
			}
		default:
			return fmt.Errorf("engram entry %d: %w", i, errEmptyEntry)
		}
	}

	for i, assoc := range doc.Associations {
		if err := p.applyAssociation(ctx, assoc); err != nil {
			return fmt.Errorf("engram association %d: %w", i, err)
		}
	}
	return nil
}

var errEmptyEntry = errors.New("entry has neither data nor patch")

// deriveEntryID fills a missing id from the document path and entry name so
// re-ingesting the same engram stays idempotent.
func (p *EngramProcessor) deriveEntryID(rec repository.Record, modelName string, ev *model.StorageEvent) {
	if id, ok := rec["id"].(string); ok && id != "" {
		return
	}
	name, _ := rec["name"].(string)
	rec["id"] = model.ResourceID(ev.TenantID, ev.Path+"#"+modelName+"/"+name, 0).String()
}

func (p *EngramProcessor) applyPatch(ctx context.Context, entry EngramEntry) error {
	existing, err := p.repo.Get(ctx, entry.Model, entry.Patch.ID)
	if err != nil {
		return fmt.Errorf("patch target %s: %w", entry.Patch.ID, err)
	}
	for k, v := range entry.Patch.Fields {
		existing[k] = v
	}
	_, err = p.repo.Upsert(ctx, entry.Model, existing)
	return err
}

// applyAssociation appends an inline edge to the source resource's graph
// paths. The destination stays a label; resolution happens at query time.
func (p *EngramProcessor) applyAssociation(ctx context.Context, assoc EngramAssociation) error {
	rec, err := p.repo.Get(ctx, model.ModelResource, assoc.SrcID)
	if err != nil {
		return fmt.Errorf("association source %s: %w", assoc.SrcID, err)
	}

	edges := decodeEdges(rec["graph_paths"])
	edges = append(edges, model.InlineEdge{
		Dst:       assoc.Dst,
		RelType:   assoc.RelType,
		Weight:    assoc.Weight,
		CreatedAt: time.Now().UTC(),
	})

	encoded, err := json.Marshal(edges)
	if err != nil {
		return err
	}
	rec["graph_paths"] = json.RawMessage(encoded)
	_, err = p.repo.Upsert(ctx, model.ModelResource, rec)
	return err
}

func decodeEdges(v any) []model.InlineEdge {
	var edges []model.InlineEdge
	switch raw := v.(type) {
	case []byte:
		_ = json.Unmarshal(raw, &edges)
	case json.RawMessage:
		_ = json.Unmarshal(raw, &edges)
	case string:
		_ = json.Unmarshal([]byte(raw), &edges)
	case []any:
		if b, err := json.Marshal(raw); err == nil {
			_ = json.Unmarshal(b, &edges)
		}
	}
	return edges
}
