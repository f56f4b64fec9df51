package model

import (
	"fmt"
	"sort"
)

// FieldType is the semantic SQL type of a model field. The repository maps
// these to concrete column types and casts.
type FieldType string

const (
	FieldUUID      FieldType = "uuid"
	FieldText      FieldType = "text"
	FieldInteger   FieldType = "integer"
	FieldBigint    FieldType = "bigint"
	FieldFloat     FieldType = "double precision"
	FieldTimestamp FieldType = "timestamptz"
	FieldJSONB     FieldType = "jsonb"
	FieldTextArray FieldType = "text[]"
	FieldVector    FieldType = "vector"
)

// EmbeddingField names a model field whose content is embedded, and the
// provider whose model produces the vector.
type EmbeddingField struct {
	Name     string
	Provider string
}

// Descriptor is the introspection record for one model: where it lives,
// how it is keyed, whether tenancy applies, and which fields carry vectors.
// The repository plans upserts and search projections from this.
type Descriptor struct {
	Name            string
	Table           string
	KeyField        string
	TenantIsolated  bool
	EmbeddingFields []EmbeddingField
	FieldTypes      map[string]FieldType
}

// EmbeddingProvider returns the provider configured for field, or "" when
// the field is not embedded.
func (d Descriptor) EmbeddingProvider(field string) string {
	for _, ef := range d.EmbeddingFields {
		if ef.Name == field {
			return ef.Provider
		}
	}
	return ""
}

// Registry holds model descriptors. It is populated once at startup and
// read-only afterwards; no locking is needed on the read path.
type Registry struct {
	byName map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. Registering the same name twice panics: that
// is a wiring bug, not a runtime condition.
func (r *Registry) Register(d Descriptor) {
	if d.Name == "" || d.Table == "" || d.KeyField == "" {
		panic(fmt.Sprintf("model: incomplete descriptor %+v", d))
	}
	if _, dup := r.byName[d.Name]; dup {
		panic(fmt.Sprintf("model: duplicate descriptor %q", d.Name))
	}
	r.byName[d.Name] = d
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return d, nil
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Model names as used across the repository and worker layers.
const (
	ModelTenant    = "tenant"
	ModelDevice    = "device"
	ModelFile      = "file"
	ModelResource  = "resource"
	ModelMoment    = "moment"
	ModelEmbedding = "embedding"
)

// DefaultEmbeddingProvider is used for content fields unless a descriptor
// overrides it.
const DefaultEmbeddingProvider = "text-embedding-3-small"

// NewDefaultRegistry returns a registry holding the platform's built-in
// models.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Descriptor{
		Name:           ModelTenant,
		Table:          "tenants",
		KeyField:       "tenant_id",
		TenantIsolated: false,
		FieldTypes: map[string]FieldType{
			"tenant_id":  FieldText,
			"email":      FieldText,
			"public_key": FieldText,
			"device_ids": FieldTextArray,
			"created_at": FieldTimestamp,
		},
	})

	r.Register(Descriptor{
		Name:           ModelDevice,
		Table:          "devices",
		KeyField:       "device_id",
		TenantIsolated: true,
		FieldTypes: map[string]FieldType{
			"device_id":   FieldText,
			"tenant_id":   FieldText,
			"email":       FieldText,
			"device_name": FieldText,
			"device_type": FieldText,
			"platform":    FieldText,
			"public_key":  FieldText,
			"trust_level": FieldText,
			"created_at":  FieldTimestamp,
			"last_seen":   FieldTimestamp,
		},
	})

	r.Register(Descriptor{
		Name:           ModelFile,
		Table:          "files",
		KeyField:       "id",
		TenantIsolated: true,
		FieldTypes: map[string]FieldType{
			"id":               FieldUUID,
			"tenant_id":        FieldText,
			"uri":              FieldText,
			"file_size":        FieldBigint,
			"mime_type":        FieldText,
			"content_hash":     FieldText,
			"upload_timestamp": FieldTimestamp,
			"metadata":         FieldJSONB,
		},
	})

	r.Register(Descriptor{
		Name:           ModelResource,
		Table:          "resources",
		KeyField:       "id",
		TenantIsolated: true,
		EmbeddingFields: []EmbeddingField{
			{Name: "content", Provider: DefaultEmbeddingProvider},
		},
		FieldTypes: map[string]FieldType{
			"id":                 FieldUUID,
			"tenant_id":          FieldText,
			"name":               FieldText,
			"category":           FieldText,
			"content":            FieldText,
			"summary":            FieldText,
			"ordinal":            FieldInteger,
			"uri":                FieldText,
			"resource_timestamp": FieldTimestamp,
			"metadata":           FieldJSONB,
			"graph_paths":        FieldJSONB,
		},
	})

	r.Register(Descriptor{
		Name:           ModelMoment,
		Table:          "moments",
		KeyField:       "id",
		TenantIsolated: true,
		EmbeddingFields: []EmbeddingField{
			{Name: "content", Provider: DefaultEmbeddingProvider},
		},
		FieldTypes: map[string]FieldType{
			"id":                      FieldUUID,
			"tenant_id":               FieldText,
			"name":                    FieldText,
			"category":                FieldText,
			"content":                 FieldText,
			"summary":                 FieldText,
			"ordinal":                 FieldInteger,
			"uri":                     FieldText,
			"resource_timestamp":      FieldTimestamp,
			"resource_ends_timestamp": FieldTimestamp,
			"present_persons":         FieldJSONB,
			"moment_type":             FieldText,
			"emotion_tags":            FieldTextArray,
			"topic_tags":              FieldTextArray,
			"location":                FieldText,
			"speakers":                FieldTextArray,
			"metadata":                FieldJSONB,
			"graph_paths":             FieldJSONB,
		},
	})

	r.Register(Descriptor{
		Name:           ModelEmbedding,
		Table:          "embeddings",
		KeyField:       "id",
		TenantIsolated: true,
		FieldTypes: map[string]FieldType{
			"id":                 FieldUUID,
			"entity_id":          FieldUUID,
			"field_name":         FieldText,
			"embedding_provider": FieldText,
			"embedding_vector":   FieldVector,
			"vector_dimension":   FieldInteger,
			"tenant_id":          FieldText,
		},
	})

	return r
}
