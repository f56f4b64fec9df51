// Package model defines the persistent entities of the platform, their
// derived identifiers, and the introspection registry the repository layer
// uses to plan upserts, embeddings, and search projections.
//
// All entities are tenant-scoped unless noted. Identifiers are UUIDv5 values
// derived from (tenant_id, natural key) so ingestion is idempotent.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TrustLevel is the verification state of a registered device.
// It only ever increases: UNVERIFIED devices are promoted to TRUSTED by a
// signature-verified approval, never demoted.
type TrustLevel string

const (
	TrustUnverified TrustLevel = "UNVERIFIED"
	TrustTrusted    TrustLevel = "TRUSTED"
)

// Tenant is a global entity: one row per account, keyed by tenant_id.
type Tenant struct {
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	PublicKey string    `json:"public_key"` // base64 Ed25519, set at creation
	DeviceIDs []string  `json:"device_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// Device is a registered client device bound to a tenant. The device_id is
// derived from registration attributes (see DeviceID) so duplicate
// registrations collapse onto one row.
type Device struct {
	DeviceID   string     `json:"device_id"`
	TenantID   string     `json:"tenant_id"`
	Email      string     `json:"email"`
	DeviceName string     `json:"device_name"`
	DeviceType string     `json:"device_type"`
	Platform   string     `json:"platform"`
	PublicKey  string     `json:"public_key"` // base64 Ed25519
	TrustLevel TrustLevel `json:"trust_level"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeen   time.Time  `json:"last_seen"`
}

// File is the per-object ingestion record. Created on first ingest of a URI,
// upserted on subsequent ingests, deleted when the source object is deleted.
type File struct {
	ID              uuid.UUID      `json:"id"`
	TenantID        string         `json:"tenant_id"`
	URI             string         `json:"uri"`
	FileSize        int64          `json:"file_size"`
	MimeType        string         `json:"mime_type,omitempty"`
	ContentHash     string         `json:"content_hash,omitempty"`
	UploadTimestamp time.Time      `json:"upload_timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// InlineEdge is a graph edge stored inline on its source entity. The
// destination is a human-readable label, not a UUID: labels are resolved to
// physical entities at query time, which avoids circular ownership between
// rows that reference each other.
type InlineEdge struct {
	Dst        string         `json:"dst"`
	RelType    string         `json:"rel_type"` // kebab-case
	Weight     float64        `json:"weight"`   // [0,1]
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Resource is one content chunk of a file. (tenant_id, uri, ordinal) is
// unique: re-ingesting replaces the chunk in place instead of duplicating.
type Resource struct {
	ID                uuid.UUID      `json:"id"`
	TenantID          string         `json:"tenant_id"`
	Name              string         `json:"name"`
	Category          string         `json:"category"`
	Content           string         `json:"content"`
	Summary           string         `json:"summary,omitempty"`
	Ordinal           int            `json:"ordinal"`
	URI               string         `json:"uri"`
	ResourceTimestamp time.Time      `json:"resource_timestamp"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	GraphPaths        []InlineEdge   `json:"graph_paths,omitempty"`
}

// PersonPresence records one person observed during a Moment, keyed by an
// opaque fingerprint in Moment.PresentPersons.
type PersonPresence struct {
	Name       string  `json:"name,omitempty"`
	Role       string  `json:"role,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Moment is a time-bounded Resource carrying presence and topical metadata.
// If both timestamps are set, ResourceTimestamp <= ResourceEndsTimestamp.
type Moment struct {
	Resource

	ResourceEndsTimestamp *time.Time                `json:"resource_ends_timestamp,omitempty"`
	PresentPersons        map[string]PersonPresence `json:"present_persons,omitempty"`
	MomentType            string                    `json:"moment_type,omitempty"`
	EmotionTags           []string                  `json:"emotion_tags,omitempty"`
	TopicTags             []string                  `json:"topic_tags,omitempty"`
	Location              string                    `json:"location,omitempty"`
	Speakers              []string                  `json:"speakers,omitempty"`
}

// Validate checks the Moment timestamp invariant.
func (m *Moment) Validate() error {
	if m.ResourceEndsTimestamp != nil && !m.ResourceTimestamp.IsZero() &&
		m.ResourceEndsTimestamp.Before(m.ResourceTimestamp) {
		return ErrMomentEndsBeforeStart
	}
	return nil
}

// EmbeddingRecord is the sidecar row holding one vector for one field of one
// entity. The id is derived from (entity_id, field_name, provider) so
// recomputation overwrites.
type EmbeddingRecord struct {
	ID                uuid.UUID `json:"id"`
	EntityID          uuid.UUID `json:"entity_id"`
	FieldName         string    `json:"field_name"`
	EmbeddingProvider string    `json:"embedding_provider"`
	Embedding         []float32 `json:"embedding_vector"`
	VectorDimension   int       `json:"vector_dimension"`
	TenantID          string    `json:"tenant_id"`
}

// MetadataJSON renders a metadata bag for JSONB storage, normalizing nil to
// an empty object so the column never holds SQL NULL.
func MetadataJSON(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
