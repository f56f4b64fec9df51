package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Healer-AI/p8fs/internal/model"
)

// Typed entities cross into the generic surface as Records. The converters
// here keep field names aligned with the registry descriptors.

// FileRecord converts a File for upsert.
func FileRecord(f *model.File) Record {
	return Record{
		"id":               f.ID.String(),
		"tenant_id":        f.TenantID,
		"uri":              f.URI,
		"file_size":        f.FileSize,
		"mime_type":        f.MimeType,
		"content_hash":     f.ContentHash,
		"upload_timestamp": f.UploadTimestamp,
		"metadata":         f.Metadata,
	}
}

// ResourceRecord converts a Resource for upsert.
func ResourceRecord(res *model.Resource) Record {
	return Record{
		"id":                 res.ID.String(),
		"tenant_id":          res.TenantID,
		"name":               res.Name,
		"category":           res.Category,
		"content":            res.Content,
		"summary":            res.Summary,
		"ordinal":            res.Ordinal,
		"uri":                res.URI,
		"resource_timestamp": res.ResourceTimestamp,
		"metadata":           res.Metadata,
		"graph_paths":        edgesJSON(res.GraphPaths),
	}
}

// MomentRecord converts a Moment for upsert.
func MomentRecord(m *model.Moment) Record {
	rec := ResourceRecord(&m.Resource)
	rec["moment_type"] = m.MomentType
	rec["emotion_tags"] = m.EmotionTags
	rec["topic_tags"] = m.TopicTags
	rec["location"] = m.Location
	rec["speakers"] = m.Speakers
	rec["present_persons"] = personsMap(m.PresentPersons)
	if m.ResourceEndsTimestamp != nil {
		rec["resource_ends_timestamp"] = *m.ResourceEndsTimestamp
	}
	return rec
}

// TenantRecord converts a Tenant for upsert.
func TenantRecord(t *model.Tenant) Record {
	return Record{
		"tenant_id":  t.TenantID,
		"email":      t.Email,
		"public_key": t.PublicKey,
		"device_ids": t.DeviceIDs,
		"created_at": t.CreatedAt,
	}
}

// DeviceRecord converts a Device for upsert.
func DeviceRecord(d *model.Device) Record {
	return Record{
		"device_id":   d.DeviceID,
		"tenant_id":   d.TenantID,
		"email":       d.Email,
		"device_name": d.DeviceName,
		"device_type": d.DeviceType,
		"platform":    d.Platform,
		"public_key":  d.PublicKey,
		"trust_level": string(d.TrustLevel),
		"created_at":  d.CreatedAt,
		"last_seen":   d.LastSeen,
	}
}

// TenantFromRecord decodes a tenants row.
func TenantFromRecord(rec Record) (*model.Tenant, error) {
	t := &model.Tenant{
		TenantID:  str(rec["tenant_id"]),
		Email:     str(rec["email"]),
		PublicKey: str(rec["public_key"]),
	}
	t.CreatedAt = ts(rec["created_at"])
	switch ids := rec["device_ids"].(type) {
	case []string:
		t.DeviceIDs = ids
	case []any:
		for _, v := range ids {
			t.DeviceIDs = append(t.DeviceIDs, str(v))
		}
	}
	if t.TenantID == "" {
		return nil, fmt.Errorf("%w: record is not a tenant", ErrInvalidInput)
	}
	return t, nil
}

// DeviceFromRecord decodes a devices row.
func DeviceFromRecord(rec Record) (*model.Device, error) {
	d := &model.Device{
		DeviceID:   str(rec["device_id"]),
		TenantID:   str(rec["tenant_id"]),
		Email:      str(rec["email"]),
		DeviceName: str(rec["device_name"]),
		DeviceType: str(rec["device_type"]),
		Platform:   str(rec["platform"]),
		PublicKey:  str(rec["public_key"]),
		TrustLevel: model.TrustLevel(str(rec["trust_level"])),
		CreatedAt:  ts(rec["created_at"]),
		LastSeen:   ts(rec["last_seen"]),
	}
	if d.DeviceID == "" {
		return nil, fmt.Errorf("%w: record is not a device", ErrInvalidInput)
	}
	return d, nil
}

func edgesJSON(edges []model.InlineEdge) json.RawMessage {
	if len(edges) == 0 {
		return json.RawMessage("[]")
	}
	b, err := json.Marshal(edges)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}

func personsMap(p map[string]model.PersonPresence) map[string]any {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func ts(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
