package model

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies a storage mutation. Wire values are lowercase.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete, EventRename:
		return true
	}
	return false
}

// PathInfo is the parsed form of an object-store path. Paths follow
// /buckets/{tenant_id}/{category}/{file_path}; anything outside /buckets/ is
// not addressable by the platform.
type PathInfo struct {
	TenantID     string `json:"tenant_id"`
	Bucket       string `json:"bucket"`
	Category     string `json:"category"`
	FilePath     string `json:"file_path"`
	IsTenantPath bool   `json:"is_tenant_path"`
	IsDirectory  bool   `json:"is_directory"`
}

// ParsePath splits an object-store path into its tenant, category, and
// remainder components. It returns an error for paths outside /buckets/ or
// with a non URL-safe tenant id.
func ParsePath(path string) (PathInfo, error) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 4)
	if len(parts) < 2 || parts[0] != "buckets" {
		return PathInfo{}, fmt.Errorf("path %q is outside /buckets/", path)
	}

	info := PathInfo{Bucket: "buckets", IsDirectory: strings.HasSuffix(path, "/")}
	info.TenantID = parts[1]
	if info.TenantID == "" {
		return PathInfo{}, fmt.Errorf("path %q has no tenant segment", path)
	}
	if !urlSafe(info.TenantID) {
		return PathInfo{}, fmt.Errorf("tenant id %q is not url-safe", info.TenantID)
	}
	info.IsTenantPath = true

	if len(parts) > 2 {
		info.Category = parts[2]
	}
	if len(parts) > 3 {
		info.FilePath = parts[3]
	}
	return info, nil
}

func urlSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '~':
		default:
			return false
		}
	}
	return true
}

// StorageEvent is the wire shape published on storage subjects. Watchers
// emit it; the router enriches it with a Routing block; workers consume it.
type StorageEvent struct {
	EventType EventType      `json:"event_type"`
	Path      string         `json:"path"`
	PathInfo  *PathInfo      `json:"path_info,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Routing   *Routing       `json:"routing,omitempty"`

	// Size fields appear under different keys depending on the emitter.
	// Use ExtractFileSize to read them uniformly.
	Size     int64          `json:"size,omitempty"`
	FileSize int64          `json:"file_size,omitempty"`
	Entry    map[string]any `json:"entry,omitempty"`
}

// Routing is injected by the tier router before republishing an event onto a
// tier subject.
type Routing struct {
	OriginalSubject  string    `json:"original_subject"`
	TargetSubject    string    `json:"target_subject"`
	FileSizeBytes    int64     `json:"file_size_bytes"`
	RouterID         string    `json:"router_id"`
	MessageCount     int64     `json:"message_count"`
	RoutingTimestamp time.Time `json:"routing_timestamp"`
}

// ExtractFileSize reads the size of the object an event describes, trying
// the known key locations in order: size, file_size,
// entry.attributes.file_size, then metadata.file_size and metadata.size.
// Missing or unparseable values yield 0.
func (e *StorageEvent) ExtractFileSize() int64 {
	if e.Size > 0 {
		return e.Size
	}
	if e.FileSize > 0 {
		return e.FileSize
	}
	if attrs, ok := e.Entry["attributes"].(map[string]any); ok {
		if n, ok := coerceInt64(attrs["file_size"]); ok && n > 0 {
			return n
		}
	}
	if n, ok := coerceInt64(e.Metadata["file_size"]); ok && n > 0 {
		return n
	}
	if n, ok := coerceInt64(e.Metadata["size"]); ok && n > 0 {
		return n
	}
	return 0
}

// ExtractFileSizeFromRaw applies the same fallback chain to a decoded JSON
// object, for callers that keep events as maps.
func ExtractFileSizeFromRaw(raw map[string]any) int64 {
	if n, ok := coerceInt64(raw["size"]); ok && n > 0 {
		return n
	}
	if n, ok := coerceInt64(raw["file_size"]); ok && n > 0 {
		return n
	}
	if entry, ok := raw["entry"].(map[string]any); ok {
		if attrs, ok := entry["attributes"].(map[string]any); ok {
			if n, ok := coerceInt64(attrs["file_size"]); ok && n > 0 {
				return n
			}
		}
	}
	if meta, ok := raw["metadata"].(map[string]any); ok {
		if n, ok := coerceInt64(meta["file_size"]); ok && n > 0 {
			return n
		}
		if n, ok := coerceInt64(meta["size"]); ok && n > 0 {
			return n
		}
	}
	return 0
}

func coerceInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
			return out, true
		}
	}
	return 0, false
}
