// Package watcher turns object-store changes into normalized storage events
// on the main subject. Two interchangeable strategies exist; a deployment
// runs exactly one. The streaming strategy follows the store's notification
// feed; the polling strategy diffs periodic listings.
package watcher

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/natsclient"
)

// Strategy names accepted in configuration.
const (
	StrategyStreaming = "streaming"
	StrategyPolling   = "polling"
)

// Config holds watcher settings.
type Config struct {
	Strategy     string
	WatcherID    string
	PollInterval time.Duration
}

// emitter normalizes, filters, and publishes storage events. Both
// strategies share one.
type emitter struct {
	nats      *natsclient.Client
	logger    *zap.Logger
	watcherID string
}

// emit publishes one storage event unless the processability filter drops
// it. Returns whether a publish happened.
func (e *emitter) emit(eventType model.EventType, path string, size int64, contentType string, ts time.Time) (bool, error) {
	ev := buildEvent(eventType, path, size, contentType, ts)
	if !shouldProcess(ev) {
		e.logger.Debug("event dropped",
			zap.String("event_type", string(eventType)),
			zap.String("path", path))
		return false, nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}
	if err := e.nats.Publish(natsclient.SubjectStorageEventsMain, data); err != nil {
		return false, err
	}

	e.logger.Info("storage event published",
		zap.String("event_type", string(eventType)),
		zap.String("path", path),
		zap.Int64("file_size", size),
		zap.String("watcher_id", e.watcherID))
	return true, nil
}

// buildEvent assembles the wire shape. Size travels in metadata; consumers
// read it through the fallback chain.
func buildEvent(eventType model.EventType, path string, size int64, contentType string, ts time.Time) *model.StorageEvent {
	ev := &model.StorageEvent{
		EventType: eventType,
		Path:      path,
		Timestamp: ts.UTC(),
		Metadata:  map[string]any{"file_size": size},
	}
	if contentType != "" {
		ev.Metadata["content_type"] = contentType
	}
	if info, err := model.ParsePath(path); err == nil {
		ev.PathInfo = &info
		ev.TenantID = info.TenantID
	}
	return ev
}

// shouldProcess decides whether an event reaches the main subject.
// Non-tenant paths, directories, non-CREATE/UPDATE types, and multipart
// upload temporaries never do.
func shouldProcess(ev *model.StorageEvent) bool {
	if ev.PathInfo == nil || !ev.PathInfo.IsTenantPath {
		return false
	}
	if ev.PathInfo.IsDirectory || strings.HasSuffix(ev.Path, "/") {
		return false
	}
	if ev.EventType != model.EventCreate && ev.EventType != model.EventUpdate {
		return false
	}
	if strings.Contains(ev.Path, "uploadId=") {
		return false
	}
	return true
}
