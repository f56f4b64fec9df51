package watcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/natsclient"
	"github.com/Healer-AI/p8fs/internal/objectstore"
)

// StreamingWatcher follows the object store's metadata-change feed. Feed
// loss triggers reconnect with exponential backoff capped at 5 s; there is
// no replay, the feed restarts from now.
type StreamingWatcher struct {
	store   objectstore.Store
	logger  *zap.Logger
	emitter *emitter
}

// NewStreamingWatcher builds the streaming strategy.
func NewStreamingWatcher(store objectstore.Store, nc *natsclient.Client, cfg Config, logger *zap.Logger) *StreamingWatcher {
	return &StreamingWatcher{
		store:   store,
		logger:  logger,
		emitter: &emitter{nats: nc, logger: logger, watcherID: cfg.WatcherID},
	}
}

// Start consumes the feed in a background goroutine until ctx is cancelled.
func (w *StreamingWatcher) Start(ctx context.Context) error {
	w.logger.Info("streaming watcher started")

	go func() {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 250 * time.Millisecond
		bo.MaxInterval = 5 * time.Second
		bo.MaxElapsedTime = 0 // reconnect forever

		for {
			if ctx.Err() != nil {
				return
			}

			delivered, err := w.consumeFeed(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				w.logger.Warn("notification feed failed", zap.Error(err))
			}
			if delivered {
				bo.Reset()
			}

			wait := bo.NextBackOff()
			w.logger.Info("reconnecting notification feed", zap.Duration("backoff", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// consumeFeed drains one feed session. Returns whether any event was
// delivered, so the reconnect backoff resets only after real progress.
func (w *StreamingWatcher) consumeFeed(ctx context.Context) (bool, error) {
	feed, err := w.store.ListenEvents(ctx)
	if err != nil {
		return false, err
	}

	delivered := false
	for n := range feed {
		delivered = true
		if _, err := w.emitter.emit(n.EventType, n.Path, n.Size, n.ContentType, n.Timestamp); err != nil {
			w.logger.Error("failed to publish storage event",
				zap.String("path", n.Path), zap.Error(err))
		}
	}
	return delivered, nil
}
