package watcher

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/natsclient"
	"github.com/Healer-AI/p8fs/internal/objectstore"
)

const defaultPollInterval = 60 * time.Second

// PollingWatcher diffs periodic bucket listings against an in-memory
// path → etag map. The first pass only seeds the map; nothing existing
// before startup is re-announced.
type PollingWatcher struct {
	store    objectstore.Store
	nats     *natsclient.Client
	logger   *zap.Logger
	emitter  *emitter
	interval time.Duration

	seen   map[string]objectstore.Entry
	seeded bool
}

// NewPollingWatcher builds the polling strategy.
func NewPollingWatcher(store objectstore.Store, nc *natsclient.Client, cfg Config, logger *zap.Logger) *PollingWatcher {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollingWatcher{
		store:    store,
		nats:     nc,
		logger:   logger,
		emitter:  &emitter{nats: nc, logger: logger, watcherID: cfg.WatcherID},
		interval: interval,
		seen:     make(map[string]objectstore.Entry),
	}
}

// Start runs the scan loop in a background goroutine. Rescan ticks on the
// control subject force an immediate pass between intervals.
func (w *PollingWatcher) Start(ctx context.Context) error {
	rescan := make(chan struct{}, 1)
	sub, err := w.nats.Conn.Subscribe(natsclient.SubjectCronRescan, func(*nats.Msg) {
		select {
		case rescan <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	w.logger.Info("polling watcher started", zap.Duration("interval", w.interval))

	go func() {
		defer sub.Unsubscribe()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.runScan(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.runScan(ctx)
			case <-rescan:
				w.logger.Info("rescan tick received")
				w.runScan(ctx)
			}
		}
	}()

	return nil
}

func (w *PollingWatcher) runScan(ctx context.Context) {
	if err := w.scan(ctx); err != nil {
		w.logger.Error("scan pass failed", zap.Error(err))
	}
}

// scan walks the bucket once and emits the diff against the previous pass.
func (w *PollingWatcher) scan(ctx context.Context) error {
	entries, err := w.store.List(ctx, "/buckets/")
	if err != nil {
		return err
	}

	current := make(map[string]objectstore.Entry, len(w.seen))
	for entry := range entries {
		if entry.IsDir {
			continue
		}
		current[entry.Path] = entry
	}

	if !w.seeded {
		w.seen = current
		w.seeded = true
		w.logger.Info("initial scan complete", zap.Int("objects", len(current)))
		return nil
	}

	now := time.Now().UTC()
	for _, c := range diffEntries(w.seen, current) {
		if _, err := w.emitter.emit(c.eventType, c.entry.Path, c.entry.Size, "", now); err != nil {
			w.logger.Error("failed to publish storage event",
				zap.String("path", c.entry.Path), zap.Error(err))
		}
	}

	w.seen = current
	return nil
}

type change struct {
	eventType model.EventType
	entry     objectstore.Entry
}

// diffEntries compares two listing snapshots. New paths are creates, etag
// changes are updates, vanished paths are deletes.
func diffEntries(prev, current map[string]objectstore.Entry) []change {
	var changes []change
	for path, entry := range current {
		before, existed := prev[path]
		switch {
		case !existed:
			changes = append(changes, change{model.EventCreate, entry})
		case before.ETag != entry.ETag:
			changes = append(changes, change{model.EventUpdate, entry})
		}
	}
	for path, entry := range prev {
		if _, still := current[path]; !still {
			changes = append(changes, change{model.EventDelete, entry})
		}
	}
	return changes
}
