package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/config"
	"github.com/Healer-AI/p8fs/internal/natsclient"
	"github.com/Healer-AI/p8fs/internal/objectstore"
	"github.com/Healer-AI/p8fs/internal/telemetry"
	"github.com/Healer-AI/p8fs/internal/watcher"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// --- OpenTelemetry Tracer ---
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "p8fs-watcher", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- NATS JetStream ---
	natsClient, err := natsclient.NewClient(cfg.NATS.URL, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()

	// The watcher publishes into the main stream; make sure it exists even
	// when this process starts before any router.
	err = natsClient.EnsureStream(natsclient.StreamSpec{
		Name:     natsclient.StreamStorageEvents,
		Subjects: []string{natsclient.SubjectStorageEventsMain},
	})
	if err != nil {
		logger.Fatal("stream provisioning failed", zap.Error(err))
	}

	// --- Object store ---
	store, err := objectstore.NewMinioStore(objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
		Region:    cfg.Storage.Region,
	}, logger)
	if err != nil {
		logger.Fatal("object store initialization failed", zap.Error(err))
	}

	watcherID := cfg.Watcher.ID
	if watcherID == "" {
		hostname, _ := os.Hostname()
		watcherID = fmt.Sprintf("watcher-%s-%d", hostname, os.Getpid())
	}
	wcfg := watcher.Config{
		Strategy:     cfg.Watcher.Strategy,
		WatcherID:    watcherID,
		PollInterval: cfg.Watcher.PollInterval,
	}

	switch cfg.Watcher.Strategy {
	case "polling":
		w := watcher.NewPollingWatcher(store, natsClient, wcfg, logger)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("polling watcher start failed", zap.Error(err))
		}

		// Rescan ticks drive full passes between poll intervals.
		scheduler := watcher.NewRescanScheduler(natsClient, cfg.Watcher.RescanSchedule, logger)
		if err := scheduler.Start(); err != nil {
			logger.Fatal("rescan scheduler start failed", zap.Error(err))
		}
		defer scheduler.Stop()

	case "streaming", "":
		w := watcher.NewStreamingWatcher(store, natsClient, wcfg, logger)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("streaming watcher start failed", zap.Error(err))
		}

	default:
		logger.Fatal("unknown watcher strategy", zap.String("strategy", cfg.Watcher.Strategy))
	}

	logger.Info("watcher started",
		zap.String("strategy", cfg.Watcher.Strategy),
		zap.String("watcher_id", watcherID))

	<-ctx.Done()
	logger.Info("watcher shut down cleanly")
}
