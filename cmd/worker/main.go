package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/config"
	"github.com/Healer-AI/p8fs/internal/embedding"
	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/natsclient"
	"github.com/Healer-AI/p8fs/internal/objectstore"
	"github.com/Healer-AI/p8fs/internal/repository"
	"github.com/Healer-AI/p8fs/internal/telemetry"
	"github.com/Healer-AI/p8fs/internal/tier"
	"github.com/Healer-AI/p8fs/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// --- OpenTelemetry Tracer & Meter ---
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "p8fs-worker", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), "p8fs-worker", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration load failed", zap.Error(err))
	}

	t, ok := tier.ByName(cfg.Worker.Tier)
	if !ok {
		logger.Fatal("unknown worker tier", zap.String("tier", cfg.Worker.Tier))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Database Connection Pool (instrumented with OTel) ---
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("failed to parse postgres DSN", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database (OTel-instrumented)")

	// --- NATS JetStream ---
	natsClient, err := natsclient.NewClient(cfg.NATS.URL, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()

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

	// --- Repository over the model registry ---
	embedder := embedding.NewHTTPProvider(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}, logger)

	repo := repository.New(pool, model.NewDefaultRegistry(), embedder, logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema provisioning failed", zap.Error(err))
	}

	// --- Parser and processor registries ---
	parsers := worker.NewDefaultParserRegistry()

	processors := worker.NewProcessorRegistry()
	processors.Register(worker.NewEngramProcessor(repo, logger))

	w := worker.New(t, natsClient, store, repo, parsers, processors, logger)
	if err := w.Start(ctx); err != nil {
		logger.Fatal("worker start failed", zap.Error(err))
	}
	logger.Info("worker started", zap.String("tier", t.Name))

	<-ctx.Done()
	logger.Info("worker shut down cleanly")
}
