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
	"github.com/Healer-AI/p8fs/internal/router"
	"github.com/Healer-AI/p8fs/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// --- OpenTelemetry Tracer ---
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "p8fs-router", otelEndpoint)
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

	hostname, _ := os.Hostname()
	r := router.New(natsClient, router.Config{
		RouterID: fmt.Sprintf("router-%s-%d", hostname, os.Getpid()),
	}, logger)

	// Startup is strict: a router must never run against half-provisioned
	// topology.
	if err := r.Setup(ctx); err != nil {
		logger.Fatal("router setup failed", zap.Error(err))
	}

	if err := r.Run(ctx); err != nil {
		logger.Fatal("router exited", zap.Error(err))
	}
	logger.Info("router shut down cleanly")
}
