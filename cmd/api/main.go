package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Healer-AI/p8fs/internal/auth"
	"github.com/Healer-AI/p8fs/internal/config"
	"github.com/Healer-AI/p8fs/internal/embedding"
	"github.com/Healer-AI/p8fs/internal/handler"
	"github.com/Healer-AI/p8fs/internal/kvstore"
	"github.com/Healer-AI/p8fs/internal/mcp"
	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/repository"
	"github.com/Healer-AI/p8fs/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// --- OpenTelemetry Tracer & Meter ---
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "p8fs-api", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), "p8fs-api", otelEndpoint)
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

	// --- Redis KV store ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	pingCancel()
	kv := kvstore.NewRedisStore(rdb, logger)

	// --- Repository over the model registry ---
	embedder := embedding.NewHTTPProvider(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout,
	}, logger)

	repo := repository.New(pool, model.NewDefaultRegistry(), embedder, logger)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("schema provisioning failed", zap.Error(err))
	}
	accounts := repository.NewAccounts(repo, logger)

	// --- Token signer and verifier ---
	var signer *auth.Signer
	if cfg.Auth.SigningKeyPEM != "" {
		signer, err = auth.NewSignerFromPEM(cfg.Auth.Issuer, []byte(cfg.Auth.SigningKeyPEM))
	} else {
		logger.Warn("no signing key configured, generating an ephemeral key")
		signer, err = auth.NewSigner(cfg.Auth.Issuer)
	}
	if err != nil {
		logger.Fatal("signer initialization failed", zap.Error(err))
	}

	var verifier auth.Verifier
	if cfg.Auth.JWKSURL != "" {
		verifier, err = auth.NewRemoteVerifier(context.Background(), cfg.Auth.JWKSURL)
		if err != nil {
			logger.Fatal("JWKS verifier initialization failed", zap.Error(err))
		}
		logger.Info("token verification via remote JWKS", zap.String("url", cfg.Auth.JWKSURL))
	} else {
		verifier = auth.NewLocalVerifier(signer.PublicKey())
	}

	// --- OAuth services ---
	refresh := auth.NewRefreshStore(kv, logger)
	deviceFlow := auth.NewDeviceFlow(kv, accounts, signer, refresh, cfg.Auth.VerificationURI, logger)
	codeFlow := auth.NewCodeFlow(kv, signer, refresh, logger)
	registration := auth.NewRegistration(kv, accounts, signer, refresh, &auth.LogSender{Logger: logger}, logger)

	// --- MCP gateway ---
	sessions := mcp.NewSessionStore(kv)
	tools := mcp.NewDefaultRegistry(repo)
	gateway := mcp.NewServer(sessions, tools, logger)

	// --- HTTP Server (Echo) ---
	e := echo.New()
	e.HideBanner = true
	// OTel tracing middleware (must be first)
	e.Use(otelecho.Middleware("p8fs-api"))

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	oauthHandler := handler.NewOAuthHandler(deviceFlow, codeFlow, refresh, registration, signer, verifier, cfg.Auth.VerificationURI, logger)
	oauthHandler.Register(e)

	mcpHandler := handler.NewMCPHandler(verifier, gateway, logger)
	mcpHandler.Register(e)

	healthHandler := handler.NewHealthHandler(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})
	healthHandler.Register(e)

	go func() {
		logger.Info("api server listening", zap.String("addr", cfg.API.Listen))
		if err := e.Start(cfg.API.Listen); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}

	logger.Info("api shut down cleanly")
}
