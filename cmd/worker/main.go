package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/config"
	"github.com/dunamismax/imageoptimizer/internal/export"
	"github.com/dunamismax/imageoptimizer/internal/pipeline"
	"github.com/dunamismax/imageoptimizer/internal/storage"
	"github.com/dunamismax/imageoptimizer/internal/store"
	"github.com/dunamismax/imageoptimizer/internal/telemetry"
	"github.com/dunamismax/imageoptimizer/internal/webhook"
	"github.com/dunamismax/imageoptimizer/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	if cfg.Database.DSN == "" {
		logger.Fatalf("POSTGRES_DSN is required: the worker reads snapshots persisted by the api")
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageoptimizer-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		OTLPHeaders:  cfg.Tracing.OTLPHeaders,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image backend startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	engine, err := pipeline.NewEngine(pipeline.WithMaxDimension(cfg.Editor.MaxDimension))
	if err != nil {
		logger.Fatalf("transform engine failed: %v", err)
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("postgres connect failed: %v", err)
	}
	defer pg.Close()

	objects, err := storage.NewClient(storage.Config{
		Endpoint:     cfg.Storage.Endpoint,
		Access:       cfg.Storage.AccessKey,
		Secret:       cfg.Storage.SecretKey,
		Bucket:       cfg.Storage.Bucket,
		UseSSL:       cfg.Storage.UseSSL,
		ExpirePrefix: export.DefaultObjectPrefix,
		ExpireDays:   cfg.Storage.ArchiveExpiryDays,
	})
	if err != nil {
		logger.Fatalf("object storage setup failed: %v", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Fatalf("ensure bucket %s failed: %v", objects.Bucket(), err)
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, worker.Deps{
		Transformer:       engine,
		ExportConcurrency: cfg.Editor.ExportConcurrency,
		Sink: export.ObjectStoreSink{
			Storage:     objects,
			URLValidFor: cfg.Storage.PresignedTTL,
		},
		Store: pg,
		Webhook: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			MaxAttempts:   cfg.Webhook.MaxAttempts,
		}),
	})
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Printf(
		"starting worker concurrency=%d export_concurrency=%d queue=%s redis=%s bucket=%s backend=%s",
		cfg.Worker.Concurrency,
		cfg.Editor.ExportConcurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		objects.Bucket(),
		pipeline.BackendName,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
