package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/alttext"
	"github.com/dunamismax/imageoptimizer/internal/api"
	"github.com/dunamismax/imageoptimizer/internal/config"
	"github.com/dunamismax/imageoptimizer/internal/editor"
	"github.com/dunamismax/imageoptimizer/internal/pipeline"
	"github.com/dunamismax/imageoptimizer/internal/previewcache"
	"github.com/dunamismax/imageoptimizer/internal/queue"
	"github.com/dunamismax/imageoptimizer/internal/ratelimit"
	"github.com/dunamismax/imageoptimizer/internal/store"
	"github.com/dunamismax/imageoptimizer/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imageoptimizer-api",
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
	previews := previewcache.New(engine, cfg.Editor.PreviewCacheTTL)

	metrics := api.NewMetrics()
	sessionOpts := []editor.Option{
		editor.WithMaxItems(cfg.Editor.MaxFiles),
		editor.WithMaxDimension(cfg.Editor.MaxDimension),
		editor.WithQuietPeriod(cfg.Editor.QuietPeriod),
		editor.WithExportConcurrency(cfg.Editor.ExportConcurrency),
		editor.WithLogger(logger),
		editor.WithEstimatorObserver(metrics.EstimatorObserver()),
	}
	if cfg.AltText.APIKey != "" {
		sessionOpts = append(sessionOpts, editor.WithAltText(alttext.NewGemini(cfg.AltText.APIKey, cfg.AltText.Model)))
	} else {
		logger.Printf("alt text disabled: GEMINI_API_KEY is not set")
	}
	sessions := editor.NewManager(previews, sessionOpts...)
	defer sessions.Close()

	var st store.Store = store.NewMemoryStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres connect failed: %v", err)
		}
		defer pg.Close()
		st = pg
	} else {
		logger.Printf("POSTGRES_DSN is not set; snapshots and exports are kept in memory")
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), queue.Options{
		Queue:     cfg.Queue.Name,
		MaxRetry:  cfg.Queue.MaxRetry,
		Timeout:   cfg.Queue.TaskTimeout,
		Retention: cfg.Queue.Retention,
	})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer redisClient.Close()
	limiter, err := ratelimit.NewFixedWindow(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
	if err != nil {
		logger.Fatalf("rate limiter setup failed: %v", err)
	}

	app, err := api.NewServer(logger, api.Deps{
		Sessions:       sessions,
		Store:          st,
		Queue:          queueClient,
		RateLimiter:    limiter,
		Metrics:        metrics,
		Tracer:         otel.Tracer("imageoptimizer/api"),
		MaxUploadBytes: cfg.API.MaxUploadBytes,
	})
	if err != nil {
		logger.Fatalf("api setup failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s backend=%s max_files=%d", cfg.API.Addr, pipeline.BackendName, cfg.Editor.MaxFiles)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
