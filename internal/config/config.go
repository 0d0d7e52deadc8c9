package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Editor    EditorConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	AltText   AltTextConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
}

type EditorConfig struct {
	MaxFiles          int
	MaxDimension      int
	QuietPeriod       time.Duration
	ExportConcurrency int
	PreviewCacheTTL   time.Duration
	ExportDir         string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
	Retention     time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

type StorageConfig struct {
	Endpoint          string
	AccessKey         string
	SecretKey         string
	Bucket            string
	UseSSL            bool
	PresignedTTL      time.Duration
	ArchiveExpiryDays int
}

// DatabaseConfig selects the snapshot and export store. An empty DSN keeps
// everything in process memory.
type DatabaseConfig struct {
	DSN string
}

type AltTextConfig struct {
	APIKey string
	Model  string
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type WebhookConfig struct {
	SigningSecret string
	MaxAttempts   int
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	OTLPHeaders  string
	SampleRatio  float64
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:           env("OPTIMIZER_API_ADDR", ":8080"),
			MaxUploadBytes: int64(envInt("OPTIMIZER_MAX_UPLOAD_BYTES", 64<<20)),
		},
		Editor: EditorConfig{
			MaxFiles:          envInt("OPTIMIZER_MAX_FILES", 10),
			MaxDimension:      envInt("OPTIMIZER_MAX_DIMENSION", 16384),
			QuietPeriod:       envDuration("OPTIMIZER_QUIET_PERIOD", 300*time.Millisecond),
			ExportConcurrency: envInt("OPTIMIZER_EXPORT_CONCURRENCY", runtime.NumCPU()),
			PreviewCacheTTL:   envDuration("OPTIMIZER_PREVIEW_CACHE_TTL", 5*time.Minute),
			ExportDir:         env("OPTIMIZER_EXPORT_DIR", "./.imageoptimizer-exports"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("EXPORT_MAX_RETRY", 3),
			TaskTimeout:   envDuration("EXPORT_TASK_TIMEOUT", 5*time.Minute),
			Retention:     envDuration("EXPORT_TASK_RETENTION", 24*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU()/2)),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:          env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:         env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:         env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:            env("MINIO_BUCKET", "imageoptimizer-exports"),
			UseSSL:            envBool("MINIO_USE_SSL", false),
			PresignedTTL:      envDuration("MINIO_PRESIGNED_TTL", 24*time.Hour),
			ArchiveExpiryDays: envInt("MINIO_ARCHIVE_EXPIRY_DAYS", 7),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		AltText: AltTextConfig{
			APIKey: env("GEMINI_API_KEY", ""),
			Model:  env("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("ALTTEXT_RATE_LIMIT", 10),
			Window: envDuration("ALTTEXT_RATE_WINDOW", time.Minute),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
			MaxAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			OTLPHeaders:  env("OTEL_EXPORTER_OTLP_HEADERS", ""),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
