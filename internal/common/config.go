package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Queue    QueueConfig
	AWS      AWSConfig
	LLM      LLMConfig
	Ingest   IngestConfig
}

// DatabaseConfig selects and tunes the record-store backend.
type DatabaseConfig struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	SQLitePath      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds the HTTP front-door configuration.
type ServerConfig struct {
	Addr          string
	MaxUploadSize int64
}

// QueueConfig tunes lease-based delivery and the retry policy.
type QueueConfig struct {
	Workers       int
	LeaseDuration time.Duration
	BlockTimeout  time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	StageTimeout  time.Duration
	PollBudget    time.Duration
}

// AWSConfig holds S3 and Textract settings.
type AWSConfig struct {
	Region string
	Bucket string
}

// LLMConfig holds normalizer/embedder settings.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	Timeout        time.Duration
}

// IngestConfig holds drop-folder ingestion settings.
type IngestConfig struct {
	WatchDir string
	BlobDir  string // local blob root when Database.Driver is sqlite
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			DSN:             getEnv("DB_URL", ""),
			SQLitePath:      getEnv("SQLITE_PATH", "./data"),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr:          getEnv("HTTP_ADDR", ":8080"),
			MaxUploadSize: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Queue: QueueConfig{
			Workers:       getEnvAsInt("QUEUE_WORKERS", 4),
			LeaseDuration: getEnvAsDuration("QUEUE_LEASE", 15*time.Minute),
			BlockTimeout:  getEnvAsDuration("QUEUE_BLOCK_TIMEOUT", 5*time.Second),
			MaxAttempts:   getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),
			BackoffBase:   getEnvAsDuration("QUEUE_BACKOFF_BASE", 5*time.Second),
			BackoffCap:    getEnvAsDuration("QUEUE_BACKOFF_CAP", 5*time.Minute),
			StageTimeout:  getEnvAsDuration("STAGE_TIMEOUT", 2*time.Minute),
			PollBudget:    getEnvAsDuration("ANALYSIS_POLL_BUDGET", 10*time.Minute),
		},
		AWS: AWSConfig{
			Region: getEnv("AWS_DEFAULT_REGION", "us-east-1"),
			Bucket: getEnv("AWS_S3_BUCKET_NAME", ""),
		},
		LLM: LLMConfig{
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			Temperature:    getEnvAsFloat32("OPENAI_TEMPERATURE", 0.1),
			Timeout:        getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Ingest: IngestConfig{
			WatchDir: getEnv("INGEST_WATCH_DIR", ""),
			BlobDir:  getEnv("BLOB_DIR", "./blobs"),
		},
	}
}

// Validate checks required keys for the selected backends.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return WrapError(ErrInvalidInput, "DB_URL is required for the postgres driver")
		}
	case "sqlite":
	default:
		return WrapError(ErrInvalidInput, "DB_DRIVER must be postgres or sqlite")
	}
	if c.LLM.APIKey == "" {
		return WrapError(ErrInvalidInput, "OPENAI_API_KEY is required")
	}
	if c.Database.Driver == "postgres" && c.AWS.Bucket == "" {
		return WrapError(ErrInvalidInput, "AWS_S3_BUCKET_NAME is required")
	}
	if c.Queue.Workers <= 0 {
		return WrapError(ErrInvalidInput, "QUEUE_WORKERS must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
