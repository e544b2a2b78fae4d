// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the controller API.
type Config struct {
	// DataDir is the shared volume mount under which stages exchange
	// artifacts. Inside the cluster this is the PVC mount path.
	DataDir string

	// Namespace is the Kubernetes namespace all pipeline jobs live in.
	Namespace string

	// ClaimName is the persistent volume claim backing the shared volume.
	ClaimName string

	// ImagePrefix and ImageTag form stage image references, e.g.
	// "mediacorr-correlator:latest".
	ImagePrefix string
	ImageTag    string

	// ShardCount is the default parallelism for sharded stages.
	ShardCount int

	// MaxLag bounds the lag range of the causality analysis.
	MaxLag int

	// Market data window passed to the market stage.
	MarketStart string
	MarketEnd   string

	// MaxRecords caps how many index records the download stage fetches
	// per domain.
	MaxRecords int

	// DeletionTimeout bounds how long conflict recovery waits for a stale
	// job to disappear before failing closed.
	DeletionTimeout time.Duration

	// StagePollInterval / StageTimeout drive the orchestrator's wait for
	// stage completion.
	StagePollInterval time.Duration
	StageTimeout      time.Duration

	// PipelineCron optionally schedules unattended full pipeline runs
	// (empty disables).
	PipelineCron string

	// HistoryDBPath is the sqlite file recording stage run history.
	HistoryDBPath string

	// Mirror settings for the optional S3 artifact mirror (empty bucket
	// disables).
	MirrorBucket    string
	MirrorPrefix    string
	MirrorRegion    string
	MirrorEndpoint  string
	MirrorAccessKey string
	MirrorSecretKey string

	LogLevel string
	Port     int
	DevMode  bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MEDIACORR_DATA_DIR", "/app/data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Namespace:         getEnv("MEDIACORR_NAMESPACE", "mediacorr"),
		ClaimName:         getEnv("MEDIACORR_PVC", "mediacorr-pvc"),
		ImagePrefix:       getEnv("MEDIACORR_IMAGE_PREFIX", "mediacorr"),
		ImageTag:          getEnv("MEDIACORR_IMAGE_TAG", "latest"),
		ShardCount:        getEnvAsInt("MEDIACORR_SHARDS", 4),
		MaxLag:            getEnvAsInt("MAX_LAG", 10),
		MarketStart:       getEnv("START", "2024-01-01"),
		MarketEnd:         getEnv("END", "2025-01-01"),
		MaxRecords:        getEnvAsInt("MAX_RECORDS", 50),
		DeletionTimeout:   getEnvAsDuration("DELETION_TIMEOUT", 60*time.Second),
		StagePollInterval: getEnvAsDuration("STAGE_POLL_INTERVAL", 5*time.Second),
		StageTimeout:      getEnvAsDuration("STAGE_TIMEOUT", 30*time.Minute),
		PipelineCron:      getEnv("PIPELINE_CRON", ""),
		HistoryDBPath:     getEnv("HISTORY_DB_PATH", filepath.Join(absDataDir, "history.db")),
		MirrorBucket:      getEnv("MIRROR_BUCKET", ""),
		MirrorPrefix:      getEnv("MIRROR_PREFIX", "mediacorr/analysis"),
		MirrorRegion:      getEnv("MIRROR_REGION", ""),
		MirrorEndpoint:    getEnv("MIRROR_ENDPOINT", ""),
		MirrorAccessKey:   getEnv("MIRROR_ACCESS_KEY_ID", ""),
		MirrorSecretKey:   getEnv("MIRROR_SECRET_ACCESS_KEY", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Port:              getEnvAsInt("PORT", 8000),
		DevMode:           getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("shard count must be >= 1, got %d", c.ShardCount)
	}
	if c.MaxLag < 0 {
		return fmt.Errorf("max lag must be >= 0, got %d", c.MaxLag)
	}
	return nil
}

// StageImage builds the image reference for a stage worker.
func (c *Config) StageImage(name string) string {
	return fmt.Sprintf("%s-%s:%s", c.ImagePrefix, name, c.ImageTag)
}

// Helper functions
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
