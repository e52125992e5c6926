package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the VisionHub API server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	ML       MLConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// StorageConfig points at the S3-compatible bucket that receives binary
// artifacts (heatmaps, masks) via presigned uploads.
type StorageConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PresignExpiry time.Duration
}

// MLConfig governs the analysis pipeline: the feature toggle, creation
// limits, and the callback trust boundary shared with the external worker.
type MLConfig struct {
	Enabled             bool
	AllowedModels       map[string]struct{}
	MaxAnalysesPerImage int
	MaxBulkAnnotations  int
	CallbackSecret      string
	RequireSignature    bool
	ReplayWindow        time.Duration
	DefaultStatus       string
}

// ModelAllowed reports whether name is on the configured allow-list.
func (c MLConfig) ModelAllowed(name string) bool {
	_, ok := c.AllowedModels[name]
	return ok
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VISIONHUB_PORT", 8080),
			Env:  envString("VISIONHUB_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:      os.Getenv("MINIO_ENDPOINT"),
			Region:        envString("MINIO_REGION", "us-east-1"),
			Bucket:        envString("MINIO_BUCKET", "visionhub"),
			AccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:     os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:        envBool("MINIO_USE_SSL", false),
			PresignExpiry: envDurationSecs("MINIO_PRESIGN_EXPIRY_SECS", 15*time.Minute),
		},
		ML: MLConfig{
			Enabled:             envBool("ML_ANALYSIS_ENABLED", true),
			AllowedModels:       parseAllowedModels(os.Getenv("ML_ALLOWED_MODELS")),
			MaxAnalysesPerImage: envInt("ML_MAX_ANALYSES_PER_IMAGE", 10),
			MaxBulkAnnotations:  envInt("ML_MAX_BULK_ANNOTATIONS", 1000),
			CallbackSecret:      os.Getenv("ML_CALLBACK_HMAC_SECRET"),
			RequireSignature:    envBool("ML_PIPELINE_REQUIRE_HMAC", true),
			ReplayWindow:        envDurationSecs("ML_HMAC_MAX_SKEW_SECS", 300*time.Second),
			DefaultStatus:       envString("ML_DEFAULT_STATUS", "queued"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validInitialStatuses = map[string]bool{
	"queued":     true,
	"processing": true,
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.ML.MaxAnalysesPerImage <= 0 {
		return fmt.Errorf("ML_MAX_ANALYSES_PER_IMAGE must be positive, got %d", c.ML.MaxAnalysesPerImage)
	}
	if c.ML.MaxBulkAnnotations <= 0 {
		return fmt.Errorf("ML_MAX_BULK_ANNOTATIONS must be positive, got %d", c.ML.MaxBulkAnnotations)
	}
	if !validInitialStatuses[c.ML.DefaultStatus] {
		return fmt.Errorf("ML_DEFAULT_STATUS must be queued or processing, got %q", c.ML.DefaultStatus)
	}
	if c.ML.ReplayWindow <= 0 {
		return fmt.Errorf("ML_HMAC_MAX_SKEW_SECS must be positive")
	}

	if c.ML.Enabled && c.Storage.Endpoint != "" {
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
		}
	}

	return nil
}

// parseAllowedModels splits the comma-separated allow-list once at load time.
// Per-request callers check membership against the resulting set.
func parseAllowedModels(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range strings.Split(raw, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			set[m] = struct{}{}
		}
	}
	return set
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
