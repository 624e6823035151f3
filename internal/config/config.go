package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppEnv string
	AppURL string
	Port   string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Paths
	DataPath   string
	FloppyPath string
	ISOPath    string
	TokensFile string

	// Limits
	ISOMaxUploadBytes int64
	ReapInterval      time.Duration
	// Per peer address on token-protected routes
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Storage for floppy artifacts: "local" (FloppyPath) or "s3"
	StorageDriver string
	S3Region      string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3Endpoint    string // Optional: for S3-compatible services (MinIO, R2, etc.)

	// Observability (optional)
	SentryDSN      string
	MetricsEnabled bool
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	dataPath := envString("DATA_PATH", "./data")

	cfg := &Config{
		// Application
		AppEnv: envString("APP_ENV", "development"),
		AppURL: envRequired("APP_URL"), // Required: base URL for retrieval links
		Port:   envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", filepath.Join(dataPath, "kickstart.db")+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),

		// Paths
		DataPath:   dataPath,
		FloppyPath: envString("FLOPPY_PATH", filepath.Join(dataPath, "floppy")),
		ISOPath:    envString("ISO_PATH", filepath.Join(dataPath, "iso")),
		TokensFile: envString("TOKENS_FILE", filepath.Join(dataPath, "tokens.yaml")),

		// Limits
		ISOMaxUploadBytes: envInt64("ISO_MAX_UPLOAD_BYTES", 1<<30), // 1 GiB
		ReapInterval:      envDuration("REAP_INTERVAL", time.Minute),
		RateLimitRequests: int(envInt64("RATE_LIMIT_REQUESTS", 30)),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Minute),

		// Storage
		StorageDriver: envString("STORAGE_DRIVER", "local"),
		S3Region:      envString("S3_REGION", ""),
		S3Bucket:      envString("S3_BUCKET", ""),
		S3AccessKey:   envString("S3_ACCESS_KEY", ""),
		S3SecretKey:   envString("S3_SECRET_KEY", ""),
		S3Endpoint:    envString("S3_ENDPOINT", ""),

		// Observability
		SentryDSN:      envString("SENTRY_DSN", ""),
		MetricsEnabled: envBool("METRICS_ENABLED", true),
	}

	if cfg.StorageDriver == "s3" {
		validateS3(cfg)
	}

	return cfg
}

// validateS3 ensures the bucket settings are present when S3 backs the
// floppy artifacts.
func validateS3(cfg *Config) {
	if cfg.S3Region == "" || cfg.S3Bucket == "" {
		slog.Error("STORAGE_DRIVER=s3 requires S3_REGION and S3_BUCKET",
			"hint", "set STORAGE_DRIVER=local to keep images on disk")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		slog.Warn("config invalid integer, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
