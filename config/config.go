package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Engine    EngineConfig
	Reconcile ReconcileConfig
	AWS       AWSConfig
	Providers ProviderConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds settings for the identity token middleware. Tokens are
// issued by the identity collaborator; the engine only validates signatures
// and extracts the acting user id.
type JWTConfig struct {
	Secret string
}

// EngineConfig tunes session reconstruction and aggregation.
type EngineConfig struct {
	TimestampToleranceSec float64 // client-side rounding slack on videoTimestamp
	IdleWindowMinutes     int     // idle sessions older than this are swept as abandoned
	SweepIntervalSec      int
	DropOffBucketSec      float64 // drop-off histogram bucket width
	SnapshotFlushSec      int     // staleness bound for persisting dirty snapshots
	SnapshotCacheTTLSec   int     // redis cache TTL for served snapshots
}

// ReconcileConfig tunes the duration reconciliation service.
type ReconcileConfig struct {
	IntervalMinutes     int
	MinSignificantDelta float64 // seconds; smaller deltas are rounding noise
	LookupTimeoutSec    int
}

// AWSConfig holds credentials and the event-archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// ProviderConfig holds external video provider lookup settings.
type ProviderConfig struct {
	YouTubeAPIKey string
}

// DSN returns the PostgreSQL connection string. If DatabaseConfig.URL is set
// it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "engagement"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Engine: EngineConfig{
			TimestampToleranceSec: getEnvFloat("TIMESTAMP_TOLERANCE_SEC", 2),
			IdleWindowMinutes:     getEnvInt("SESSION_IDLE_WINDOW_MIN", 30),
			SweepIntervalSec:      getEnvInt("SESSION_SWEEP_INTERVAL_SEC", 60),
			DropOffBucketSec:      getEnvFloat("DROPOFF_BUCKET_SEC", 30),
			SnapshotFlushSec:      getEnvInt("SNAPSHOT_FLUSH_SEC", 30),
			SnapshotCacheTTLSec:   getEnvInt("SNAPSHOT_CACHE_TTL_SEC", 60),
		},
		Reconcile: ReconcileConfig{
			IntervalMinutes:     getEnvInt("RECONCILE_INTERVAL_MIN", 60),
			MinSignificantDelta: getEnvFloat("RECONCILE_MIN_DELTA_SEC", 5),
			LookupTimeoutSec:    getEnvInt("RECONCILE_LOOKUP_TIMEOUT_SEC", 10),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", "engagement-event-archive"),
		},
		Providers: ProviderConfig{
			YouTubeAPIKey: getEnv("YOUTUBE_API_KEY", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}
