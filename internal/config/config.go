package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// RedisConfig holds settings for the Redis-backed link store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// MinIOConfig holds object storage settings for the S3-compatible upstream backend.
type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PresignTTLSec int
}

// UpstreamConfig describes where object bytes live and how the server talks to it.
// Token is the secret credential; it is only ever placed on server-to-upstream requests.
type UpstreamConfig struct {
	Kind              string
	BaseURL           string
	Token             string
	PathTemplate      string
	ConnectTimeoutSec int
	HeaderTimeoutSec  int
	IdleTimeoutSec    int
	ProbeTimeoutSec   int
}

// LinkConfig controls link lifetime and the relay.
type LinkConfig struct {
	ExpiryHours      int
	ChunkSize        int
	SweepIntervalSec int
	SweepBatchSize   int
	StreamPrefix     string
	PublicBaseURL    string
}

// TTL returns the link time-to-live.
func (l LinkConfig) TTL() time.Duration {
	return time.Duration(l.ExpiryHours) * time.Hour
}

// SweepInterval returns the period between expiry sweeps.
func (l LinkConfig) SweepInterval() time.Duration {
	return time.Duration(l.SweepIntervalSec) * time.Second
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	Port         string
	Timezone     string
	LogLevel     string
	StoreBackend string
	AdminAPIKey  string
	Link         LinkConfig
	Upstream     UpstreamConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	MinIO        MinIOConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		Port:         getEnv("PORT", "8080"),
		Timezone:     getEnv("APP_TIMEZONE", "UTC"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		AdminAPIKey:  getEnv("ADMIN_API_KEY", ""),
		Link: LinkConfig{
			ExpiryHours:      getEnvInt("EXPIRY_HOURS", 48),
			ChunkSize:        getEnvInt("CHUNK_SIZE", 256*1024),
			SweepIntervalSec: getEnvInt("SWEEP_INTERVAL_SEC", 1800),
			SweepBatchSize:   getEnvInt("SWEEP_BATCH_SIZE", 500),
			StreamPrefix:     strings.Trim(getEnv("STREAM_PREFIX", "s"), "/"),
			PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		Upstream: UpstreamConfig{
			Kind:              strings.ToLower(getEnv("UPSTREAM_KIND", "http")),
			BaseURL:           strings.TrimRight(getEnv("UPSTREAM_BASE_URL", "https://api.telegram.org"), "/"),
			Token:             getEnv("UPSTREAM_TOKEN", ""),
			PathTemplate:      getEnv("UPSTREAM_PATH_TEMPLATE", "/file/bot{token}/{path}"),
			ConnectTimeoutSec: getEnvInt("UPSTREAM_CONNECT_TIMEOUT_SEC", 10),
			HeaderTimeoutSec:  getEnvInt("UPSTREAM_HEADER_TIMEOUT_SEC", 30),
			IdleTimeoutSec:    getEnvInt("UPSTREAM_IDLE_TIMEOUT_SEC", 30),
			ProbeTimeoutSec:   getEnvInt("UPSTREAM_PROBE_TIMEOUT_SEC", 15),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "streamlink:"),
		},
		MinIO: MinIOConfig{
			Endpoint:      getEnv("MINIO_ENDPOINT", ""),
			AccessKey:     getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:     getEnv("MINIO_SECRET_KEY", ""),
			Bucket:        getEnv("MINIO_BUCKET", ""),
			Region:        getEnv("MINIO_REGION", ""),
			UseSSL:        getEnvBool("MINIO_USE_SSL", false),
			PresignTTLSec: getEnvInt("MINIO_PRESIGN_TTL_SEC", 300),
		},
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
