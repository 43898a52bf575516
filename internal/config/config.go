package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the billing/queue core.
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Usage     UsagePipelineConfig
	Estimator EstimatorConfig
	Export    ExportConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// UsagePipelineConfig holds settings for the async usage-record pipeline
type UsagePipelineConfig struct {
	UseRedis     bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// EstimatorConfig holds ETA estimator settings. Default durations are
// the per-mode fallbacks used when too few finished jobs exist.
type EstimatorConfig struct {
	SampleLimit  int
	MinDuration  time.Duration
	MaxDuration  time.Duration
	DefaultBasic time.Duration
	DefaultPro   time.Duration
	DefaultUltra time.Duration
	MinETA       time.Duration
}

// ExportConfig holds configuration for the S3-based usage export sink
type ExportConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	NodeName      string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Usage: UsagePipelineConfig{
			UseRedis:     getEnvString("USAGE_QUEUE_USE_REDIS", "false") == "true",
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		Estimator: EstimatorConfig{
			SampleLimit:  getEnvInt("ETA_SAMPLE_LIMIT", 200),
			MinDuration:  getEnvDuration("ETA_MIN_DURATION", 5*time.Second),
			MaxDuration:  getEnvDuration("ETA_MAX_DURATION", 600*time.Second),
			DefaultBasic: getEnvDuration("ETA_DEFAULT_BASIC", 20*time.Second),
			DefaultPro:   getEnvDuration("ETA_DEFAULT_PRO", 45*time.Second),
			DefaultUltra: getEnvDuration("ETA_DEFAULT_ULTRA", 90*time.Second),
			MinETA:       getEnvDuration("ETA_MIN", 5*time.Second),
		},
		Export: ExportConfig{
			Enabled:       getEnvString("USAGE_EXPORT_ENABLED", "false") == "true",
			BufferSize:    getEnvInt("USAGE_EXPORT_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("USAGE_EXPORT_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("USAGE_EXPORT_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("USAGE_EXPORT_S3_BUCKET", ""),
			S3Region:      getEnvString("USAGE_EXPORT_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("USAGE_EXPORT_S3_PREFIX", "usage/"),
			NodeName:      getEnvString("NODE_NAME", "artgen-0"),
		},
	}

	return cfg, nil
}
