package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Cache   CacheConfig
	LLM     LLMConfig
	Geo     GeoConfig
	Session SessionConfig
	Queue   QueueConfig
	Ingest  IngestConfig
	Retry   RetryConfig
	Log     LogConfig
}

// ServerConfig holds transport-related configuration
type ServerConfig struct {
	HTTPAddr   string
	GRPCAddr   string
	MaxImageMB int
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	TTL             time.Duration
	MemoryEntries   int
	SQLitePath      string
	DSN             string // when set, the durable tier is Postgres instead of SQLite
	Fingerprint     string // "full" | "prefix"
	JanitorInterval time.Duration
}

// LLMConfig holds vision model configuration
type LLMConfig struct {
	BaseURL         string
	Model           string
	APIKey          string
	Temperature     float32
	Timeout         time.Duration
	LenientOptional bool
}

// GeoConfig holds geocoding configuration
type GeoConfig struct {
	MapboxToken   string
	MapboxBaseURL string
	Country       string
	Timeout       time.Duration
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	GracePeriod     time.Duration
	JobRetention    time.Duration
	JanitorInterval time.Duration
	SendQueueSize   int
}

// QueueConfig holds worker pool configuration
type QueueConfig struct {
	Workers        int
	Size           int
	ProcessTimeout time.Duration
}

// IngestConfig holds drop-folder configuration
type IngestConfig struct {
	Dir       string
	SessionID string
	Debounce  time.Duration
}

// RetryConfig is a bounded retry policy: attempts are capped and spaced by exponential backoff.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string // "text" | "json"
}

// fileConfig mirrors the optional YAML file at CONFIG_PATH. Environment variables win over it.
type fileConfig struct {
	Server struct {
		HTTPAddr   string `yaml:"http_addr"`
		GRPCAddr   string `yaml:"grpc_addr"`
		MaxImageMB int    `yaml:"max_image_mb"`
	} `yaml:"server"`
	Cache struct {
		TTL           string `yaml:"ttl"`
		MemoryEntries int    `yaml:"memory_entries"`
		SQLitePath    string `yaml:"sqlite_path"`
		DSN           string `yaml:"dsn"`
		Fingerprint   string `yaml:"fingerprint"`
	} `yaml:"cache"`
	LLM struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"llm"`
	Geo struct {
		MapboxBaseURL string `yaml:"mapbox_base_url"`
		Country       string `yaml:"country"`
	} `yaml:"geo"`
	Session struct {
		GracePeriod  string `yaml:"grace_period"`
		JobRetention string `yaml:"job_retention"`
	} `yaml:"session"`
	Queue struct {
		Workers int `yaml:"workers"`
		Size    int `yaml:"size"`
	} `yaml:"queue"`
	Ingest struct {
		Dir       string `yaml:"dir"`
		SessionID string `yaml:"session_id"`
	} `yaml:"ingest"`
}

// LoadConfig loads configuration from the optional YAML file and environment variables
func LoadConfig() (*Config, error) {
	var fc fileConfig
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, WrapError(err, "read config file")
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, WrapError(err, "parse config file")
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:   getEnv("HTTP_ADDR", firstNonEmpty(fc.Server.HTTPAddr, ":8080")),
			GRPCAddr:   getEnv("GRPC_ADDR", firstNonEmpty(fc.Server.GRPCAddr, ":9090")),
			MaxImageMB: getEnvAsInt("MAX_IMAGE_MB", firstPositive(fc.Server.MaxImageMB, 12)),
		},
		Cache: CacheConfig{
			TTL:             getEnvAsDuration("CACHE_TTL", parseDurationOr(fc.Cache.TTL, 24*time.Hour)),
			MemoryEntries:   getEnvAsInt("CACHE_MEMORY_ENTRIES", firstPositive(fc.Cache.MemoryEntries, 500)),
			SQLitePath:      getEnv("CACHE_SQLITE_PATH", firstNonEmpty(fc.Cache.SQLitePath, "./tmp/flyer-cache.db")),
			DSN:             getEnv("CACHE_DSN", fc.Cache.DSN),
			Fingerprint:     strings.ToLower(getEnv("CACHE_FINGERPRINT_MODE", firstNonEmpty(fc.Cache.Fingerprint, "full"))),
			JanitorInterval: getEnvAsDuration("CACHE_JANITOR_INTERVAL", 10*time.Minute),
		},
		LLM: LLMConfig{
			BaseURL:         getEnv("OPENAI_BASE_URL", firstNonEmpty(fc.LLM.BaseURL, "https://api.openai.com/v1")),
			Model:           getEnv("OPENAI_MODEL", firstNonEmpty(fc.LLM.Model, "gpt-4o-mini")),
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			Temperature:     getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:         getEnvAsDuration("OPENAI_TIMEOUT", parseDurationOr(fc.LLM.Timeout, 60*time.Second)),
			LenientOptional: getEnvAsBool("LLM_LENIENT_OPTIONAL", true),
		},
		Geo: GeoConfig{
			MapboxToken:   getEnv("MAPBOX_TOKEN", ""),
			MapboxBaseURL: getEnv("MAPBOX_BASE_URL", firstNonEmpty(fc.Geo.MapboxBaseURL, "https://api.mapbox.com")),
			Country:       getEnv("GEO_COUNTRY", fc.Geo.Country),
			Timeout:       getEnvAsDuration("GEO_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			GracePeriod:     getEnvAsDuration("SESSION_GRACE_PERIOD", parseDurationOr(fc.Session.GracePeriod, 10*time.Minute)),
			JobRetention:    getEnvAsDuration("JOB_RETENTION", parseDurationOr(fc.Session.JobRetention, time.Hour)),
			JanitorInterval: getEnvAsDuration("SESSION_JANITOR_INTERVAL", time.Minute),
			SendQueueSize:   getEnvAsInt("SESSION_SEND_QUEUE", 64),
		},
		Queue: QueueConfig{
			Workers:        getEnvAsInt("QUEUE_WORKERS", firstPositive(fc.Queue.Workers, 4)),
			Size:           getEnvAsInt("QUEUE_SIZE", firstPositive(fc.Queue.Size, 256)),
			ProcessTimeout: getEnvAsDuration("QUEUE_PROCESS_TIMEOUT", 3*time.Minute),
		},
		Ingest: IngestConfig{
			Dir:       getEnv("INGEST_DIR", fc.Ingest.Dir),
			SessionID: getEnv("INGEST_SESSION_ID", fc.Ingest.SessionID),
			Debounce:  getEnvAsDuration("INGEST_DEBOUNCE", 500*time.Millisecond),
		},
		Retry: RetryConfig{
			MaxAttempts:     getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
			InitialInterval: getEnvAsDuration("RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:     getEnvAsDuration("RETRY_MAX_INTERVAL", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
	return cfg, nil
}

// Helper functions for environment variable parsing
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
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Cache.Fingerprint != "full" && c.Cache.Fingerprint != "prefix" {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("CACHE_FINGERPRINT_MODE must be full or prefix, got %q", c.Cache.Fingerprint), ErrInvalidInput)
	}
	if c.Queue.Workers <= 0 || c.Queue.Size <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_WORKERS and QUEUE_SIZE must be positive", ErrInvalidInput)
	}
	if c.Retry.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "RETRY_MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	return nil
}
