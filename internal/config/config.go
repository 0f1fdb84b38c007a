// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCPort       string
	FrontendURL    string
	DBPath         string
	ArchiveEnabled bool
	// ConversationID names the one conversation this desk serves.
	ConversationID string
	// PublishToken guards the ingest endpoints; empty disables the check.
	PublishToken    string
	Analysis        AnalysisConfig
	Bus             BusConfig
	SSE             SSEConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// AnalysisConfig tunes the correlation engine.
type AnalysisConfig struct {
	Timeout      time.Duration
	DisplayDelay time.Duration
}

// BusConfig sizes the in-process event hub.
type BusConfig struct {
	QueueSize int
}

// SSEConfig controls the session feed stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	ReplaySize         int
	MaxRequestBodySize int64
}

// RateLimitConfig limits ingest requests per publisher.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCPort:       getEnv("GRPC_PORT", "50061"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/desk.db"),
		ArchiveEnabled: getEnvBool("ARCHIVE_ENABLED", true),
		ConversationID: getEnv("CONVERSATION_ID", "default"),
		PublishToken:   getEnv("PUBLISH_TOKEN", ""),
		Analysis: AnalysisConfig{
			Timeout:      getEnvDuration("ANALYSIS_TIMEOUT", 30*time.Second),
			DisplayDelay: getEnvDuration("PENDING_DISPLAY_DELAY", 4*time.Second),
		},
		Bus: BusConfig{
			QueueSize: getEnvInt("BUS_QUEUE_SIZE", 256),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			ReplaySize:         getEnvInt("SSE_REPLAY_SIZE", 100),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 120),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.GRPCPort == "" {
		return errors.New("GRPC_PORT cannot be empty")
	}
	if c.ArchiveEnabled && c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty when the archive is enabled")
	}
	if c.Analysis.Timeout <= 0 {
		return errors.New("ANALYSIS_TIMEOUT must be > 0")
	}
	if c.Analysis.DisplayDelay < 0 {
		return errors.New("PENDING_DISPLAY_DELAY must be >= 0")
	}
	if c.Bus.QueueSize <= 0 {
		return errors.New("BUS_QUEUE_SIZE must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return errors.New("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.SSE.ReplaySize <= 0 {
		return errors.New("SSE_REPLAY_SIZE must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return errors.New("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("30s") and bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
