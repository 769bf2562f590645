// Package config provides application configuration management.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/redisx"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort        string
	HeartbeatInterval time.Duration
	// TriggerEnabled exposes POST /api/realtime/trigger.
	TriggerEnabled bool

	// Auth
	JWTSecret string
	JWTExpiry time.Duration

	// Persistence
	StatePath       string
	DataStoreDriver string
	DataStoreDSN    string

	// Redis pub/sub; empty means degraded mode
	Redis         redisx.Config
	ChannelPrefix string

	// Push
	VAPIDPublicKey string

	// Stream client
	StreamURL          string
	StreamToken        string
	StreamAuthMode     string
	StreamInitialDelay time.Duration
	StreamMaxDelay     time.Duration
	StreamMaxAttempts  int
	// WatcherMetricsAddr serves /metrics from the headless watcher when set.
	WatcherMetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadEnvFile adds variables from a dotenv file to the environment without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	statePath := getEnv("STATE_PATH", "/app/state")
	dataStoreDSN := getEnv("DATASTORE_DSN", "")
	if dataStoreDSN == "" {
		dataStoreDSN = filepath.Join(statePath, "dashsync.db")
	}
	return &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		HeartbeatInterval:  getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		TriggerEnabled:     getEnvBool("TRIGGER_ENABLED", false),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTExpiry:          getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		StatePath:          statePath,
		DataStoreDriver:    getEnv("DATASTORE_DRIVER", "sqlite"),
		DataStoreDSN:       dataStoreDSN,
		ChannelPrefix:      getEnv("UPDATES_CHANNEL_PREFIX", "updates:"),
		VAPIDPublicKey:     os.Getenv("VAPID_PUBLIC_KEY"),
		StreamURL:          getEnv("STREAM_URL", "http://localhost:8080/api/realtime/stream"),
		StreamToken:        os.Getenv("STREAM_TOKEN"),
		StreamAuthMode:     getEnv("STREAM_AUTH_MODE", "header"),
		StreamInitialDelay: getEnvDuration("STREAM_RECONNECT_INITIAL", time.Second),
		StreamMaxDelay:     getEnvDuration("STREAM_RECONNECT_MAX", 30*time.Second),
		StreamMaxAttempts:  getEnvInt("STREAM_MAX_ATTEMPTS", 0),
		WatcherMetricsAddr: os.Getenv("WATCHER_METRICS_ADDR"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		Redis: redisx.Config{
			URL:         os.Getenv("REDIS_URL"),
			Addr:        getEnv("REDIS_ADDR", ""),
			Username:    getEnv("REDIS_USERNAME", ""),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          getEnvInt("REDIS_DB", 0),
			TLSEnabled:  getEnvBool("REDIS_TLS_ENABLED", false),
			TLSInsecure: getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		invalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		invalid(key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			invalid(key, value, defaultValue)
		}
	}
	return defaultValue
}

func invalid(key, value string, fallback any) {
	logutil.Warn("invalid config value, using default", map[string]interface{}{
		"key":     key,
		"value":   value,
		"default": fallback,
	})
}
