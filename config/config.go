// Package config provides configuration for the replay engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the replayd configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Replay defaults
	EventsPath    string
	ManifestPath  string
	WorkspacePath string
	Speed         float64
	Autostart     bool

	// Scheduler timing
	TickInterval time.Duration
	GracePeriod  time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Policy
	PolicyPath string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", "file:replayd.db?cache=shared&mode=rwc"),
		EventsPath:     getEnv("REPLAY_EVENTS_PATH", "replay/events_clean.json"),
		ManifestPath:   getEnv("REPLAY_MANIFEST_PATH", ""),
		WorkspacePath:  getEnv("REPLAY_WORKSPACE_PATH", ""),
		Speed:          getEnvFloat("REPLAY_SPEED", 1.0),
		Autostart:      getEnvBool("REPLAY_AUTOSTART", false),
		TickInterval:   time.Duration(getEnvInt("REPLAY_TICK_MS", 100)) * time.Millisecond,
		GracePeriod:    time.Duration(getEnvInt("REPLAY_GRACE_MS", 1500)) * time.Millisecond,
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		PolicyPath:     getEnv("REPLAY_POLICY_PATH", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
