// Package config validates process environment variables into a Config.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Addr string

	// RawWSAddr, if set, additionally serves the bare wsserver transport
	// (no gin, no CORS, no connect rate limiting) on its own listener —
	// meant for embedders that want a minimal socket endpoint.
	RawWSAddr string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Queue depths (spec.md §5, §9)
	IntakeQueueDepth   int
	OutboundQueueDepth int

	// OutboundSendTimeout bounds how long the intake loop awaits a slow
	// client's outbound buffer draining before detaching it (spec.md §5
	// backpressure: awaiting send on a slow sink stalls processing rather
	// than rejecting immediately).
	OutboundSendTimeout time.Duration

	// Rate limits (formatted per ulule/limiter, e.g. "10-M")
	RateLimitAction  string
	RateLimitConnect string
}

// Load validates all required environment variables and returns a Config.
// Returns an error if any required variable is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: JOINT_ADDR (format: host:port, or ":port")
	cfg.Addr = os.Getenv("JOINT_ADDR")
	if cfg.Addr == "" {
		errs = append(errs, "JOINT_ADDR is required")
	} else if !isValidListenAddr(cfg.Addr) {
		errs = append(errs, fmt.Sprintf("JOINT_ADDR must be in format 'host:port' or ':port' (got '%s')", cfg.Addr))
	}

	// Optional: JOINT_GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("JOINT_GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: JOINT_LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("JOINT_LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("JOINT_DEV_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("JOINT_ALLOWED_ORIGINS")
	cfg.RawWSAddr = os.Getenv("JOINT_RAW_WS_ADDR")

	cfg.IntakeQueueDepth = getEnvIntOrDefault("JOINT_INTAKE_QUEUE_DEPTH", 256, &errs)
	cfg.OutboundQueueDepth = getEnvIntOrDefault("JOINT_OUTBOUND_QUEUE_DEPTH", 64, &errs)
	cfg.OutboundSendTimeout = time.Duration(getEnvIntOrDefault("JOINT_OUTBOUND_SEND_TIMEOUT_MS", 2000, &errs)) * time.Millisecond

	cfg.RateLimitAction = getEnvOrDefault("JOINT_RATE_LIMIT_ACTION", "20-S")
	cfg.RateLimitConnect = getEnvOrDefault("JOINT_RATE_LIMIT_CONNECT", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidListenAddr accepts "host:port" and ":port" forms.
func isValidListenAddr(addr string) bool {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return false
	}
	portStr := addr[idx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return true
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"addr", cfg.Addr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"intake_queue_depth", cfg.IntakeQueueDepth,
		"outbound_queue_depth", cfg.OutboundQueueDepth,
		"outbound_send_timeout", cfg.OutboundSendTimeout,
		"rate_limit_action", cfg.RateLimitAction,
		"rate_limit_connect", cfg.RateLimitConnect,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errs *[]string) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}
