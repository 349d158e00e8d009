// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Shell backends.
const (
	ShellBackendLocal  = "local"
	ShellBackendDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    string
	CORSOrigins []string
	Interpreter InterpreterConfig
	Shell       ShellConfig
	History     HistoryConfig
	GRPCPort    string // Empty disables the gRPC health server.
}

// InterpreterConfig controls persistent interpreter sessions.
type InterpreterConfig struct {
	Command           []string
	QuietPeriod       time.Duration
	Timeout           time.Duration // 0 = wait forever
	QueueSize         int
	ClassifierProfile string // Optional YAML rules file, hot-reloaded.
}

// ShellConfig controls the one-shot shell runner.
type ShellConfig struct {
	Backend        string
	Path           string
	Container      string
	Timeout        time.Duration
	MaxOutputBytes int
}

// HistoryConfig controls the execution history store.
type HistoryConfig struct {
	Enabled   bool
	DBPath    string
	Retention time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("SESSION_QUEUE_SIZE", 32)
	if queueSize <= 0 {
		queueSize = 32
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		Interpreter: InterpreterConfig{
			Command:           strings.Fields(getEnv("INTERPRETER_COMMAND", "python3 -i -q -u")),
			QuietPeriod:       getEnvDuration("QUIET_PERIOD", 2*time.Second),
			Timeout:           getEnvDuration("EXEC_TIMEOUT", 60*time.Second),
			QueueSize:         queueSize,
			ClassifierProfile: getEnv("CLASSIFIER_PROFILE", ""),
		},
		Shell: ShellConfig{
			Backend:        strings.ToLower(getEnv("SHELL_BACKEND", ShellBackendLocal)),
			Path:           getEnv("SHELL_PATH", "/bin/sh"),
			Container:      getEnv("SHELL_CONTAINER", ""),
			Timeout:        getEnvDuration("SHELL_TIMEOUT", 60*time.Second),
			MaxOutputBytes: getEnvInt("MAX_OUTPUT_BYTES", 1<<20),
		},
		History: HistoryConfig{
			Enabled:   getEnvBool("HISTORY_ENABLED", true),
			DBPath:    getEnv("DB_PATH", "./data/executions.db"),
			Retention: getEnvDuration("HISTORY_RETENTION", 7*24*time.Hour),
		},
		GRPCPort: getEnv("GRPC_HEALTH_PORT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if len(c.Interpreter.Command) == 0 {
		return fmt.Errorf("INTERPRETER_COMMAND cannot be empty")
	}
	if c.Interpreter.QuietPeriod <= 0 {
		return fmt.Errorf("QUIET_PERIOD must be > 0")
	}
	if c.Interpreter.Timeout < 0 {
		return fmt.Errorf("EXEC_TIMEOUT must be >= 0")
	}
	if c.Shell.Timeout < 0 {
		return fmt.Errorf("SHELL_TIMEOUT must be >= 0")
	}
	if c.Shell.MaxOutputBytes <= 0 {
		return fmt.Errorf("MAX_OUTPUT_BYTES must be > 0")
	}
	switch c.Shell.Backend {
	case ShellBackendLocal:
		if c.Shell.Path == "" {
			return fmt.Errorf("SHELL_PATH cannot be empty")
		}
	case ShellBackendDocker:
		if c.Shell.Container == "" {
			return fmt.Errorf("SHELL_CONTAINER is required when SHELL_BACKEND=docker")
		}
	default:
		return fmt.Errorf("SHELL_BACKEND must be %q or %q, got %q", ShellBackendLocal, ShellBackendDocker, c.Shell.Backend)
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ParseLogLevel maps LOG_LEVEL values onto slog levels.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", level)
	}
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

// getEnvDuration accepts Go duration strings ("1500ms") or bare seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
