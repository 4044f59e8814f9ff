// Package config provides configuration loading and validation for the chat
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the chat server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (stat cache and rate limiting). Optional; in-memory fallbacks
	// are used when unset.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // Accepted during key rotation

	// LLM analyzer (OpenAI-compatible endpoint). Optional; the heuristic
	// analyzer handles everything when unset.
	LLMBaseURL        string `koanf:"llm_base_url"`
	LLMAPIKey         string `koanf:"llm_api_key"`
	LLMModel          string `koanf:"llm_model"`
	LLMTimeoutSeconds int    `koanf:"llm_timeout_seconds"`

	// Analysis pipeline sizing
	AnalysisWorkers   int `koanf:"analysis_workers"`
	AnalysisQueueSize int `koanf:"analysis_queue_size"`

	// Push scheduler thresholds
	PushIntervalSeconds  int `koanf:"push_interval_seconds"`
	PushMessageThreshold int `koanf:"push_message_threshold"`
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds"`
	SnapshotIntervalMins int `koanf:"snapshot_interval_minutes"`

	// Warmup rebuild window on startup, in days. 0 disables the warmup.
	WarmupDays int `koanf:"warmup_days"`

	// CORS allowed origins, comma separated in env form. Empty disables CORS.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required")
	ErrShortJWTSecret   = errors.New("JWT_SECRET must be at least 32 bytes")
	ErrMissingLLMModel  = errors.New("LLM_MODEL is required when LLM_BASE_URL is set")
	ErrInvalidPort      = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultLLMTimeoutSeconds    = 10
	DefaultAnalysisWorkers      = 4
	DefaultAnalysisQueueSize    = 256
	DefaultPushIntervalSeconds  = 10
	DefaultPushMessageThreshold = 10
	DefaultSweepIntervalSeconds = 30
	DefaultSnapshotIntervalMins = 60
	DefaultWarmupDays           = 7
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is
// returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load file first so env vars can override it.
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	llmTimeout, llmTimeoutErr := getEnvIntOrDefault("LLM_TIMEOUT_SECONDS", k.Int("llm_timeout_seconds"), DefaultLLMTimeoutSeconds)
	if llmTimeoutErr != nil {
		loadErrs = append(loadErrs, llmTimeoutErr)
	}
	workers, workersErr := getEnvIntOrDefault("ANALYSIS_WORKERS", k.Int("analysis_workers"), DefaultAnalysisWorkers)
	if workersErr != nil {
		loadErrs = append(loadErrs, workersErr)
	}
	queueSize, queueErr := getEnvIntOrDefault("ANALYSIS_QUEUE_SIZE", k.Int("analysis_queue_size"), DefaultAnalysisQueueSize)
	if queueErr != nil {
		loadErrs = append(loadErrs, queueErr)
	}
	pushInterval, pushIntervalErr := getEnvIntOrDefault("PUSH_INTERVAL_SECONDS", k.Int("push_interval_seconds"), DefaultPushIntervalSeconds)
	if pushIntervalErr != nil {
		loadErrs = append(loadErrs, pushIntervalErr)
	}
	pushThreshold, pushThresholdErr := getEnvIntOrDefault("PUSH_MESSAGE_THRESHOLD", k.Int("push_message_threshold"), DefaultPushMessageThreshold)
	if pushThresholdErr != nil {
		loadErrs = append(loadErrs, pushThresholdErr)
	}
	sweepInterval, sweepErr := getEnvIntOrDefault("SWEEP_INTERVAL_SECONDS", k.Int("sweep_interval_seconds"), DefaultSweepIntervalSeconds)
	if sweepErr != nil {
		loadErrs = append(loadErrs, sweepErr)
	}
	snapshotMins, snapshotErr := getEnvIntOrDefault("SNAPSHOT_INTERVAL_MINUTES", k.Int("snapshot_interval_minutes"), DefaultSnapshotIntervalMins)
	if snapshotErr != nil {
		loadErrs = append(loadErrs, snapshotErr)
	}
	warmupDays, warmupErr := getEnvIntOrDefaultAllowZero("WARMUP_DAYS", k, "warmup_days", DefaultWarmupDays)
	if warmupErr != nil {
		loadErrs = append(loadErrs, warmupErr)
	}

	// Build config struct, with env vars taking precedence over file values.
	cfg := &Config{
		Port:                 port,
		Env:                  getEnvOrDefaultMulti([]string{"CHATFLOW_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:          getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:            getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:        getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		JWTSecret:            getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:    getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		LLMBaseURL:           getEnvOrKoanf("LLM_BASE_URL", k, "llm_base_url"),
		LLMAPIKey:            getEnvOrKoanf("LLM_API_KEY", k, "llm_api_key"),
		LLMModel:             getEnvOrKoanf("LLM_MODEL", k, "llm_model"),
		LLMTimeoutSeconds:    llmTimeout,
		AnalysisWorkers:      workers,
		AnalysisQueueSize:    queueSize,
		PushIntervalSeconds:  pushInterval,
		PushMessageThreshold: pushThreshold,
		SweepIntervalSeconds: sweepInterval,
		SnapshotIntervalMins: snapshotMins,
		WarmupDays:           warmupDays,
		CORSAllowedOrigins:   getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
	}

	// Validate and collect errors.
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// LLMTimeout returns the LLM request timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// PushInterval returns the minimum gap between analysis pushes.
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.PushIntervalSeconds) * time.Second
}

// SweepInterval returns the scheduler sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SnapshotInterval returns the durable snapshot period.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMins) * time.Minute
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvListOrKoanf returns the environment variable split on commas if set,
// otherwise the koanf string slice.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultAllowZero is like getEnvIntOrDefault but treats an
// explicit zero in the file or env as a real value rather than "unset".
func getEnvIntOrDefaultAllowZero(envKey string, k *koanf.Koanf, koanfKey string, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if k.Exists(koanfKey) {
		return k.Int(koanfKey), nil
	}
	return defaultVal, nil
}

// Validate checks the configuration for missing or malformed values.
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, ErrShortJWTSecret)
	}
	if c.LLMBaseURL != "" && c.LLMModel == "" {
		errs = append(errs, ErrMissingLLMModel)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                   fmt.Sprintf("%d", c.Port),
		"env":                    c.Env,
		"database_url":           maskDatabaseURL(c.DatabaseURL),
		"redis_addr":             valueOrNotSet(c.RedisAddr),
		"jwt_secret":             maskSecret(c.JWTSecret),
		"jwt_previous_secret":    maskSecret(c.JWTPreviousSecret),
		"llm_base_url":           valueOrNotSet(c.LLMBaseURL),
		"llm_api_key":            maskSecret(c.LLMAPIKey),
		"llm_model":              valueOrNotSet(c.LLMModel),
		"llm_timeout_seconds":    fmt.Sprintf("%d", c.LLMTimeoutSeconds),
		"analysis_workers":       fmt.Sprintf("%d", c.AnalysisWorkers),
		"analysis_queue_size":    fmt.Sprintf("%d", c.AnalysisQueueSize),
		"push_interval_seconds":  fmt.Sprintf("%d", c.PushIntervalSeconds),
		"push_message_threshold": fmt.Sprintf("%d", c.PushMessageThreshold),
		"sweep_interval_seconds": fmt.Sprintf("%d", c.SweepIntervalSeconds),
		"snapshot_interval_min":  fmt.Sprintf("%d", c.SnapshotIntervalMins),
		"warmup_days":            fmt.Sprintf("%d", c.WarmupDays),
		"cors_allowed_origins":   strings.Join(c.CORSAllowedOrigins, ","),
	}
}

func valueOrNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
