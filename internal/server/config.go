// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the FlyShare relay.
package server

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/flyshare/internal/coordinator"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	UploadDir     string
	MaxUploadSize int64

	AllowGuestMessages       bool
	BroadcastUnresolvedFiles bool
	LegacyGlobalMessages     bool
	MaxDeviceName            int

	// TrustProxy derives the network id from X-Forwarded-For instead of
	// the socket address. Enable only behind a trusted reverse proxy.
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 16 * 1024
	defaultBurst           = 5
	defaultMaxUploadSize   = 100 * 1024 * 1024
	defaultShutdownTimeout = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://localhost:3000",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: time.Second,
		},
		UploadDir:          filepath.Join(os.TempDir(), "flyshare-uploads"),
		MaxUploadSize:      defaultMaxUploadSize,
		AllowGuestMessages: true,
		MaxDeviceName:      coordinator.DefaultOptions().MaxDeviceName,
		ShutdownTimeout:    defaultShutdownTimeout,
	}
}

// Sanitize replaces invalid or missing values with defaults and normalises
// the origin list.
func (cfg Config) Sanitize() Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaults.UploadDir
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaults.MaxUploadSize
	}
	if cfg.MaxDeviceName <= 0 {
		cfg.MaxDeviceName = defaults.MaxDeviceName
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// CoordinatorOptions maps the relevant settings onto coordinator options.
func (cfg Config) CoordinatorOptions() coordinator.Options {
	opts := coordinator.DefaultOptions()
	opts.AllowGuestMessages = cfg.AllowGuestMessages
	opts.BroadcastUnresolvedFiles = cfg.BroadcastUnresolvedFiles
	opts.LegacyGlobalMessages = cfg.LegacyGlobalMessages
	opts.MaxDeviceName = cfg.MaxDeviceName
	return opts
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are given) into the process environment. Missing files are not an error
// and variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		cfg.UploadDir = dir
	}

	if maxUpload := os.Getenv("MAX_UPLOAD_SIZE"); maxUpload != "" {
		cfg.MaxUploadSize = parseInt64Value(maxUpload, cfg.MaxUploadSize)
	}

	if v := os.Getenv("ALLOW_GUEST_MESSAGES"); v != "" {
		cfg.AllowGuestMessages = parseBoolValue(v, cfg.AllowGuestMessages)
	}

	if v := os.Getenv("BROADCAST_UNRESOLVED_FILES"); v != "" {
		cfg.BroadcastUnresolvedFiles = parseBoolValue(v, cfg.BroadcastUnresolvedFiles)
	}

	if v := os.Getenv("LEGACY_GLOBAL_MESSAGES"); v != "" {
		cfg.LegacyGlobalMessages = parseBoolValue(v, cfg.LegacyGlobalMessages)
	}

	if v := os.Getenv("TRUST_PROXY"); v != "" {
		cfg.TrustProxy = parseBoolValue(v, cfg.TrustProxy)
	}

	if v := os.Getenv("MAX_DEVICE_NAME"); v != "" {
		cfg.MaxDeviceName = parseIntValue(v, cfg.MaxDeviceName)
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		cfg.ShutdownTimeout = parseSeconds(v, cfg.ShutdownTimeout)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBoolValue(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a whole number of seconds or a Go duration.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
