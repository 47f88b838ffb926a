// Package config has the configuration file for the app
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port              string
	Address           string
	Env               string
	LogLevel          string
	LogDir            string
	LogRetentionWeeks int   // Number of weeks to keep log files
	MaxLogFileSize    int64 // Maximum log file size in bytes
	MaxRequestBody    int64 // Maximum request body size in bytes
	MaxHeaderSize     int64 // Maximum header size in bytes

	NamingRegistryURL      string
	PackagingRegistryURL   string
	RegistryTimeout        time.Duration
	NamingRateLimit        int // Upstream requests per second allowed against the naming registry
	PackagingRateLimit     int // Upstream requests per second allowed against the packaging registry
	NamingCacheCapacity    int
	PackagingCacheCapacity int
	NamingCacheTTL         time.Duration
	PackagingCacheTTL      time.Duration
	StaleCacheTTL          time.Duration // How long expired entries stay usable as a degraded answer

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerTimeout   time.Duration

	FallbackEnabled  bool // Whether unparseable directions go to the text-understanding service
	FallbackEndpoint string
	FallbackModel    string
	FallbackAPIKey   string
	FallbackTimeout  time.Duration

	MaxPacks    int
	MaxOverfill float64 // Allowed overfill as a fraction of the computed quantity
}

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnvWithDefault("PORT", "8000"),
		Address:           getEnvWithDefault("ADDRESS", "127.0.0.1"),
		Env:               getEnvWithDefault("ENV", "dev"),
		LogLevel:          getEnvWithDefault("LOG_LEVEL", "info"),
		LogDir:            getEnvWithDefault("LOG_DIR", "logs"),
		LogRetentionWeeks: getIntEnvWithDefault("LOG_RETENTION_WEEKS", 4),         // 4 weeks default
		MaxLogFileSize:    getInt64EnvWithDefault("MAX_LOG_FILE_SIZE", 104857600), // 100MB default
		MaxRequestBody:    getInt64EnvWithDefault("MAX_REQUEST_BODY", 1048576),    // 1MB default
		MaxHeaderSize:     getInt64EnvWithDefault("MAX_HEADER_SIZE", 1048576),     // 1MB default

		NamingRegistryURL:      getEnvWithDefault("NAMING_REGISTRY_URL", "http://localhost:8081"),
		PackagingRegistryURL:   getEnvWithDefault("PACKAGING_REGISTRY_URL", "http://localhost:8082"),
		RegistryTimeout:        time.Duration(getIntEnvWithDefault("REGISTRY_TIMEOUT_SECONDS", 10)) * time.Second,
		NamingRateLimit:        getIntEnvWithDefault("NAMING_RATE_LIMIT", 10),
		PackagingRateLimit:     getIntEnvWithDefault("PACKAGING_RATE_LIMIT", 10),
		NamingCacheCapacity:    getIntEnvWithDefault("NAMING_CACHE_CAPACITY", 1024),
		PackagingCacheCapacity: getIntEnvWithDefault("PACKAGING_CACHE_CAPACITY", 1024),
		NamingCacheTTL:         time.Duration(getIntEnvWithDefault("NAMING_CACHE_TTL_MINUTES", 60)) * time.Minute,
		PackagingCacheTTL:      time.Duration(getIntEnvWithDefault("PACKAGING_CACHE_TTL_MINUTES", 1440)) * time.Minute,
		StaleCacheTTL:          time.Duration(getIntEnvWithDefault("STALE_CACHE_TTL_HOURS", 48)) * time.Hour,

		RetryMaxAttempts: getIntEnvWithDefault("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   time.Duration(getIntEnvWithDefault("RETRY_BASE_DELAY_MS", 100)) * time.Millisecond,
		RetryMaxDelay:    time.Duration(getIntEnvWithDefault("RETRY_MAX_DELAY_MS", 2000)) * time.Millisecond,
		BreakerTimeout:   time.Duration(getIntEnvWithDefault("BREAKER_TIMEOUT_SECONDS", 30)) * time.Second,

		FallbackEnabled:  getBoolEnvWithDefault("FALLBACK_ENABLED", false),
		FallbackEndpoint: getEnvWithDefault("FALLBACK_ENDPOINT", ""),
		FallbackModel:    getEnvWithDefault("FALLBACK_MODEL", "gpt-4o-mini"),
		FallbackAPIKey:   getEnvWithDefault("FALLBACK_API_KEY", ""),
		FallbackTimeout:  time.Duration(getIntEnvWithDefault("FALLBACK_TIMEOUT_SECONDS", 15)) * time.Second,

		MaxPacks:    getIntEnvWithDefault("MAX_PACKS", 3),
		MaxOverfill: getFloatEnvWithDefault("MAX_OVERFILL", 0.1),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	// Validate PORT
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}

	// Validate ADDRESS
	if err := validateAddress(cfg.Address); err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}

	// Validate ENV
	if err := validateEnv(cfg.Env); err != nil {
		return fmt.Errorf("invalid ENV: %w", err)
	}

	// Validate LOG_LEVEL
	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	// Validate MAX_REQUEST_BODY
	if err := validateSizeLimit(cfg.MaxRequestBody, "MAX_REQUEST_BODY"); err != nil {
		return fmt.Errorf("invalid MAX_REQUEST_BODY: %w", err)
	}

	// Validate MAX_HEADER_SIZE
	if err := validateSizeLimit(cfg.MaxHeaderSize, "MAX_HEADER_SIZE"); err != nil {
		return fmt.Errorf("invalid MAX_HEADER_SIZE: %w", err)
	}

	// Validate LOG_RETENTION_WEEKS
	if err := validateLogRetentionWeeks(cfg.LogRetentionWeeks); err != nil {
		return fmt.Errorf("invalid LOG_RETENTION_WEEKS: %w", err)
	}

	// Validate MAX_LOG_FILE_SIZE
	if err := validateMaxLogFileSize(cfg.MaxLogFileSize); err != nil {
		return fmt.Errorf("invalid MAX_LOG_FILE_SIZE: %w", err)
	}

	// Validate registry endpoints
	if err := validateRegistryURL(cfg.NamingRegistryURL, "NAMING_REGISTRY_URL"); err != nil {
		return err
	}
	if err := validateRegistryURL(cfg.PackagingRegistryURL, "PACKAGING_REGISTRY_URL"); err != nil {
		return err
	}

	// Validate registry client tuning
	if err := validateRateLimit(cfg.NamingRateLimit, "NAMING_RATE_LIMIT"); err != nil {
		return err
	}
	if err := validateRateLimit(cfg.PackagingRateLimit, "PACKAGING_RATE_LIMIT"); err != nil {
		return err
	}
	if err := validateCacheCapacity(cfg.NamingCacheCapacity, "NAMING_CACHE_CAPACITY"); err != nil {
		return err
	}
	if err := validateCacheCapacity(cfg.PackagingCacheCapacity, "PACKAGING_CACHE_CAPACITY"); err != nil {
		return err
	}
	if err := validateCacheTTLs(cfg); err != nil {
		return err
	}
	if err := validateRetrySettings(cfg); err != nil {
		return err
	}
	if err := validateBreakerTimeout(cfg.BreakerTimeout); err != nil {
		return err
	}

	// Validate fallback settings
	if err := validateFallback(cfg); err != nil {
		return err
	}

	// Validate pack selection bounds
	if err := validateMaxPacks(cfg.MaxPacks); err != nil {
		return err
	}
	if err := validateMaxOverfill(cfg.MaxOverfill); err != nil {
		return err
	}

	return nil
}

// validatePort validates the PORT environment variable
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	// Check for privileged ports
	if portNum < 1024 {
		return fmt.Errorf("PORT %d is privileged (less than 1024), use ports 1024-65535", portNum)
	}

	return nil
}

// validateAddress validates the ADDRESS environment variable
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ADDRESS cannot be empty")
	}

	// Check for localhost/loopback addresses first
	if address == "127.0.0.1" || address == "::1" || address == "localhost" {
		// This is acceptable for development
		return nil
	}

	// Check if it's a valid IP address
	if ip := net.ParseIP(address); ip == nil {
		return fmt.Errorf("ADDRESS must be a valid IP address or 'localhost', got: %s", address)
	}

	// Check for private network ranges (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16)
	ip := net.ParseIP(address)
	if ip != nil && !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("ADDRESS %s is a public IP, consider using private network ranges for security", address)
	}

	return nil
}

// validateEnv validates the ENV environment variable
func validateEnv(env string) error {
	if env == "" {
		return fmt.Errorf("ENV cannot be empty")
	}

	validEnvs := []string{"dev", "staging", "prod", "test"}
	env = strings.ToLower(env)

	for _, validEnv := range validEnvs {
		if env == validEnv {
			return nil
		}
	}

	return fmt.Errorf("ENV must be one of: %v, got: %s", validEnvs, env)
}

// validateLogLevel validates the LOG_LEVEL environment variable
func validateLogLevel(logLevel string) error {
	if logLevel == "" {
		return fmt.Errorf("LOG_LEVEL cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	logLevel = strings.ToLower(logLevel)

	for _, level := range validLevels {
		if logLevel == level {
			return nil
		}
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

// validateSizeLimit validates size limit configuration values
func validateSizeLimit(size int64, configName string) error {
	if size <= 0 {
		return fmt.Errorf("%s must be positive, got: %d", configName, size)
	}

	if size > 100*1024*1024 { // 100MB
		return fmt.Errorf("%s is too large (max 100MB), got: %d bytes", configName, size)
	}

	return nil
}

// validateLogRetentionWeeks validates the LOG_RETENTION_WEEKS environment variable
func validateLogRetentionWeeks(weeks int) error {
	if weeks <= 0 {
		return fmt.Errorf("LOG_RETENTION_WEEKS must be positive, got: %d", weeks)
	}

	if weeks > 52 { // 1 year maximum
		return fmt.Errorf("LOG_RETENTION_WEEKS is too large (max 52 weeks), got: %d", weeks)
	}

	return nil
}

// validateMaxLogFileSize validates the MAX_LOG_FILE_SIZE environment variable
func validateMaxLogFileSize(size int64) error {
	if size <= 0 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE must be positive, got: %d", size)
	}

	// Minimum 1MB, maximum 1GB
	if size < 1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too small (min 1MB), got: %d bytes", size)
	}

	if size > 1024*1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too large (max 1GB), got: %d bytes", size)
	}

	return nil
}

// validateRegistryURL validates a registry base URL environment variable
func validateRegistryURL(raw, configName string) error {
	if raw == "" {
		return fmt.Errorf("invalid %s: cannot be empty", configName)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", configName, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https, got: %s", configName, parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: missing host, got: %s", configName, raw)
	}

	return nil
}

// validateRateLimit validates a per-registry request quota
func validateRateLimit(limit int, configName string) error {
	if limit < 1 {
		return fmt.Errorf("invalid %s: must be at least 1, got: %d", configName, limit)
	}

	if limit > 1000 {
		return fmt.Errorf("invalid %s: is too large (max 1000 requests per second), got: %d", configName, limit)
	}

	return nil
}

// validateCacheCapacity validates a registry cache entry limit
func validateCacheCapacity(capacity int, configName string) error {
	if capacity < 16 {
		return fmt.Errorf("invalid %s: must be at least 16 entries, got: %d", configName, capacity)
	}

	if capacity > 1048576 {
		return fmt.Errorf("invalid %s: is too large (max 1048576 entries), got: %d", configName, capacity)
	}

	return nil
}

// validateCacheTTLs checks each freshness window and keeps the stale
// window at least as long as both of them
func validateCacheTTLs(cfg *Config) error {
	if cfg.NamingCacheTTL < time.Minute {
		return fmt.Errorf("invalid NAMING_CACHE_TTL_MINUTES: must be at least 1 minute, got: %s", cfg.NamingCacheTTL)
	}

	if cfg.PackagingCacheTTL < time.Minute {
		return fmt.Errorf("invalid PACKAGING_CACHE_TTL_MINUTES: must be at least 1 minute, got: %s", cfg.PackagingCacheTTL)
	}

	if cfg.StaleCacheTTL < cfg.NamingCacheTTL || cfg.StaleCacheTTL < cfg.PackagingCacheTTL {
		return fmt.Errorf("invalid STALE_CACHE_TTL_HOURS: must cover both freshness windows (naming %s, packaging %s), got: %s",
			cfg.NamingCacheTTL, cfg.PackagingCacheTTL, cfg.StaleCacheTTL)
	}

	return nil
}

// validateRetrySettings validates the retry attempt and delay bounds
func validateRetrySettings(cfg *Config) error {
	if cfg.RetryMaxAttempts < 1 || cfg.RetryMaxAttempts > 10 {
		return fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: must be between 1 and 10, got: %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryBaseDelay <= 0 {
		return fmt.Errorf("invalid RETRY_BASE_DELAY_MS: must be positive, got: %s", cfg.RetryBaseDelay)
	}

	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return fmt.Errorf("invalid RETRY_MAX_DELAY_MS: must be at least the base delay %s, got: %s",
			cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}

	return nil
}

// validateBreakerTimeout validates the BREAKER_TIMEOUT_SECONDS environment variable
func validateBreakerTimeout(timeout time.Duration) error {
	if timeout < time.Second {
		return fmt.Errorf("invalid BREAKER_TIMEOUT_SECONDS: must be at least 1 second, got: %s", timeout)
	}

	if timeout > 10*time.Minute {
		return fmt.Errorf("invalid BREAKER_TIMEOUT_SECONDS: is too large (max 10 minutes), got: %s", timeout)
	}

	return nil
}

// validateFallback checks the text-understanding service settings when
// the fallback is turned on
func validateFallback(cfg *Config) error {
	if !cfg.FallbackEnabled {
		return nil
	}

	if cfg.FallbackEndpoint == "" {
		return fmt.Errorf("invalid FALLBACK_ENDPOINT: required when FALLBACK_ENABLED is true")
	}

	parsed, err := url.Parse(cfg.FallbackEndpoint)
	if err != nil {
		return fmt.Errorf("invalid FALLBACK_ENDPOINT: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid FALLBACK_ENDPOINT: scheme must be http or https, got: %s", parsed.Scheme)
	}

	if cfg.FallbackModel == "" {
		return fmt.Errorf("invalid FALLBACK_MODEL: cannot be empty when FALLBACK_ENABLED is true")
	}

	if cfg.FallbackTimeout < time.Second {
		return fmt.Errorf("invalid FALLBACK_TIMEOUT_SECONDS: must be at least 1 second, got: %s", cfg.FallbackTimeout)
	}

	return nil
}

// validateMaxPacks validates the MAX_PACKS environment variable
func validateMaxPacks(packs int) error {
	if packs < 1 {
		return fmt.Errorf("invalid MAX_PACKS: must be at least 1, got: %d", packs)
	}

	if packs > 10 {
		return fmt.Errorf("invalid MAX_PACKS: is too large (max 10), got: %d", packs)
	}

	return nil
}

// validateMaxOverfill validates the MAX_OVERFILL environment variable
func validateMaxOverfill(overfill float64) error {
	if overfill <= 0 {
		return fmt.Errorf("invalid MAX_OVERFILL: must be positive, got: %g", overfill)
	}

	if overfill > 0.5 {
		return fmt.Errorf("invalid MAX_OVERFILL: is too large (max 0.5), got: %g", overfill)
	}

	return nil
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvWithDefault gets an environment variable as int with a default value
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getInt64EnvWithDefault gets an environment variable as int64 with a default value
func getInt64EnvWithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnvWithDefault gets an environment variable as float64 with a default value
func getFloatEnvWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getBoolEnvWithDefault gets an environment variable as bool with a default value
func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvVars returns a list of all expected environment variables
func GetEnvVars() []string {
	return []string{
		"PORT",
		"ADDRESS",
		"ENV",
		"LOG_LEVEL",
		"LOG_DIR",
		"LOG_RETENTION_WEEKS",
		"MAX_LOG_FILE_SIZE",
		"MAX_REQUEST_BODY",
		"MAX_HEADER_SIZE",
		"NAMING_REGISTRY_URL",
		"PACKAGING_REGISTRY_URL",
		"REGISTRY_TIMEOUT_SECONDS",
		"NAMING_RATE_LIMIT",
		"PACKAGING_RATE_LIMIT",
		"NAMING_CACHE_CAPACITY",
		"PACKAGING_CACHE_CAPACITY",
		"NAMING_CACHE_TTL_MINUTES",
		"PACKAGING_CACHE_TTL_MINUTES",
		"STALE_CACHE_TTL_HOURS",
		"RETRY_MAX_ATTEMPTS",
		"RETRY_BASE_DELAY_MS",
		"RETRY_MAX_DELAY_MS",
		"BREAKER_TIMEOUT_SECONDS",
		"FALLBACK_ENABLED",
		"FALLBACK_ENDPOINT",
		"FALLBACK_MODEL",
		"FALLBACK_API_KEY",
		"FALLBACK_TIMEOUT_SECONDS",
		"MAX_PACKS",
		"MAX_OVERFILL",
	}
}

// ValidateAllEnvVars checks if all required environment variables are set
func ValidateAllEnvVars() error {
	requiredVars := []string{"PORT"} // Only PORT is truly required
	missingVars := []string{}

	for _, varName := range requiredVars {
		if os.Getenv(varName) == "" {
			missingVars = append(missingVars, varName)
		}
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}
