package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Mode selects which binary's settings Validate checks.
type Mode int

const (
	ModeWeb Mode = iota
	ModeDevAPI
	ModeExport
	// ModeExportDryRun needs the REST backend but no Google credentials.
	ModeExportDryRun
)

type Config struct {
	// HTTP Server
	Port   string
	AppEnv string

	// REST backend
	APIURL     string
	APITimeout time.Duration

	// Query cache
	CacheStaleAfter      time.Duration
	CacheMaxEntries      int
	CacheCleanupInterval time.Duration

	// Session cookie
	SessionTTL    time.Duration
	SecureCookies bool

	// Dashboard and request limits
	DashboardMaxParallel int
	RateLimitPerMinute   int

	// Logging
	LogLevel  string
	LogFormat string

	// AMQP invalidation bus (optional)
	AMQPURL      string
	AMQPExchange string

	// Development REST backend
	DevAPIPort     string
	DevAPIDBPath   string
	DevAPISecret   string
	DevAPICurrency string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

func Load() *Config {
	appEnv := getEnv("APP_ENV", "development")
	cfg := &Config{
		Port:   getEnv("PORT", "8081"),
		AppEnv: appEnv,

		APIURL:     getEnv("FINCON_API_URL", "http://localhost:8082/api"),
		APITimeout: getEnvDuration("API_TIMEOUT", 10*time.Second),

		CacheStaleAfter:      getEnvDuration("CACHE_STALE_AFTER", time.Minute),
		CacheMaxEntries:      getEnvInt("CACHE_MAX_ENTRIES", 5000),
		CacheCleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute),

		SessionTTL:    getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		SecureCookies: getEnvBool("SECURE_COOKIES", appEnv == "production"),

		DashboardMaxParallel: getEnvInt("DASHBOARD_MAX_PARALLEL", 4),
		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fincon.invalidations"),

		DevAPIPort:     getEnv("DEVAPI_PORT", "8082"),
		DevAPIDBPath:   getEnv("DEVAPI_DB_PATH", "./data/fincon.db"),
		DevAPISecret:   getEnv("DEVAPI_SECRET", ""),
		DevAPICurrency: getEnv("DEVAPI_CURRENCY", "BRL"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Summary"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
	}

	return cfg
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks the web server settings.
func (c *Config) Validate() error {
	return c.ValidateFor(ModeWeb)
}

// ValidateFor validates the configuration for one binary and returns every
// problem found in a single error.
func (c *Config) ValidateFor(mode Mode) error {
	var errors []string

	validEnvs := []string{"development", "test", "production"}
	if !oneOf(validEnvs, c.AppEnv) {
		errors = append(errors, fmt.Sprintf("invalid app env '%s': must be one of %v", c.AppEnv, validEnvs))
	}

	validFormats := []string{"text", "json"}
	if !oneOf(validFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	switch mode {
	case ModeWeb:
		errors = append(errors, validatePort("port", c.Port)...)
		errors = append(errors, c.validateAPI()...)

		if c.CacheStaleAfter < time.Second {
			errors = append(errors, fmt.Sprintf("invalid cache stale-after %v: must be at least 1 second", c.CacheStaleAfter))
		}
		if c.CacheMaxEntries < 1 {
			errors = append(errors, fmt.Sprintf("invalid cache max entries %d: must be at least 1", c.CacheMaxEntries))
		}
		if c.CacheCleanupInterval < time.Second {
			errors = append(errors, fmt.Sprintf("invalid cache cleanup interval %v: must be at least 1 second", c.CacheCleanupInterval))
		}
		if c.SessionTTL < time.Minute {
			errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
		}
		if c.DashboardMaxParallel < 1 || c.DashboardMaxParallel > 32 {
			errors = append(errors, fmt.Sprintf("invalid dashboard parallelism %d: must be between 1 and 32", c.DashboardMaxParallel))
		}
		if c.RateLimitPerMinute < 1 {
			errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
		}

		if c.AMQPURL != "" {
			if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
				errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
			} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
				errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
			}
			if c.AMQPExchange == "" {
				errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
			}
		}

	case ModeDevAPI:
		errors = append(errors, validatePort("dev API port", c.DevAPIPort)...)
		if c.DevAPIDBPath == "" {
			errors = append(errors, "dev API database path cannot be empty")
		} else if dir := filepath.Dir(c.DevAPIDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
				}
			}
		}
		if len(c.DevAPISecret) < 16 {
			errors = append(errors, "DEVAPI_SECRET must be at least 16 characters")
		}
		if len(c.DevAPICurrency) != 3 {
			errors = append(errors, fmt.Sprintf("invalid currency '%s': must be a 3-letter ISO code", c.DevAPICurrency))
		}

	case ModeExportDryRun:
		errors = append(errors, c.validateAPI()...)

	case ModeExport:
		errors = append(errors, c.validateAPI()...)
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required for export")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required for export")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasFile && c.GoogleServiceAccountJSON == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for export")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func (c *Config) validateAPI() []string {
	var errors []string
	if parsedURL, err := url.Parse(c.APIURL); err != nil || c.APIURL == "" {
		errors = append(errors, fmt.Sprintf("invalid API URL '%s'", c.APIURL))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}
	if c.APITimeout < 100*time.Millisecond || c.APITimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be between 100ms and 2m", c.APITimeout))
	}
	return errors
}

func validatePort(name, value string) []string {
	port, err := strconv.Atoi(value)
	if err != nil {
		return []string{fmt.Sprintf("invalid %s '%s': must be a number", name, value)}
	}
	if port < 1 || port > 65535 {
		return []string{fmt.Sprintf("invalid %s %d: must be between 1 and 65535", name, port)}
	}
	return nil
}

func oneOf(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
