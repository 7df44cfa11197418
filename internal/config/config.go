package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const minSessionKeyBytes = 32

type Config struct {
	// HTTP Server
	Port           string
	MaxUploadBytes int64
	CookieSecure   bool
	SessionKey     string

	// Analysis service
	BackendURL          string
	BackendTimeout      time.Duration
	BackendLoginTimeout time.Duration
	BackendRetries      int
	BackendRetryDelay   time.Duration

	// Sessions
	SessionTTL  time.Duration
	MaxSessions int

	// Abuse protection
	LoginMaxFailures  int
	LoginLockout      time.Duration
	RequestsPerMinute int

	// Activity journal (optional)
	JournalDBPath string

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string

	// Logging
	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),
		SessionKey:     getEnv("SESSION_KEY", ""),

		BackendURL:          getEnv("BACKEND_URL", "http://127.0.0.1:8000/api"),
		BackendTimeout:      getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		BackendLoginTimeout: getEnvDuration("BACKEND_LOGIN_TIMEOUT", 4*time.Second),
		BackendRetries:      getEnvInt("BACKEND_RETRIES", 2),
		BackendRetryDelay:   getEnvDuration("BACKEND_RETRY_DELAY", 200*time.Millisecond),

		SessionTTL:  getEnvDuration("SESSION_TTL", 8*time.Hour),
		MaxSessions: getEnvInt("MAX_SESSIONS", 1000),

		LoginMaxFailures:  getEnvInt("LOGIN_MAX_FAILURES", 5),
		LoginLockout:      getEnvDuration("LOGIN_LOCKOUT", 5*time.Minute),
		RequestsPerMinute: getEnvInt("REQUESTS_PER_MINUTE", 60),

		JournalDBPath: getEnv("JOURNAL_DB_PATH", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "equipviz"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate backend URL
	if c.BackendURL == "" {
		errors = append(errors, "backend URL cannot be empty")
	} else if parsedURL, err := url.Parse(c.BackendURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid backend URL '%s': %v", c.BackendURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid backend URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	} else if parsedURL.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid backend URL '%s': missing host", c.BackendURL))
	}

	// Validate backend timing
	if c.BackendTimeout < time.Second || c.BackendTimeout > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid backend timeout %v: must be between 1s and 10m", c.BackendTimeout))
	}
	if c.BackendLoginTimeout < 500*time.Millisecond || c.BackendLoginTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid backend login timeout %v: must be between 500ms and 1m", c.BackendLoginTimeout))
	}
	if c.BackendRetries < 0 || c.BackendRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid backend retries %d: must be between 0 and 10", c.BackendRetries))
	}
	if c.BackendRetryDelay <= 0 {
		errors = append(errors, fmt.Sprintf("invalid backend retry delay %v: must be positive", c.BackendRetryDelay))
	}

	// Validate sessions
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.MaxSessions < 1 {
		errors = append(errors, fmt.Sprintf("invalid max sessions %d: must be at least 1", c.MaxSessions))
	}

	// Validate session cookie key
	if c.SessionKey != "" && len(c.SessionKey) < minSessionKeyBytes {
		errors = append(errors, fmt.Sprintf("invalid session key: must be at least %d bytes", minSessionKeyBytes))
	}

	// Validate uploads
	if c.MaxUploadBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be at least 1024", c.MaxUploadBytes))
	}

	// Validate abuse protection
	if c.LoginMaxFailures < 0 {
		errors = append(errors, fmt.Sprintf("invalid login max failures %d: must not be negative", c.LoginMaxFailures))
	}
	if c.LoginMaxFailures > 0 && c.LoginLockout <= 0 {
		errors = append(errors, "login lockout must be positive when login max failures is set")
	}
	if c.RequestsPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid requests per minute %d: must be at least 1", c.RequestsPerMinute))
	}

	// Validate AMQP URL if provided
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

	// Validate log level
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// JournalEnabled reports whether activity should be written to SQLite.
func (c *Config) JournalEnabled() bool {
	return c.JournalDBPath != ""
}

// EventsEnabled reports whether activity should be published to AMQP.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
