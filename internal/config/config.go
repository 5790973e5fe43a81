package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Storage
	DataDir   string
	SchemaDir string

	// Request signing
	RequireSignature bool
	SecretFile       string
	Secret           []byte

	// Listing cache
	ListCacheTTL  time.Duration
	ListCacheSize int

	// AMQP events, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	LogLevel string

	secretErr error
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DataDir:   getEnv("DATA_DIR", "./data"),
		SchemaDir: getEnv("SCHEMA_DIR", "./schemata"),

		RequireSignature: getEnvBool("REQUIRE_SIGNATURE", true),
		SecretFile:       getEnv("SHARED_SECRET_FILE", ""),

		ListCacheTTL:  getEnvDuration("LIST_CACHE_TTL", 30*time.Second),
		ListCacheSize: getEnvInt("LIST_CACHE_SIZE", 128),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budgetapp"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_events"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	cfg.Secret, cfg.secretErr = resolveSecret(os.Getenv("SHARED_SECRET"), cfg.SecretFile)
	return cfg
}

// resolveSecret prefers the inline value and falls back to the file, whose
// trailing newline is dropped.
func resolveSecret(inline, file string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read shared secret file: %w", err)
	}
	return []byte(strings.TrimRight(string(raw), "\r\n")), nil
}

// EventsEnabled reports whether expense events are published.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DataDir == "" {
		errors = append(errors, "data directory cannot be empty")
	}
	if c.SchemaDir == "" {
		errors = append(errors, "schema directory cannot be empty")
	}

	if c.secretErr != nil {
		errors = append(errors, c.secretErr.Error())
	} else if c.RequireSignature && len(c.Secret) == 0 {
		errors = append(errors, "shared secret is required when signatures are enforced: set SHARED_SECRET or SHARED_SECRET_FILE")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	isValidLevel := false
	for _, level := range validLevels {
		if strings.EqualFold(c.LogLevel, level) {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if c.ListCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid list cache TTL %v: must not be negative", c.ListCacheTTL))
	}
	if c.ListCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid list cache size %d: must be at least 1", c.ListCacheSize))
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
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
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
