// Copyright 2026 The AuthGrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Token         TokenConfig
	Security      SecurityConfig
	Email         EmailConfig
	AuthzCache    AuthzCacheConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig

	// Debug relaxes transport hardening (no HSTS) and enables the
	// log-only email sender when SMTP is not configured.
	Debug bool
	// Production enables audit sampling.
	Production bool
	// DefaultOrgID, when set, is assigned to every new registration.
	DefaultOrgID string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds cache connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TokenConfig holds JWT signing configuration
type TokenConfig struct {
	// SecretKey signs every JWT. At least 32 bytes.
	SecretKey string
	Issuer    string
	Audience  string
	// LoginURL is where unauthenticated authorize requests are sent.
	LoginURL   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// AdvertisedScopes is published in discovery metadata.
	AdvertisedScopes []string
}

// SecurityConfig holds secret-material configuration
type SecurityConfig struct {
	// EncryptionKey protects TOTP secrets at rest. Exactly 32 bytes.
	EncryptionKey string
	// TOTPIssuer is the label shown in authenticator apps.
	TOTPIssuer string
}

// EmailConfig holds SMTP configuration. An empty host selects the
// log-only sender in debug mode.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
}

// AuthzCacheConfig toggles the decision cache tiers
type AuthzCacheConfig struct {
	L1Enabled bool
	L2Enabled bool
	TTL       time.Duration
}

// AuditConfig holds the async audit pipeline knobs
type AuditConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	SampleRate    float64
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// devSecretPatterns are substrings that mark a secret as a development
// placeholder. Outside debug mode such secrets refuse to start.
var devSecretPatterns = []string{
	"dev_",
	"change_in_prod",
	"example",
	"test_",
	"demo_",
	"localhost",
	"password",
	"secret",
	"default",
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "authgrid"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "authgrid"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: parseInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
		},
		Token: TokenConfig{
			SecretKey:        getEnv("JWT_SECRET_KEY", ""),
			Issuer:           getEnv("TOKEN_ISSUER", "http://localhost:8080"),
			Audience:         getEnv("TOKEN_AUDIENCE", "authgrid"),
			LoginURL:         getEnv("LOGIN_URL", "/login"),
			AccessTTL:        parseDuration("ACCESS_TOKEN_TTL", "15m"),
			RefreshTTL:       parseDuration("REFRESH_TOKEN_TTL", "720h"),
			AdvertisedScopes: splitList(getEnv("ADVERTISED_SCOPES", "")),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			TOTPIssuer:    getEnv("TOTP_ISSUER", "AuthGrid"),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     parseInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("SMTP_FROM", "no-reply@authgrid.local"),
		},
		AuthzCache: AuthzCacheConfig{
			L1Enabled: parseBool("AUTHZ_CACHE_ENABLED", true),
			L2Enabled: parseBool("AUTHZ_L2_CACHE_ENABLED", true),
			TTL:       parseDuration("AUTHZ_CACHE_TTL", "300s"),
		},
		Audit: AuditConfig{
			BufferSize:    parseInt("AUDIT_BUFFER_SIZE", 1000),
			BatchSize:     parseInt("AUDIT_BATCH_SIZE", 10),
			FlushInterval: parseDuration("AUDIT_FLUSH_INTERVAL", "5s"),
			MaxRetries:    parseInt("AUDIT_MAX_RETRIES", 3),
			SampleRate:    parseFloat("AUDIT_SAMPLE_RATE", 0.1),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "authgrid"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		Debug:        parseBool("DEBUG", false),
		Production:   parseBool("PRODUCTION", false),
		DefaultOrgID: getEnv("DEFAULT_ORGANIZATION_ID", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if len(c.Token.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes, got %d", len(c.Token.SecretKey))
	}
	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.Security.EncryptionKey))
	}
	if !c.Debug {
		if err := checkDevSecret("JWT_SECRET_KEY", c.Token.SecretKey); err != nil {
			return err
		}
		if err := checkDevSecret("ENCRYPTION_KEY", c.Security.EncryptionKey); err != nil {
			return err
		}
		if err := checkDevSecret("DB_PASSWORD", c.Database.Password); err != nil {
			return err
		}
	}
	if c.Audit.SampleRate < 0 || c.Audit.SampleRate > 1 {
		return fmt.Errorf("AUDIT_SAMPLE_RATE must be between 0 and 1, got %g", c.Audit.SampleRate)
	}
	return nil
}

// checkDevSecret rejects placeholder secrets outside debug mode. The error
// carries only a redacted preview so logs never leak the value.
func checkDevSecret(name, value string) error {
	lower := strings.ToLower(value)
	for _, pattern := range devSecretPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("%s looks like a development placeholder (%s), refusing to start outside debug mode", name, redact(value))
		}
	}
	return nil
}

// redact keeps just enough of a secret to recognize it in an error message.
func redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", len(value)-4)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
