package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Cache backend constants
const (
	CacheTypeMemory     = "memory"
	CacheTypeRedis      = "redis"
	CacheTypeRedisAside = "redis-aside"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

type Config struct {
	// Server settings
	ServerAddr   string
	BaseURL      string
	IsProduction bool

	// Token signing
	JWTSecret              string
	AccessTokenExpiration  time.Duration
	AuthCodeExpiration     time.Duration
	RefreshTokenExpiration time.Duration
	// RefreshGraceWindow bounds how long an already-rotated refresh token is
	// still accepted, to absorb duplicate retries from flaky clients.
	RefreshGraceWindow time.Duration

	// Authorization flow
	SilentAuthEnabled bool // allow prompt=none code issuance without consent UI
	ConsentRemember   bool // skip consent page when scopes were already granted

	// Browser session settings
	SessionSecret      string
	SessionMaxAge      int // seconds
	SessionIdleTimeout time.Duration

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	// Redis (rate limiting + cache backends)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Proxy upstreams
	OpenAIBaseURL      string
	OpenAIAPIKey       string
	AnthropicBaseURL   string
	AnthropicAPIKey    string
	AnthropicVersion   string
	ProxyTimeout       time.Duration // per-request upstream timeout (0 = none, streaming)
	ProxyMaxRetries    int           // retries for idempotent calls (/v1/models only)
	ProxyRetryDelay    time.Duration
	ProxyMaxRetryDelay time.Duration

	// Identity cache on the proxy hot path
	IdentityCacheType string // "memory", "redis" or "redis-aside"
	IdentityCacheTTL  time.Duration

	// Rate limiting
	EnableRateLimit    bool
	RateLimitStore     string // "memory" or "redis"
	LoginRateLimit     int    // requests per minute
	TokenRateLimit     int
	ProxyRateLimit     int
	RateLimitCleanup   time.Duration
	MetricsEnabled     bool
	MetricsToken       string
	GaugeUpdateEnabled bool
	GaugeUpdateEvery   time.Duration

	// Housekeeping
	CredentialCleanupInterval time.Duration
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", "echogate.db")
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		IsProduction: getEnvBool("PRODUCTION", false),

		JWTSecret:              getEnv("JWT_SECRET", "your-256-bit-secret-change-in-production"),
		AccessTokenExpiration:  getEnvDuration("ACCESS_TOKEN_EXPIRATION", time.Hour),
		AuthCodeExpiration:     getEnvDuration("AUTH_CODE_EXPIRATION", 5*time.Minute),
		RefreshTokenExpiration: getEnvDuration("REFRESH_TOKEN_EXPIRATION", 720*time.Hour),
		RefreshGraceWindow:     getEnvDuration("REFRESH_GRACE_WINDOW", 2*time.Minute),

		SilentAuthEnabled: getEnvBool("SILENT_AUTH_ENABLED", false),
		ConsentRemember:   getEnvBool("CONSENT_REMEMBER", true),

		SessionSecret:      getEnv("SESSION_SECRET", "session-secret-change-in-production"),
		SessionMaxAge:      getEnvInt("SESSION_MAX_AGE", 3600),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicBaseURL:   getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicVersion:   getEnv("ANTHROPIC_VERSION", "2023-06-01"),
		ProxyTimeout:       getEnvDuration("PROXY_TIMEOUT", 0),
		ProxyMaxRetries:    getEnvInt("PROXY_MAX_RETRIES", 3),
		ProxyRetryDelay:    getEnvDuration("PROXY_RETRY_DELAY", time.Second),
		ProxyMaxRetryDelay: getEnvDuration("PROXY_MAX_RETRY_DELAY", 10*time.Second),

		IdentityCacheType: getEnv("IDENTITY_CACHE_TYPE", CacheTypeMemory),
		IdentityCacheTTL:  getEnvDuration("IDENTITY_CACHE_TTL", 30*time.Second),

		EnableRateLimit:  getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:   getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		LoginRateLimit:   getEnvInt("LOGIN_RATE_LIMIT", 10),
		TokenRateLimit:   getEnvInt("TOKEN_RATE_LIMIT", 60),
		ProxyRateLimit:   getEnvInt("PROXY_RATE_LIMIT", 120),
		RateLimitCleanup: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute),

		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		MetricsToken:       getEnv("METRICS_TOKEN", ""),
		GaugeUpdateEnabled: getEnvBool("METRICS_GAUGE_UPDATE_ENABLED", true),
		GaugeUpdateEvery:   getEnvDuration("METRICS_GAUGE_UPDATE_INTERVAL", time.Minute),

		CredentialCleanupInterval: getEnvDuration("CREDENTIAL_CLEANUP_INTERVAL", time.Hour),
	}
}

// Validate checks configuration invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be: sqlite, postgres)", c.DatabaseDriver)
	}
	if c.DatabaseDriver == "postgres" && c.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required when DATABASE_DRIVER=postgres")
	}
	if c.IsProduction && c.JWTSecret == "your-256-bit-secret-change-in-production" {
		return errors.New("JWT_SECRET must be changed in production")
	}
	if c.AuthCodeExpiration <= 0 || c.AccessTokenExpiration <= 0 {
		return errors.New("token expirations must be positive")
	}
	if c.RefreshGraceWindow < 0 {
		return errors.New("REFRESH_GRACE_WINDOW must not be negative")
	}
	switch c.IdentityCacheType {
	case CacheTypeMemory, CacheTypeRedis, CacheTypeRedisAside:
	default:
		return fmt.Errorf(
			"invalid IDENTITY_CACHE_TYPE: %s (must be: memory, redis, redis-aside)",
			c.IdentityCacheType,
		)
	}
	switch c.RateLimitStore {
	case RateLimitStoreMemory, RateLimitStoreRedis:
	default:
		return fmt.Errorf(
			"invalid RATE_LIMIT_STORE: %s (must be: memory, redis)",
			c.RateLimitStore,
		)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
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
