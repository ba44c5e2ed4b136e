package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSessionSecretLen is the minimum accepted length of MARKS_SESSION_SECRET.
const MinSessionSecretLen = 32

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	PublicURL       string        // externally visible base URL, used for OAuth redirects

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Sessions & sign-in
	SessionSecret      string        // HMAC key for session tokens
	SessionTTL         time.Duration // lifetime of a session token (default: 24h)
	CookieSecure       bool          // mark cookies Secure (enable behind HTTPS)
	DevLogin           bool          // enable the "dev" provider (email-only sign-in)
	GoogleClientID     string        // optional, enables the "google" provider
	GoogleClientSecret string        // required when GoogleClientID is set

	// Clients
	ClientIdleTTL time.Duration // close device clients idle for longer than this (default: 30m)
	GCInterval    time.Duration // interval of the idle client sweep (default: 1m)

	// Rate limiting on mutating routes
	RateBurst        int // bucket size per IP
	RateRefillPerMin int // tokens added per IP per minute

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict infra endpoints to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("MARKS_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("MARKS_SHUTDOWN_TIMEOUT", 5*time.Second),
		PublicURL:       strings.TrimRight(requireEnv("MARKS_PUBLIC_URL"), "/"),

		// Logging
		LogLevel:  getenv("MARKS_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MARKS_PRETTY_LOG", true),

		// Sessions
		SessionSecret:      requireEnv("MARKS_SESSION_SECRET"),
		SessionTTL:         mustDuration("MARKS_SESSION_TTL", 24*time.Hour),
		CookieSecure:       mustBool("MARKS_COOKIE_SECURE", false),
		DevLogin:           mustBool("MARKS_DEV_LOGIN", false),
		GoogleClientID:     getenv("MARKS_GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getenv("MARKS_GOOGLE_CLIENT_SECRET", ""),

		// Clients
		ClientIdleTTL: mustDuration("MARKS_CLIENT_IDLE_TTL", 30*time.Minute),
		GCInterval:    mustDuration("MARKS_GC_INTERVAL", time.Minute),

		RateBurst:        getenvInt("MARKS_RATE_BURST", 30),
		RateRefillPerMin: getenvInt("MARKS_RATE_REFILL_PER_MIN", 120),

		// Redis settings
		RedisAddr:             requireEnv("MARKS_REDIS_ADDR"),
		RedisUser:             getenv("MARKS_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("MARKS_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("MARKS_REDIS_PASSWORD", ""),
		RedisDB:               requireEnvInt("MARKS_REDIS_DB"),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("MARKS_ALLOWED_HOSTS", "")),
		AllowedCIDRS: splitAndTrim(getenv("MARKS_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("MARKS_TRUST_PROXY", true),
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Validate checks cross-field constraints that single env helpers cannot.
func (c *Config) Validate() error {
	if c.RedisPasswordRequired && c.RedisPassword == "" {
		return fmt.Errorf("MARKS_REDIS_PASSWORD is required when MARKS_REDIS_PASSWORD_REQUIRED=true")
	}
	if len(c.SessionSecret) < MinSessionSecretLen {
		return fmt.Errorf("MARKS_SESSION_SECRET must be at least %d bytes", MinSessionSecretLen)
	}
	if c.GoogleClientID != "" && c.GoogleClientSecret == "" {
		return fmt.Errorf("MARKS_GOOGLE_CLIENT_SECRET is required when MARKS_GOOGLE_CLIENT_ID is set")
	}
	if !c.DevLogin && c.GoogleClientID == "" {
		return fmt.Errorf("no sign-in provider configured: set MARKS_GOOGLE_CLIENT_ID or MARKS_DEV_LOGIN=true")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	cp.RedisPassword = "***REDACTED***"
	cp.SessionSecret = "***REDACTED***"
	if cp.GoogleClientSecret != "" {
		cp.GoogleClientSecret = "***REDACTED***"
	}
	if cp.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
