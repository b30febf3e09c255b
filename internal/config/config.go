// Package config loads all runtime configuration from environment variables.
// No config files and no third-party config framework are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for SchoolHub.
type Config struct {
	HTTP    HTTPConfig
	DB      DBConfig
	Redis   RedisConfig
	Log     LogConfig
	Session SessionConfig
	OTP     OTPConfig
	Notify  NotifyConfig
	Limit   RateLimitConfig
	App     AppConfig
	Worker  WorkerConfig
	OTel    OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "schoolhub.db")
	MaxConns int    // Postgres only
	// SlowQuery is the threshold above which GORM logs a statement at warn.
	SlowQuery time.Duration
}

// RedisConfig selects the ephemeral key-value store. An empty URL keeps
// challenges and sessions in process memory.
type RedisConfig struct {
	URL    string
	Prefix string
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// SessionConfig holds bearer token signing and session lifetimes.
type SessionConfig struct {
	Secret   string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	TTL      time.Duration
	AdminTTL time.Duration
}

// OTPConfig holds one-time code settings.
type OTPConfig struct {
	LoginTTL       time.Duration
	AdminTTL       time.Duration
	SignupTTL      time.Duration
	IssueRate      float64 // tokens per second, per challenge key
	IssueBurst     int
	TestMode       bool
	TestBypassCode string //nolint:gosec // test-only fixed code, rejected outside OTP_TEST_MODE
}

// NotifyConfig selects how one-time codes are delivered.
type NotifyConfig struct {
	Mode         string // "log" (default), "smtp" or "queue"
	SMTPAddr     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string //nolint:gosec // intentional: SMTP credential loaded from env
}

// RateLimitConfig bounds per-client request rates on the auth endpoints.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// AppConfig holds application-level settings such as seed credentials.
type AppConfig struct {
	SeedAdminEmail    string
	SeedAdminPassword string
	SeedOrgName       string
	SeedOrgDomain     string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "schoolhub.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)
	if cfg.DB.SlowQuery, err = envDuration("DB_SLOW_QUERY", 200*time.Millisecond); err != nil {
		return nil, err
	}

	// Redis
	cfg.Redis.URL = os.Getenv("REDIS_URL")
	cfg.Redis.Prefix = envStr("REDIS_PREFIX", "schoolhub")

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// Session (secret required)
	cfg.Session.Secret = os.Getenv("JWT_SECRET")
	if cfg.Session.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Session.TTL, err = envDuration("SESSION_TTL", 12*time.Hour); err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	if cfg.Session.AdminTTL, err = envDuration("ADMIN_SESSION_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("ADMIN_SESSION_TTL: %w", err)
	}

	// OTP
	if cfg.OTP.LoginTTL, err = envDuration("OTP_LOGIN_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("OTP_LOGIN_TTL: %w", err)
	}
	if cfg.OTP.AdminTTL, err = envDuration("OTP_ADMIN_TTL", 3*time.Minute); err != nil {
		return nil, fmt.Errorf("OTP_ADMIN_TTL: %w", err)
	}
	if cfg.OTP.SignupTTL, err = envDuration("OTP_SIGNUP_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("OTP_SIGNUP_TTL: %w", err)
	}
	cfg.OTP.IssueRate = envFloat("OTP_ISSUE_RATE", 0.2)
	cfg.OTP.IssueBurst = envInt("OTP_ISSUE_BURST", 3)
	cfg.OTP.TestMode = envBool("OTP_TEST_MODE", false)
	cfg.OTP.TestBypassCode = os.Getenv("OTP_TEST_BYPASS_CODE")
	if cfg.OTP.TestBypassCode != "" {
		if !cfg.OTP.TestMode {
			return nil, errors.New("OTP_TEST_BYPASS_CODE requires OTP_TEST_MODE=true")
		}
		if !sixDigits(cfg.OTP.TestBypassCode) {
			return nil, errors.New("OTP_TEST_BYPASS_CODE must be exactly 6 digits")
		}
	}

	// Notify
	cfg.Notify.Mode = envStr("NOTIFY_MODE", "log")
	cfg.Notify.SMTPAddr = os.Getenv("SMTP_ADDR")
	cfg.Notify.SMTPFrom = os.Getenv("SMTP_FROM")
	cfg.Notify.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.Notify.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	switch cfg.Notify.Mode {
	case "log":
	case "smtp":
		if cfg.Notify.SMTPAddr == "" || cfg.Notify.SMTPFrom == "" {
			return nil, errors.New("SMTP_ADDR and SMTP_FROM are required when NOTIFY_MODE=smtp")
		}
	case "queue":
		if cfg.DB.Driver != "postgres" {
			return nil, errors.New("NOTIFY_MODE=queue requires DB_DRIVER=postgres")
		}
		if cfg.Notify.SMTPAddr == "" || cfg.Notify.SMTPFrom == "" {
			return nil, errors.New("SMTP_ADDR and SMTP_FROM are required when NOTIFY_MODE=queue")
		}
	default:
		return nil, fmt.Errorf("NOTIFY_MODE: unknown mode %q", cfg.Notify.Mode)
	}

	// Rate limiting
	cfg.Limit.RPS = envFloat("AUTH_RATE_LIMIT_RPS", 5)
	cfg.Limit.Burst = envInt("AUTH_RATE_LIMIT_BURST", 10)

	// App
	cfg.App.SeedAdminEmail = envStr("SEED_ADMIN_EMAIL", "admin@schoolhub.local")
	cfg.App.SeedAdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")
	cfg.App.SeedOrgName = os.Getenv("SEED_ORG_NAME")
	cfg.App.SeedOrgDomain = os.Getenv("SEED_ORG_DOMAIN")

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func sixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
