package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "EscrowLedger"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultCommissionRate = "0.1"
	defaultOrderPrefix    = "INV"
	defaultSePayBaseURL   = "https://my.sepay.vn/userapi"
	defaultSePayRate      = 2.0
	defaultReconcileSpec  = "@every 30s"
	defaultPurgeSpec      = "@every 1m"
	defaultPendingTTL     = 15 * time.Minute
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	CommissionRate string
	OrderPrefix    string

	SePayBaseURL       string
	SePayAPIToken      string
	SePayAccountNumber string
	SePayWebhookKey    string
	SePayRateLimit     float64

	ReconcileSchedule string
	PurgeSchedule     string
	PendingTTL        time.Duration
}

// Load reads configuration values from the environment and populates a Config instance. A .env
// file in the working directory is read first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		CommissionRate:     getEnv("COMMISSION_RATE", defaultCommissionRate),
		OrderPrefix:        getEnv("ORDER_PREFIX", defaultOrderPrefix),
		SePayBaseURL:       getEnv("SEPAY_BASE_URL", defaultSePayBaseURL),
		SePayAPIToken:      os.Getenv("SEPAY_API_TOKEN"),
		SePayAccountNumber: os.Getenv("SEPAY_ACCOUNT_NUMBER"),
		SePayWebhookKey:    os.Getenv("SEPAY_WEBHOOK_KEY"),
		SePayRateLimit:     defaultSePayRate,
		ReconcileSchedule:  getEnv("RECONCILE_SCHEDULE", defaultReconcileSpec),
		PurgeSchedule:      getEnv("PURGE_SCHEDULE", defaultPurgeSpec),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.PendingTTL, err = durationEnv("PENDING_TTL", defaultPendingTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("SEPAY_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return Config{}, fmt.Errorf("invalid SEPAY_RATE_LIMIT %q", v)
		}
		cfg.SePayRateLimit = rps
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads <key>_SECONDS as an integer first, then <key> as a Go duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
