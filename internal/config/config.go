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
	defaultAppName          = "BoltCard"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultPublicBaseURL    = "http://localhost:8080"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultRefreshTokenTTL  = 7 * 24 * time.Hour
	defaultSessionTTL       = 5 * time.Minute
	defaultSpendingRetain   = 48 * time.Hour
	defaultTxLimitSats      = 50_000
	defaultDayLimitSats     = 200_000
	defaultMinWithdrawable  = 1_000
	defaultTagAlgorithm     = "legacy"
	defaultJanitorSchedule  = "@every 1m"
	defaultTapRateLimit     = 30
	defaultSpendingTimezone = "UTC"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	Env             string
	Port            string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// PublicBaseURL is the externally reachable origin used to build
	// LNURL callbacks, balance links and pairing URLs.
	PublicBaseURL       string
	SessionTTL          time.Duration
	SpendingTimezone    *time.Location
	SpendingRetention   time.Duration
	DefaultTxLimitSats  int64
	DefaultDayLimitSats int64
	MinWithdrawableMsat int64
	TagAlgorithm        string
	PayloadKey          string
	JanitorSchedule     string
	TapRateLimitPerMin  int
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		Env:             strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RefreshSecret:   os.Getenv("REFRESH_SECRET"),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", defaultPublicBaseURL), "/"),
		TagAlgorithm:    strings.ToLower(getEnv("TAG_ALGORITHM", defaultTagAlgorithm)),
		PayloadKey:      os.Getenv("PAYLOAD_KEY"),
		JanitorSchedule: getEnv("JANITOR_SCHEDULE", defaultJanitorSchedule),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = durationFromEnv("ACCESS_TOKEN_TTL", defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = durationFromEnv("REFRESH_TOKEN_TTL", defaultRefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationFromEnv("WITHDRAW_SESSION_TTL", defaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.SpendingRetention, err = durationFromEnv("SPENDING_RETENTION", defaultSpendingRetain); err != nil {
		return Config{}, err
	}
	if cfg.DefaultTxLimitSats, err = int64FromEnv("DEFAULT_TX_LIMIT_SATS", defaultTxLimitSats); err != nil {
		return Config{}, err
	}
	if cfg.DefaultDayLimitSats, err = int64FromEnv("DEFAULT_DAY_LIMIT_SATS", defaultDayLimitSats); err != nil {
		return Config{}, err
	}
	if cfg.MinWithdrawableMsat, err = int64FromEnv("MIN_WITHDRAWABLE_MSAT", defaultMinWithdrawable); err != nil {
		return Config{}, err
	}
	rate, err := int64FromEnv("TAP_RATE_LIMIT", defaultTapRateLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.TapRateLimitPerMin = int(rate)

	tz := getEnv("SPENDING_TIMEZONE", defaultSpendingTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SPENDING_TIMEZONE: %w", err)
	}
	cfg.SpendingTimezone = loc

	switch cfg.TagAlgorithm {
	case "legacy", "cmac":
	default:
		return Config{}, fmt.Errorf("invalid TAG_ALGORITHM %q", cfg.TagAlgorithm)
	}

	if cfg.DefaultTxLimitSats <= 0 || cfg.DefaultDayLimitSats <= 0 {
		return Config{}, fmt.Errorf("default card limits must be positive")
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
		}
	} else {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "dev-access-secret"
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = "dev-refresh-secret"
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the application runs in a local development environment.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationFromEnv accepts either KEY_SECONDS (integer) or KEY (Go duration).
func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
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

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
