package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr string

	StoreDriver string
	RedisURL    string
	DatabaseURL string
	GameTTL     time.Duration // opt-in Redis retention; 0 keeps records forever

	ArchiveEnabled bool
	SecureCookies  bool

	TokenSecret string
	TokenTTL    time.Duration

	CASMaxAttempts   int
	AllocAttempts    int
	PollInterval     time.Duration
	Heartbeat        time.Duration
	StreamMaxLife    time.Duration
	WriteTimeout     time.Duration
	AbandonAfter     time.Duration
	SeatHold         time.Duration
	JanitorInterval  time.Duration
	MessagesDir      string
	RateLimitRPS     float64
	RateLimitBurst   int
	AllowedOrigins   []string
	BoardSquareSize  int
	ShutdownDeadline time.Duration
}

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads an optional .env file (ENV_FILE, default ".env") and then the
// process environment.
func Load() (*AppConfig, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		StoreDriver:      DriverRedis,
		TokenTTL:         7 * 24 * time.Hour,
		CASMaxAttempts:   5,
		AllocAttempts:    10,
		PollInterval:     250 * time.Millisecond,
		Heartbeat:        15 * time.Second,
		StreamMaxLife:    30 * time.Minute,
		WriteTimeout:     10 * time.Second,
		AbandonAfter:     30 * time.Minute,
		SeatHold:         3 * time.Minute,
		JanitorInterval:  time.Minute,
		RateLimitRPS:     5,
		RateLimitBurst:   10,
		BoardSquareSize:  64,
		ShutdownDeadline: 10 * time.Second,
	}

	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := env("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.TokenSecret = env("TOKEN_SECRET")
	cfg.MessagesDir = env("MESSAGES_DIR")

	if v := env("ARCHIVE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("ARCHIVE_ENABLED: %w", err)
		}
		cfg.ArchiveEnabled = b
	}

	if v := env("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("COOKIE_SECURE: %w", err)
		}
		cfg.SecureCookies = b
	}

	if v := env("ALLOWED_ORIGINS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CAS_MAX_ATTEMPTS", &cfg.CASMaxAttempts},
		{"ALLOC_ATTEMPTS", &cfg.AllocAttempts},
		{"RATE_LIMIT_BURST", &cfg.RateLimitBurst},
		{"BOARD_SQUARE_PX", &cfg.BoardSquareSize},
	}
	for _, it := range ints {
		if v := env(it.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%s must be a positive integer", it.key)
			}
			*it.dst = n
		}
	}

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"POLL_INTERVAL_MS", time.Millisecond, &cfg.PollInterval},
		{"HEARTBEAT_SEC", time.Second, &cfg.Heartbeat},
		{"STREAM_MAX_LIFETIME_SEC", time.Second, &cfg.StreamMaxLife},
		{"WRITE_TIMEOUT_SEC", time.Second, &cfg.WriteTimeout},
		{"ABANDON_AFTER_SEC", time.Second, &cfg.AbandonAfter},
		{"SEAT_HOLD_SEC", time.Second, &cfg.SeatHold},
		{"JANITOR_INTERVAL_SEC", time.Second, &cfg.JanitorInterval},
		{"GAME_TTL_SEC", time.Second, &cfg.GameTTL},
		{"TOKEN_TTL_SEC", time.Second, &cfg.TokenTTL},
		{"SHUTDOWN_TIMEOUT_SEC", time.Second, &cfg.ShutdownDeadline},
	}
	for _, d := range durations {
		if v := env(d.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%s must be a non-negative integer", d.key)
			}
			// 0은 비활성화 (janitor, lifetime, seat hold, retention)
			*d.dst = time.Duration(n) * d.unit
		}
	}

	if v := env("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, errors.New("RATE_LIMIT_RPS must be a non-negative number")
		}
		cfg.RateLimitRPS = f
	}

	switch cfg.StoreDriver {
	case DriverRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for STORE_DRIVER=redis")
		}
	case DriverPostgres, DriverSQLite:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=%s", cfg.StoreDriver)
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.ArchiveEnabled && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required when ARCHIVE_ENABLED=true")
	}

	return cfg, nil
}

// ArchiveDriver picks the SQL driver for DATABASE_URL. With the redis store
// it is inferred from the DSN.
func (c *AppConfig) ArchiveDriver() string {
	switch c.StoreDriver {
	case DriverSQLite, DriverPostgres:
		return c.StoreDriver
	}
	if strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://") ||
		strings.Contains(c.DatabaseURL, "host=") {
		return DriverPostgres
	}
	return DriverSQLite
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
