// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jason-s-yu/panenka/internal/store"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	Store store.Options

	LockOnFirstBuzz bool
	PlayerTTL       time.Duration
	HostTTL         time.Duration
	TouchInterval   time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	SweepInterval   time.Duration

	AuthPrivateKeyPath string
	AuthPublicKeyPath  string

	AllowedOrigins []string
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	var (
		cfg = &Config{
			Port:               getEnv("PORT", "8080"),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			LogFormat:          getEnv("LOG_FORMAT", "text"),
			AuthPrivateKeyPath: os.Getenv("AUTH_PRIVATE_KEY_PATH"),
			AuthPublicKeyPath:  os.Getenv("AUTH_PUBLIC_KEY_PATH"),
			AllowedOrigins:     splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		}
		err error
	)

	if cfg.LockOnFirstBuzz, err = getEnvBool("LOCK_ON_FIRST_BUZZ", true); err != nil {
		return nil, err
	}
	if cfg.PlayerTTL, err = getEnvDuration("PLAYER_TTL", 180*time.Second); err != nil {
		return nil, err
	}
	if cfg.HostTTL, err = getEnvDuration("HOST_TTL", 60*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TouchInterval, err = getEnvDuration("TOUCH_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = getEnvDuration("STORE_RETRY_BACKOFF", 25*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getEnvInt("STORE_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	lockWait, err := getEnvDuration("STORE_LOCK_WAIT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Store = store.Options{
		SQLitePath:  os.Getenv("PANENKA_LOBBY_DB"),
		DatabaseURL: firstNonEmpty(os.Getenv("PANENKA_LOBBY_DB_URL"), os.Getenv("DATABASE_URL")),
		RedisURL:    os.Getenv("REDIS_URL"),
		LockWait:    lockWait,
		RedisTTL:    2 * cfg.HostTTL,
	}
	if cfg.Store.Backend, err = pickBackend(os.Getenv("LOBBY_STORE"), cfg.Store); err != nil {
		return nil, err
	}

	if (cfg.AuthPrivateKeyPath == "") != (cfg.AuthPublicKeyPath == "") {
		return nil, fmt.Errorf("config: AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH must be set together")
	}
	// lobbies in a shared or persistent store outlive the process, so their
	// host tokens must verify on every instance and after restarts
	if cfg.Store.Backend != store.BackendMemory && cfg.AuthPrivateKeyPath == "" {
		return nil, fmt.Errorf("config: AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH are required with the %s lobby store", cfg.Store.Backend)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("config: STORE_MAX_RETRIES must not be negative")
	}
	return cfg, nil
}

// pickBackend honors an explicit LOBBY_STORE, else infers one from which
// connection settings are present.
func pickBackend(explicit string, opts store.Options) (string, error) {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case store.BackendMemory:
		return store.BackendMemory, nil
	case store.BackendSQLite:
		return store.BackendSQLite, nil
	case store.BackendPostgres:
		return store.BackendPostgres, nil
	case store.BackendRedis:
		return store.BackendRedis, nil
	case "":
	default:
		return "", fmt.Errorf("config: unknown LOBBY_STORE %q", explicit)
	}

	switch {
	case opts.DatabaseURL != "":
		return store.BackendPostgres, nil
	case opts.RedisURL != "":
		return store.BackendRedis, nil
	case opts.SQLitePath != "":
		return store.BackendSQLite, nil
	}
	return store.BackendMemory, nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
