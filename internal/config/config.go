package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port          string
	DBPath        string
	JWTSecret     string
	TokenTTL      time.Duration
	CORSOrigins   []string
	MigrationsDir string

	GroupStore string
	RedisAddr  string

	CoinsPerMinute      float64
	TickInterval        time.Duration
	DefaultFocusMinutes int
	DefaultBreakMinutes int
}

// fileConfig mirrors Config for the optional TOML file named by
// FOCUSTOWN_CONFIG. Unset keys keep their defaults.
type fileConfig struct {
	Port                *string  `toml:"port"`
	DBPath              *string  `toml:"db-path"`
	JWTSecret           *string  `toml:"jwt-secret"`
	TokenTTLHours       *int     `toml:"token-ttl-hours"`
	CORSOrigins         []string `toml:"cors-origins"`
	MigrationsDir       *string  `toml:"migrations-dir"`
	GroupStore          *string  `toml:"group-store"`
	RedisAddr           *string  `toml:"redis-addr"`
	CoinsPerMinute      *float64 `toml:"coins-per-minute"`
	TickIntervalMS      *int     `toml:"tick-interval-ms"`
	DefaultFocusMinutes *int     `toml:"default-focus-minutes"`
	DefaultBreakMinutes *int     `toml:"default-break-minutes"`
}

// Load builds the configuration from defaults, then the TOML file named by
// FOCUSTOWN_CONFIG (if any), then environment variables.
func Load() (Config, error) {
	cfg := Config{
		Port:                "8080",
		DBPath:              "./data/focustown.db",
		JWTSecret:           "change-this-secret",
		TokenTTL:            72 * time.Hour,
		CORSOrigins:         []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		MigrationsDir:       "./migrations",
		GroupStore:          "memory",
		RedisAddr:           "localhost:6379",
		CoinsPerMinute:      1,
		TickInterval:        time.Second,
		DefaultFocusMinutes: 25,
		DefaultBreakMinutes: 5,
	}

	if path := os.Getenv("FOCUSTOWN_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = time.Duration(getEnvInt("TOKEN_TTL_HOURS", int(cfg.TokenTTL/time.Hour))) * time.Hour
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.MigrationsDir = getEnv("MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.GroupStore = strings.ToLower(getEnv("GROUP_STORE", cfg.GroupStore))
	cfg.RedisAddr = strings.TrimPrefix(getEnv("REDIS_ADDR", cfg.RedisAddr), "redis://")
	cfg.CoinsPerMinute = getEnvFloat("COINS_PER_MINUTE", cfg.CoinsPerMinute)
	cfg.TickInterval = time.Duration(getEnvInt("TICK_INTERVAL_MS", int(cfg.TickInterval/time.Millisecond))) * time.Millisecond
	cfg.DefaultFocusMinutes = getEnvInt("DEFAULT_FOCUS_MINUTES", cfg.DefaultFocusMinutes)
	cfg.DefaultBreakMinutes = getEnvInt("DEFAULT_BREAK_MINUTES", cfg.DefaultBreakMinutes)

	switch cfg.GroupStore {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("unknown group store %q", cfg.GroupStore)
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("tick interval must be positive")
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var file fileConfig
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if file.Port != nil {
		cfg.Port = *file.Port
	}
	if file.DBPath != nil {
		cfg.DBPath = *file.DBPath
	}
	if file.JWTSecret != nil {
		cfg.JWTSecret = *file.JWTSecret
	}
	if file.TokenTTLHours != nil {
		cfg.TokenTTL = time.Duration(*file.TokenTTLHours) * time.Hour
	}
	if len(file.CORSOrigins) > 0 {
		cfg.CORSOrigins = file.CORSOrigins
	}
	if file.MigrationsDir != nil {
		cfg.MigrationsDir = *file.MigrationsDir
	}
	if file.GroupStore != nil {
		cfg.GroupStore = *file.GroupStore
	}
	if file.RedisAddr != nil {
		cfg.RedisAddr = *file.RedisAddr
	}
	if file.CoinsPerMinute != nil {
		cfg.CoinsPerMinute = *file.CoinsPerMinute
	}
	if file.TickIntervalMS != nil {
		cfg.TickInterval = time.Duration(*file.TickIntervalMS) * time.Millisecond
	}
	if file.DefaultFocusMinutes != nil {
		cfg.DefaultFocusMinutes = *file.DefaultFocusMinutes
	}
	if file.DefaultBreakMinutes != nil {
		cfg.DefaultBreakMinutes = *file.DefaultBreakMinutes
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
