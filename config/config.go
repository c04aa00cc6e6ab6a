/*
Package config loads server settings from the environment.

SOURCES (later wins):
  1. Defaults
  2. .env file, when present (never overrides variables already set)
  3. Process environment
  4. Command-line flags, applied by cmd/server

VARIABLES:
  PORT                        HTTP port (8080)
  DB_PATH                     SQLite path, ":memory:" allowed (./data/installments.db)
  LOG_LEVEL                   debug | info | warn | error (info)
  LOG_DEVELOPMENT             console encoder and stack traces on warn (false)
  TIME_ZONE                   IANA zone that defines "today" (UTC)
  ALLOW_DELETE_SETTLED_PLANS  permit deleting plans with settled installments (false)
  MAX_CONFLICT_RETRIES        retries on plan version conflicts (3)
  REDIS_ADDR                  enables the Redis plan locker when set ("")
  CORS_ORIGINS                comma-separated allowed origins (*)
*/
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

// Config holds every server setting.
type Config struct {
	Port                    int
	DBPath                  string
	LogLevel                string
	LogDevelopment          bool
	TimeZone                string
	AllowDeleteSettledPlans bool
	MaxConflictRetries      int
	RedisAddr               string
	CORSOrigins             []string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:               8080,
		DBPath:             "./data/installments.db",
		LogLevel:           "info",
		TimeZone:           "UTC",
		MaxConflictRetries: 3,
		CORSOrigins:        []string{"*"},
	}
}

// Load reads the given .env files (".env" when none are named) into the
// process environment without overriding existing variables, then builds a
// Config from the environment. Missing .env files are not an error.
// The result is not validated; apply overrides, then call Validate.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		envMap, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("failed to read %s: %w", file, err)
		}
		for k, v := range envMap {
			if _, set := os.LookupEnv(k); !set {
				os.Setenv(k, v)
			}
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from a variable lookup such as os.LookupEnv.
// Only malformed values (non-numeric PORT, non-boolean flags) are errors.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	if v, ok := lookup("PORT"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		}
		cfg.Port = n
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("LOG_DEVELOPMENT"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_DEVELOPMENT: %w", err))
		}
		cfg.LogDevelopment = b
	}
	if v, ok := lookup("TIME_ZONE"); ok && v != "" {
		cfg.TimeZone = strings.TrimSpace(v)
	}
	if v, ok := lookup("ALLOW_DELETE_SETTLED_PLANS"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("ALLOW_DELETE_SETTLED_PLANS: %w", err))
		}
		cfg.AllowDeleteSettledPlans = b
	}
	if v, ok := lookup("MAX_CONFLICT_RETRIES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_CONFLICT_RETRIES: %w", err))
		}
		cfg.MaxConflictRetries = n
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		cfg.RedisAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.CORSOrigins = splitList(v)
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and that the time zone exists.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("time zone %q: %w", c.TimeZone, err))
	}
	if c.MaxConflictRetries < 0 || c.MaxConflictRetries > 20 {
		errs = append(errs, fmt.Errorf("max conflict retries %d out of range 0..20", c.MaxConflictRetries))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone. Call Validate first.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
