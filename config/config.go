/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. Environment, after loading .env if present
  3. Command-line flags

VARIABLES:
  PORT                  HTTP port (default 8080)
  DB_DRIVER             sqlite | postgres | memory (default sqlite)
  DB_PATH               SQLite path, ":memory:" allowed (default challenges.db)
  DATABASE_URL          PostgreSQL URL, required for DB_DRIVER=postgres
  LOG_LEVEL             logrus level (default info)
  LOG_FORMAT            json | text (default json)
  CATALOG_PATH          JSON challenge catalog; empty uses built-in defaults
  EVAL_TIMEOUT          per-challenge refresh timeout (default 5s)
  JOIN_RATE_PER_MINUTE  joins allowed per user per minute (default 10, 0 disables)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything cmd/server needs.
type Config struct {
	Port              int
	DBDriver          string
	DBPath            string
	DatabaseURL       string
	LogLevel          string
	LogFormat         string
	CatalogPath       string
	EvalTimeout       time.Duration
	JoinRatePerMinute float64
}

// Load reads .env (if present), the environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse(args, os.Getenv)
}

// Parse builds a Config from args with defaults taken from getenv.
func Parse(args []string, getenv func(string) string) (Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	port, err := strconv.Atoi(env("PORT", "8080"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PORT: %w", err)
	}
	evalTimeout, err := time.ParseDuration(env("EVAL_TIMEOUT", "5s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid EVAL_TIMEOUT: %w", err)
	}
	joinRate, err := strconv.ParseFloat(env("JOIN_RATE_PER_MINUTE", "10"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JOIN_RATE_PER_MINUTE: %w", err)
	}

	var cfg Config
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fs.StringVar(&cfg.DBDriver, "driver", env("DB_DRIVER", "sqlite"), "storage driver: sqlite, postgres or memory")
	fs.StringVar(&cfg.DBPath, "db", env("DB_PATH", "challenges.db"), "SQLite database path")
	fs.StringVar(&cfg.DatabaseURL, "database-url", env("DATABASE_URL", ""), "PostgreSQL connection URL")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", env("LOG_FORMAT", "json"), "log format: json or text")
	fs.StringVar(&cfg.CatalogPath, "catalog", env("CATALOG_PATH", ""), "challenge catalog JSON file")
	fs.DurationVar(&cfg.EvalTimeout, "eval-timeout", evalTimeout, "per-challenge refresh timeout")
	fs.Float64Var(&cfg.JoinRatePerMinute, "join-rate", joinRate, "joins per user per minute (0 disables)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.JoinRatePerMinute < 0 {
		return errors.New("join rate must not be negative")
	}
	return nil
}
