/*
Package config loads the server configuration.

PRECEDENCE (lowest to highest):
  1. Defaults()
  2. YAML file (--config / ECHELON_CONFIG)
  3. .env file in the working directory, if present
  4. ECHELON_* environment variables
  5. Command-line flags (applied by cmd/server)

EXAMPLE echelon.yaml:
  port: 8080
  dbPath: ./data/echelon.db
  logLevel: debug
  scheduler:
    enabled: true
    interval: 6h
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const envPrefix = "echelon"

type Config struct {
	Port           int       `yaml:"port"           split_words:"true"`
	DBPath         string    `yaml:"dbPath"         split_words:"true"`
	LogLevel       string    `yaml:"logLevel"       split_words:"true"`
	LogJSON        bool      `yaml:"logJSON"        split_words:"true"`
	AllowedOrigins []string  `yaml:"allowedOrigins" split_words:"true"`
	MetricsEnabled bool      `yaml:"metricsEnabled" split_words:"true"`
	Scheduler      Scheduler `yaml:"scheduler"`
}

type Scheduler struct {
	Enabled  bool          `yaml:"enabled"  split_words:"true"`
	Interval time.Duration `yaml:"interval" split_words:"true"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Port:           8080,
		DBPath:         "echelon.db",
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		MetricsEnabled: true,
		Scheduler: Scheduler{
			Enabled:  true,
			Interval: time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("ECHELON_CONFIG")
	}
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and parses the log level.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("dbPath is required")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("invalid scheduler interval %s", c.Scheduler.Interval)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Logger builds the root logger. Console output unless LogJSON is set.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if !c.LogJSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
