package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "kiln.db"
	defaultMaxWorkers = 4
	defaultQueueDepth = 16
	defaultEpochDelay = 200 * time.Millisecond

	envListenAddr = "KILN_LISTEN_ADDR"
	envDBPath     = "KILN_DB_PATH"
	envLogLevel   = "KILN_LOG_LEVEL"
	envMaxWorkers = "KILN_MAX_WORKERS"
	envQueueDepth = "KILN_QUEUE_DEPTH"
	envEpochDelay = "KILN_EPOCH_DELAY_MS"
	envConfigFile = "KILN_CONFIG_FILE"
)

// Config holds application configuration. Values come from an optional YAML
// config file, with environment variables taking precedence, and defaults
// filling the rest.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	// MaxWorkers bounds the number of concurrently executing jobs.
	MaxWorkers int
	// QueueDepth bounds the number of accepted jobs waiting for a worker.
	QueueDepth int
	// EpochDelay is the simulated wall-clock cost per training epoch.
	EpochDelay time.Duration
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	DBPath       string `yaml:"db_path"`
	LogLevel     string `yaml:"log_level"`
	MaxWorkers   int    `yaml:"max_workers"`
	QueueDepth   int    `yaml:"queue_depth"`
	EpochDelayMS int    `yaml:"epoch_delay_ms"`
}

// Load reads configuration from the optional config file and environment
// variables, with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		MaxWorkers: defaultMaxWorkers,
		QueueDepth: defaultQueueDepth,
		EpochDelay: defaultEpochDelay,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if cfg.MaxWorkers < 1 {
		return Config{}, fmt.Errorf("max workers must be at least 1, got %d", cfg.MaxWorkers)
	}
	if cfg.QueueDepth < 1 {
		return Config{}, fmt.Errorf("queue depth must be at least 1, got %d", cfg.QueueDepth)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.MaxWorkers != 0 {
		c.MaxWorkers = fc.MaxWorkers
	}
	if fc.QueueDepth != 0 {
		c.QueueDepth = fc.QueueDepth
	}
	if fc.EpochDelayMS != 0 {
		c.EpochDelay = time.Duration(fc.EpochDelayMS) * time.Millisecond
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envMaxWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxWorkers = n
		}
	}
	if v := os.Getenv(envQueueDepth); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.QueueDepth = n
		}
	}
	if v := os.Getenv(envEpochDelay); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.EpochDelay = time.Duration(n) * time.Millisecond
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
