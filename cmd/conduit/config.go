package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the demo runtime configuration.
// Priority: env vars > defaults.
type Config struct {
	DBPath       string
	LogLevel     string
	PoolSize     int
	ManifestPath string
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(conduitDir(), "conduit.db"),
		LogLevel: "info",
		PoolSize: 4,
	}
}

func conduitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conduit"
	}
	return filepath.Join(home, ".conduit")
}

func loadConfig() Config {
	cfg := defaultConfig()

	if v := os.Getenv("CONDUIT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONDUIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONDUIT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("CONDUIT_MANIFEST"); v != "" {
		cfg.ManifestPath = v
	}

	return cfg
}

func (c Config) slogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
