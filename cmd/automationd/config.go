package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all automationd configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr   string `json:"listen_addr"`
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level"`
	PoolSize     int    `json:"pool_size"`
	TickInterval string `json:"tick_interval"` // scheduler tick, e.g. "60s"
	MCP          bool   `json:"mcp"`           // serve MCP tools on stdio
	VaultKey     string `json:"-"`             // passphrase, env only, never persisted
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     filepath.Join(automationDir(), "automation.db"),
		LogLevel:   "info",
		PoolSize:   8,
	}
}

func automationDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clienthub-automation"
	}
	return filepath.Join(home, ".clienthub-automation")
}

func settingsPath() string {
	return filepath.Join(automationDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AUTOMATION_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("AUTOMATION_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AUTOMATION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTOMATION_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("AUTOMATION_TICK_INTERVAL"); v != "" {
		cfg.TickInterval = v
	}
	if v := os.Getenv("AUTOMATION_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}
	cfg.VaultKey = os.Getenv("AUTOMATION_VAULT_KEY")

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch s {
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
