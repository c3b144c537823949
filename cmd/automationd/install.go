package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// runInstall writes settings.json from flags so later `automationd serve`
// runs pick the configuration up without env vars.
func runInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", ":4200", "TCP listen address")
	dbPath := fs.String("db-path", "", "database path (default: ~/.clienthub-automation/automation.db)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	poolSize := fs.Int("pool-size", 8, "dispatch worker pool size")
	tickInterval := fs.String("tick-interval", "", "scheduler tick interval (default 60s)")
	mcpFlag := fs.Bool("mcp", false, "serve MCP tools on stdio")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := automationDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	cfg := Config{
		ListenAddr:   *listenAddr,
		LogLevel:     *logLevel,
		PoolSize:     *poolSize,
		TickInterval: *tickInterval,
		MCP:          *mcpFlag,
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	} else {
		cfg.DBPath = filepath.Join(dir, "automation.db")
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)
}
