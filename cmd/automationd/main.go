// automationd runs the ClientHub workflow automation engine: the HTTP
// API, the scheduler, and optionally an MCP stdio surface, over a libSQL
// database. Domain services default to the in-memory backend; embedding
// applications wire their own.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clienthub/automation/internal/actions"
	"github.com/clienthub/automation/internal/api"
	"github.com/clienthub/automation/internal/conditions"
	"github.com/clienthub/automation/internal/definitions"
	"github.com/clienthub/automation/internal/dispatch"
	"github.com/clienthub/automation/internal/domain/memory"
	"github.com/clienthub/automation/internal/engine"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/internal/logging"
	"github.com/clienthub/automation/internal/scheduler"
	"github.com/clienthub/automation/internal/secrets"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/internal/streaming"
	"github.com/clienthub/automation/internal/validation"
	"github.com/clienthub/automation/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "install":
			runInstall(os.Args[2:])
			return
		case "version":
			fmt.Println(version)
			return
		case "serve":
			// fall through
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (want serve, install, or version)\n", os.Args[1])
			os.Exit(1)
		}
	}
	if err := runServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg := loadConfig()

	handler := logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var vault secrets.Vault
	if cfg.VaultKey != "" {
		vault, err = secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultKey,
			Salt:       []byte("clienthub-automation"),
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
	}

	services := memory.NewFixture().Services()

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("cel engine: %w", err)
	}
	evaluator := conditions.NewEvaluator(cel, expressions.NewExprEngine(), expressions.NewGoJQEngine())

	executor, err := actions.NewExecutor(actions.ExecutorConfig{
		Services:  &services,
		Interp:    expressions.NewInterpolator(vault),
		Evaluator: evaluator,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}

	hub := streaming.NewMemoryHub()
	eng, err := engine.New(engine.Config{
		Store:     st,
		Executor:  executor,
		Evaluator: evaluator,
		Services:  &services,
		Hub:       hub,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Store:    st,
		Engine:   eng,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}
	defs, err := definitions.New(definitions.Config{Store: st, Validator: validator, Logger: logger})
	if err != nil {
		return fmt.Errorf("definitions: %w", err)
	}

	schedCfg := scheduler.Config{
		Store:      st,
		Engine:     eng,
		Dispatcher: dispatcher,
		Services:   &services,
		Logger:     logger,
	}
	if cfg.TickInterval != "" {
		interval, parseErr := time.ParseDuration(cfg.TickInterval)
		if parseErr != nil {
			return fmt.Errorf("tick_interval: %w", parseErr)
		}
		schedCfg.Interval = interval
	}
	sched, err := scheduler.New(schedCfg)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	apiServer := api.NewServer(api.Deps{
		Store:       st,
		Engine:      eng,
		Dispatcher:  dispatcher,
		Definitions: defs,
		Hub:         hub,
		Logger:      logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http api listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	mcpCtx, stopMCP := context.WithCancel(ctx)
	defer stopMCP()
	if cfg.MCP {
		mcpServer := mcp.NewAutomationServer(mcp.AutomationServerDeps{
			Store:       st,
			Engine:      eng,
			Dispatcher:  dispatcher,
			Definitions: defs,
			Hub:         hub,
			Logger:      logger,
		})
		go func() {
			logger.Info("mcp serving on stdio")
			if err := mcpServer.Serve(mcpCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server error", "error", err.Error())
	}

	stopMCP()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown", "error", err.Error())
	}
	return nil
}
