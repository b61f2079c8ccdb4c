package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/portalsso/sso-server/internal/config"
	"github.com/portalsso/sso-server/internal/di"
	"github.com/portalsso/sso-server/internal/observability"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sso-server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lp, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, lp)
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, lp, logger)
	if err != nil {
		return err
	}

	application, cleanup, err := di.InitializeApp(cfg, logger, runtime)
	if err != nil {
		_ = runtime.Shutdown(context.Background())
		return fmt.Errorf("initialize app: %w", err)
	}

	logger.Info("sso-server starting", "addr", cfg.HTTPAddr, "env", cfg.AppEnv, "db_driver", cfg.DBDriver)
	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	cleanup()
	return runErr
}
