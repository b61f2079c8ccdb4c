package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portalsso/sso-server/internal/config"
	"github.com/portalsso/sso-server/internal/event"
	"github.com/portalsso/sso-server/internal/observability"
)

// BackgroundTask runs until its context is cancelled.
type BackgroundTask interface {
	Run(ctx context.Context) error
}

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Tasks           []BackgroundTask
	Publisher       event.Publisher
	Observability   *observability.Runtime
	ShutdownTimeout time.Duration
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	publisher event.Publisher,
	runtime *observability.Runtime,
	tasks ...BackgroundTask,
) *App {
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Tasks:           tasks,
		Publisher:       publisher,
		Observability:   runtime,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves HTTP and the background tasks until ctx is cancelled or one of them fails, then
// drains the server.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, task := range a.Tasks {
		task := task
		g.Go(func() error { return task.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Shutdown closes the publisher and flushes telemetry. Every step runs even when an earlier one
// fails. The store clients are released by the injector's cleanup.
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.shutdownTimeout())
	defer cancel()

	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	errs = append(errs, a.Observability.Shutdown(ctx))
	err := errors.Join(errs...)
	if err != nil {
		a.Logger.Error("shutdown finished with errors", "error", err)
	} else {
		a.Logger.Info("shutdown complete")
	}
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.ShutdownTimeout > 0 {
		return a.ShutdownTimeout
	}
	return 20 * time.Second
}
