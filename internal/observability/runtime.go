package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/portalsso/sso-server/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

func InitRuntime(ctx context.Context, cfg *config.Config, lp *sdklog.LoggerProvider, logger *slog.Logger) (*Runtime, error) {
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx))
	}
	return &Runtime{MeterProvider: mp, TracerProvider: tp, LoggerProvider: lp}, nil
}

// Shutdown flushes and stops every configured provider. A nil Runtime is a no-op.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	type shutdowner interface{ Shutdown(context.Context) error }
	var errs []error
	for _, step := range []struct {
		name string
		p    shutdowner
		ok   bool
	}{
		{"metrics", r.MeterProvider, r.MeterProvider != nil},
		{"tracing", r.TracerProvider, r.TracerProvider != nil},
		{"logs", r.LoggerProvider, r.LoggerProvider != nil},
	} {
		if !step.ok {
			continue
		}
		if err := step.p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s provider: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}
