package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrEnvFile    = errors.New("load env file")
	ErrParse      = errors.New("parse config")
	ErrValidation = errors.New("validate config")
)

var knownProfiles = map[string]struct{}{
	"development": {},
	"test":        {},
	"staging":     {},
	"production":  {},
}

var (
	validationCounterOnce sync.Once
	validationCounter     metric.Int64Counter
)

// recordValidation emits config.validation.events{profile,outcome,error_class} for one Load call.
// The meter is resolved lazily so the count lands on whichever provider is global at the time.
func recordValidation(ctx context.Context, appEnv string, err error) {
	validationCounterOnce.Do(func() {
		if c, cerr := otel.Meter("portal-sso").Int64Counter("config.validation.events"); cerr == nil {
			validationCounter = c
		}
	})
	if validationCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	validationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profileLabel(appEnv)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass(err)),
	))
}

// profileLabel keeps the attribute cardinality bounded to the known APP_ENV values.
func profileLabel(appEnv string) string {
	v := strings.ToLower(strings.TrimSpace(appEnv))
	if v == "" {
		return "unset"
	}
	if _, ok := knownProfiles[v]; ok {
		return v
	}
	return "other"
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrEnvFile):
		return "env_file"
	default:
		return "load"
	}
}
