package observability

import (
	"context"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
		"remote_ip", r.RemoteAddr,
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}

func RequestIDFromContext(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}
