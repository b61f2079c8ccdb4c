package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/portalsso/sso-server/internal/service"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// WriteError is the single place service errors become HTTP responses. Anything that is not a
// service.DomainError is logged and reported as a 500 without leaking its text.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var de *service.DomainError
	if errors.As(err, &de) {
		if de.Status >= http.StatusInternalServerError && logger != nil {
			logger.ErrorContext(r.Context(), "request failed", "code", de.Code, "error", err, "path", r.URL.Path, "request_id", chimiddleware.GetReqID(r.Context()))
		}
		Error(w, r, de.Status, de.Code, de.Message, de.Details)
		return
	}
	if logger != nil {
		logger.ErrorContext(r.Context(), "unhandled error", "error", err, "path", r.URL.Path, "request_id", chimiddleware.GetReqID(r.Context()))
	}
	Error(w, r, http.StatusInternalServerError, service.ErrStoreFailure.Code, service.ErrStoreFailure.Message, nil)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
