package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/portalsso/sso-server/internal/health"
	"github.com/portalsso/sso-server/internal/http/handler"
	"github.com/portalsso/sso-server/internal/http/middleware"
	"github.com/portalsso/sso-server/internal/http/response"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
)

const maxBodyBytes = 1 << 20

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	AccountHandler   *handler.AccountHandler
	TokenCodec       *security.TokenCodec
	Users            repository.UserRepository
	Logger           *slog.Logger
	CORSOrigins      []string
	CSRFEnabled      bool
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	// Nil limiters fall back to in-process windows sized by the RPM fields.
	GlobalRateLimiter func(http.Handler) http.Handler
	AuthRateLimiter   func(http.Handler) http.Handler
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

func NewRouter(dep Dependencies) http.Handler {
	logger := dep.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger(logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute, "auth").Middleware()
	}
	csrf := middleware.CSRFMiddleware(dep.CSRFEnabled)
	requireAuth := middleware.AuthMiddleware(dep.TokenCodec, dep.Users, logger)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(authLimiter)
		r.Post("/login", dep.AuthHandler.Login)
		r.Get("/authorize", dep.AuthHandler.Authorize)
		r.Post("/token", dep.AuthHandler.Token)
		r.Get("/google/login", dep.AuthHandler.GoogleLogin)
		r.Get("/google/callback", dep.AuthHandler.GoogleCallback)
		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Post("/refresh", dep.AuthHandler.Refresh)
			r.Delete("/logout", dep.AuthHandler.Logout)
		})
	})

	r.Route("/api/me", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", dep.AccountHandler.Me)
		r.Get("/apps", dep.AccountHandler.MyApps)
		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Patch("/", dep.AccountHandler.UpdateMe)
			r.Patch("/password", dep.AccountHandler.ChangePassword)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
