package di

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/portalsso/sso-server/internal/app"
	"github.com/portalsso/sso-server/internal/config"
	"github.com/portalsso/sso-server/internal/database"
	"github.com/portalsso/sso-server/internal/event"
	"github.com/portalsso/sso-server/internal/health"
	"github.com/portalsso/sso-server/internal/http/handler"
	"github.com/portalsso/sso-server/internal/http/middleware"
	"github.com/portalsso/sso-server/internal/http/router"
	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
	"github.com/portalsso/sso-server/internal/service"
)

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			logger.Error("close database", "error", err)
		}
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(db); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return db, cleanup, nil
}

// provideRedis returns nil when REDIS_ADDR is unset; the rate limiters then stay in-process.
func provideRedis(cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error("close redis", "error", err)
		}
	}
}

func provideTokenCodec(cfg *config.Config) (*security.TokenCodec, error) {
	return security.NewTokenCodec(cfg.JWTIssuer, cfg.SessionTokenSecret, cfg.AccessTokenSecret, cfg.SessionTokenTTL, cfg.AccessTokenTTL)
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost)
}

func provideCookieBinder(cfg *config.Config) *security.CookieBinder {
	return security.NewCookieBinder(cfg.CookieDomain, cfg.IsProduction(), cfg.RefreshTokenTTL(), cfg.SessionTokenTTL)
}

func providePublisher(cfg *config.Config) event.Publisher {
	return event.NewPublisher(cfg.KafkaBrokers, cfg.KafkaAuthEventsTopic, cfg.KafkaPublishTimeout)
}

// provideOAuthService yields a nil interface, not a typed nil, when Google login is off.
func provideOAuthService(cfg *config.Config, auth *service.AuthService, logger *slog.Logger) service.OAuthServiceInterface {
	if !cfg.AuthGoogleEnabled {
		return nil
	}
	provider := service.NewGoogleOAuthProvider(cfg.GoogleOAuthClientID, cfg.GoogleOAuthClientSecret, cfg.GoogleRedirectURL())
	return service.NewOAuthService(provider, auth, logger)
}

func provideAuthHandler(
	cfg *config.Config,
	auth *service.AuthService,
	oauth service.OAuthServiceInterface,
	cookies *security.CookieBinder,
	logger *slog.Logger,
) *handler.AuthHandler {
	return handler.NewAuthHandler(auth, oauth, cookies, cfg.PortalFrontendURL, cfg.GoogleErrorURL(), logger)
}

func provideAccountHandler(accounts *service.AccountService, logger *slog.Logger) *handler.AccountHandler {
	return handler.NewAccountHandler(accounts, logger)
}

func provideReadiness(db *gorm.DB, redisClient redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if redisClient != nil {
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}
	return health.NewProbeRunner(2*time.Second, time.Second, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	accountHandler *handler.AccountHandler,
	codec *security.TokenCodec,
	users repository.UserRepository,
	readiness *health.ProbeRunner,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
) router.Dependencies {
	dep := router.Dependencies{
		AuthHandler:      authHandler,
		AccountHandler:   accountHandler,
		TokenCodec:       codec,
		Users:            users,
		Logger:           logger,
		CORSOrigins:      cfg.CORSAllowedOrigins,
		CSRFEnabled:      cfg.CSRFEnabled,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
	if redisClient != nil {
		mode := middleware.FailClosed
		if cfg.RateLimitFailOpen {
			mode = middleware.FailOpen
		}
		limiter := middleware.NewRedisFixedWindowLimiter(redisClient, "sso:rl")
		dep.GlobalRateLimiter = middleware.NewDistributedRateLimiter(limiter, cfg.APIRateLimitRPM, time.Minute, mode, "api", logger).Middleware()
		dep.AuthRateLimiter = middleware.NewDistributedRateLimiter(limiter, cfg.AuthRateLimitRPM, time.Minute, mode, "auth", logger).Middleware()
	}
	return dep
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideTokenReaper(cfg *config.Config, tokens repository.RefreshTokenRepository, codes repository.AuthCodeRepository, logger *slog.Logger) *service.TokenReaper {
	return service.NewTokenReaper(tokens, codes, cfg.TokenReaperInterval, logger)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	publisher event.Publisher,
	runtime *observability.Runtime,
	reaper *service.TokenReaper,
) *app.App {
	return app.New(cfg, logger, server, publisher, runtime, reaper)
}
