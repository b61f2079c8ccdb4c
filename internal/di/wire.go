//go:build wireinject

package di

import (
	"log/slog"

	"github.com/google/wire"

	"github.com/portalsso/sso-server/internal/app"
	"github.com/portalsso/sso-server/internal/config"
	"github.com/portalsso/sso-server/internal/http/router"
	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/service"
)

var repositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewRefreshTokenRepository,
	repository.NewAuthCodeRepository,
	repository.NewClientAppRepository,
)

var serviceSet = wire.NewSet(
	service.AuthOptionsFromConfig,
	service.NewAuthService,
	service.NewAccountService,
	provideOAuthService,
	provideTokenReaper,
)

// InitializeApp builds the server. The returned cleanup closes the store clients and must run after
// App.Shutdown.
func InitializeApp(cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, func(), error) {
	wire.Build(
		provideDB,
		provideRedis,
		provideTokenCodec,
		providePasswordHasher,
		provideCookieBinder,
		providePublisher,
		repositorySet,
		serviceSet,
		provideAuthHandler,
		provideAccountHandler,
		provideReadiness,
		provideRouterDependencies,
		router.NewRouter,
		provideHTTPServer,
		provideApp,
	)
	return nil, nil, nil
}
