// Package admin holds the ssoctl subcommands that work directly against the store.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/portalsso/sso-server/internal/config"
	"github.com/portalsso/sso-server/internal/database"
	"github.com/portalsso/sso-server/internal/observability"
	"github.com/portalsso/sso-server/internal/repository"
	"github.com/portalsso/sso-server/internal/security"
	"github.com/portalsso/sso-server/internal/seed"
	"github.com/portalsso/sso-server/internal/service"
	"github.com/portalsso/sso-server/internal/tools/common"
	"github.com/portalsso/sso-server/internal/tools/ui"
)

type Options struct {
	EnvFile string
	CI      bool
}

type store struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *slog.Logger
}

type storeTask func(ctx context.Context, s *store) ([]string, error)

func NewCommands(opts *Options) []*cobra.Command {
	return []*cobra.Command{
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newReapCommand(opts),
		newGrantCommand(opts),
	}
}

func newMigrateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "migrate", func(ctx context.Context, s *store) ([]string, error) {
				if err := database.Migrate(s.db.WithContext(ctx)); err != nil {
					return nil, err
				}
				return []string{"driver=" + s.cfg.DBDriver, "schema up to date"}, nil
			})
		},
	}
}

func newSeedCommand(opts *Options) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load roles, divisions, units, the bundled client app and the admin account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "seed", func(ctx context.Context, s *store) ([]string, error) {
				if migrate {
					if err := database.Migrate(s.db.WithContext(ctx)); err != nil {
						return nil, err
					}
				}
				res, err := seed.NewSeeder(s.db, security.NewPasswordHasher(s.cfg.BcryptCost), s.logger).Run(ctx)
				if err != nil {
					return nil, err
				}
				return []string{
					fmt.Sprintf("roles=%d divisions=%d units=%d", res.Roles, res.Divisions, res.Units),
					fmt.Sprintf("client_apps=%d grants=%d", res.ClientApps, res.Grants),
					"admin=" + seed.AdminEmail + " id=" + res.AdminID,
				}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run migrations before seeding")
	return cmd
}

func newReapCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete revoked or expired refresh tokens and expired authorization codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "reap", func(ctx context.Context, s *store) ([]string, error) {
				reaper := service.NewTokenReaper(
					repository.NewRefreshTokenRepository(s.db),
					repository.NewAuthCodeRepository(s.db),
					0, s.logger,
				)
				res, err := reaper.RunOnce(ctx)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("refresh_tokens=%d auth_codes=%d", res.RefreshTokens, res.AuthCodes)}, nil
			})
		},
	}
}

func newGrantCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <email> <client_id>",
		Short: "Allow a user to sign in to a client app",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, clientID := args[0], args[1]
			return execute(opts, "grant", func(ctx context.Context, s *store) ([]string, error) {
				return grant(ctx, repository.NewUserRepository(s.db), repository.NewClientAppRepository(s.db), email, clientID)
			})
		},
	}
}

func grant(ctx context.Context, users repository.UserRepository, clients repository.ClientAppRepository, email, clientID string) ([]string, error) {
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", email, err)
	}
	app, err := clients.FindByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("find client app %s: %w", clientID, err)
	}
	already, err := clients.HasAccess(ctx, user.ID, app.ID)
	if err != nil {
		return nil, err
	}
	if already {
		return []string{fmt.Sprintf("%s already has access to %s", user.Email, app.Name)}, nil
	}
	if err := clients.GrantAccess(ctx, user.ID, app.ID); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("granted %s access to %s", user.Email, app.Name)}, nil
}

// execute loads configuration, opens the store and runs task behind the spinner, or plainly with
// a JSON result line when --ci is set. Failures come back as *common.ExitError.
func execute(opts *Options, title string, task storeTask) error {
	if err := common.LoadEnvFile(opts.EnvFile); err != nil {
		return report(opts, title, nil, common.Exit(common.ExitConfig, err), false)
	}
	cfg, err := config.Load()
	if err != nil {
		return report(opts, title, nil, common.Exit(common.ExitConfig, err), false)
	}
	db, err := database.Open(cfg)
	if err != nil {
		return report(opts, title, nil, common.Exit(common.ExitStore, err), false)
	}
	defer func() { _ = database.Close(db) }()

	s := &store{cfg: cfg, db: db, logger: observability.NewLogger(os.Stderr, cfg.LogLevel, nil)}
	fn := func(ctx context.Context) ([]string, error) { return task(ctx, s) }

	var details []string
	if opts.CI {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		details, err = fn(ctx)
	} else {
		details, err = ui.Run(title, fn)
	}
	return report(opts, title, details, common.Exit(common.ExitStore, err), !opts.CI)
}

// report emits the CI line, or prints err when the spinner has not already shown it.
func report(opts *Options, title string, details []string, err error, shown bool) error {
	switch {
	case opts.CI:
		common.PrintCIResult(err == nil, title, details, err)
	case err != nil && !shown:
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}
