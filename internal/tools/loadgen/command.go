package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/portalsso/sso-server/internal/tools/common"
	"github.com/portalsso/sso-server/internal/tools/ui"
)

// NewCommand builds the loadgen subcommand. ci points at the shared --ci flag.
func NewCommand(ci *bool) *cobra.Command {
	var (
		cfg        Config
		maxFailPct float64
	)
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate sign-in traffic against a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task := func(ctx context.Context) ([]string, error) {
				res, err := Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := res.Summary()
				if res.TotalRequests > 0 {
					pct := float64(res.Failures) * 100 / float64(res.TotalRequests)
					if pct > maxFailPct {
						return details, fmt.Errorf("failure rate %.1f%% above %.1f%%", pct, maxFailPct)
					}
				}
				return details, nil
			}
			var (
				details []string
				err     error
			)
			if *ci {
				details, err = task(context.Background())
				common.PrintCIResult(err == nil, "loadgen", details, err)
			} else {
				details, err = ui.Run("loadgen "+normalizeProfile(cfg.Profile), task)
			}
			return common.Exit(common.ExitCheckFailed, err)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", "http://localhost:4000", "sso-server base URL")
	f.StringVar(&cfg.Profile, "profile", ProfileMixed, "traffic profile: auth, exchange or mixed")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to generate traffic")
	f.IntVar(&cfg.RPS, "rps", 20, "requests per second across all workers")
	f.IntVar(&cfg.Concurrency, "concurrency", 4, "parallel browser sessions")
	f.StringVar(&cfg.Email, "email", "admin@example.com", "account used by every session")
	f.StringVar(&cfg.Password, "password", "admin123", "password for --email")
	f.StringVar(&cfg.ClientID, "client-id", "app_feedback", "client app id")
	f.StringVar(&cfg.ClientSecret, "client-secret", "secret_key_feedback", "client app secret")
	f.StringVar(&cfg.RedirectURI, "redirect-uri", "http://localhost:3001/api/auth/callback", "redirect URI passed to authorize")
	f.Int64Var(&cfg.Seed, "seed", 42, "random seed for the mixed profile")
	f.Float64Var(&maxFailPct, "max-failure-pct", 1, "fail the command above this failure percentage")
	return cmd
}
