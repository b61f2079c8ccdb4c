package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/portalsso/sso-server/internal/tools/admin"
	"github.com/portalsso/sso-server/internal/tools/common"
	"github.com/portalsso/sso-server/internal/tools/loadgen"
	"github.com/portalsso/sso-server/internal/tools/smoke"
)

func main() {
	opts := &admin.Options{}
	root := &cobra.Command{
		Use:           "ssoctl",
		Short:         "Operate a portal SSO deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().BoolVar(&opts.CI, "ci", false, "non-interactive machine-readable output")

	root.AddCommand(admin.NewCommands(opts)...)
	root.AddCommand(smoke.NewCommand(&opts.CI), loadgen.NewCommand(&opts.CI))

	if err := root.Execute(); err != nil {
		var exitErr *common.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
