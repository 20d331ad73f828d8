package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// ExecuteContext runs the CLI with ctx as the command context.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "live-quiz",
		Short:         "Multi-instance live quiz coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}
