package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gokatarajesh/live-quiz/internal/app"
	"github.com/gokatarajesh/live-quiz/internal/config"
)

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			cfg, err := config.Load(loadCtx)
			if err != nil {
				return err
			}

			if migrate {
				if err := runMigrations(ctx, cfg.Postgres, "up"); err != nil {
					return err
				}
			}

			instance, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			return instance.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}
