package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gokatarajesh/live-quiz/db/migrations"
	"github.com/gokatarajesh/live-quiz/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	for _, c := range []struct{ use, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Print migration status"},
	} {
		command := c.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				pg, err := config.LoadPostgres()
				if err != nil {
					return err
				}
				return runMigrations(cmd.Context(), pg, command)
			},
		})
	}
	return cmd
}

func runMigrations(ctx context.Context, pg config.Postgres, command string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "migrator").Logger()

	// pgx via stdlib (database/sql compatible) for goose
	db, err := sql.Open("pgx", pg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info().Str("host", pg.Host).Int("port", pg.Port).Str("database", pg.Database).Msg("connected to database")

	goose.SetBaseFS(migrations.FS)
	goose.SetTableName("goose_db_version")
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	switch command {
	case "up":
		if err := goose.UpContext(ctx, db, "."); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info().Msg("migrations applied successfully")
	case "down":
		if err := goose.DownContext(ctx, db, "."); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info().Msg("migrations rolled back successfully")
	case "status":
		if err := goose.StatusContext(ctx, db, "."); err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	return nil
}
