package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/aegis/internal/db"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(newMigrateUpCommand(rootOpts))
	cmd.AddCommand(newMigrateVersionCommand(rootOpts))
	cmd.AddCommand(newMigrateListCommand())
	return cmd
}

func newMigrateUpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "up",
		Short:        "Apply pending migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			database, _, logger, err := openDB(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer database.Close()

			logger.Info().Msg("running database migrations")
			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			version, err := database.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func newMigrateVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "version",
		Short:        "Show the current schema version",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, _, err := openDB(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer database.Close()

			version, err := database.CurrentVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("get schema version: %w", err)
			}
			pending, err := database.PendingMigrations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current schema version: %d (%d pending)\n", version, len(pending))
			for _, m := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "  pending %03d: %s\n", m.Version, m.Name)
			}
			return nil
		},
	}
}

func newMigrateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List embedded migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, err := db.GetMigrations()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(migrations) == 0 {
				fmt.Fprintln(out, "No migrations found")
				return nil
			}
			fmt.Fprintln(out, "Available migrations:")
			for _, m := range migrations {
				fmt.Fprintf(out, "  %03d: %s\n", m.Version, m.Name)
			}
			return nil
		},
	}
}
