// Package cli implements aegisctl, the operator command line for Aegis.
package cli

import (
	"context"
	"errors"
	"net/url"
	"os"

	"github.com/MacJediWizard/aegis/internal/config"
	"github.com/MacJediWizard/aegis/internal/db"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	DatabaseURL string
	Tenant      string
	Verbose     bool
}

// NewRootCommand creates the root command for aegisctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "aegisctl",
		Short: "Aegis operator tool",
		Long:  "Operate an Aegis deployment: migrations, cron checks, schedules and incident detection.",

		// main prints the error once.
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigPath != "" {
				return nil
			}
			path, err := config.DefaultCLIPath()
			if err != nil {
				return err
			}
			opts.ConfigPath = path
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.aegis/config.yml)")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "database URL (overrides config and DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.Tenant, "tenant", "", "tenant ID (overrides default_tenant)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewCronCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSchedulesCommand(opts))
	cmd.AddCommand(NewIncidentsCommand(opts))

	return cmd
}

func loadFileConfig(opts *RootOptions) (*config.CLIConfig, error) {
	return config.LoadCLI(opts.ConfigPath)
}

// loadConfig reads the config file and layers the environment and flags on top.
func loadConfig(opts *RootOptions) (*config.CLIConfig, error) {
	cfg, err := loadFileConfig(opts)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if opts.DatabaseURL != "" {
		cfg.DatabaseURL = opts.DatabaseURL
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.CLIConfig, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if cfg != nil && cfg.LogLevel != "" {
		if l, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			level = l
		}
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// openDB connects to the configured database with a small pool.
func openDB(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*db.DB, *config.CLIConfig, zerolog.Logger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	logger := newLogger(cmd, cfg, opts.Verbose)
	if cfg.DatabaseURL == "" {
		return nil, nil, logger, errors.New("database URL required: use --database-url, DATABASE_URL or database_url in the config file")
	}

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	dbCfg.MaxConns = 5
	dbCfg.MinConns = 1

	database, err := db.New(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, logger, err
	}
	return database, cfg, logger, nil
}

// redactURL hides the password of a database URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
