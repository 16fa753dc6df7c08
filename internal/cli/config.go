package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the aegisctl config file",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigSetCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "show",
		Short:        "Print the effective configuration",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config_file:    %s\n", rootOpts.ConfigPath)
			fmt.Fprintf(out, "database_url:   %s\n", redactURL(cfg.DatabaseURL))
			fmt.Fprintf(out, "default_tenant: %s\n", cfg.DefaultTenant)
			fmt.Fprintf(out, "log_level:      %s\n", cfg.LogLevel)
			return nil
		},
	}
}

func newConfigSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "set <key> <value>",
		Short:        "Set database_url, default_tenant or log_level",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Read the file only, so env and flag overrides are not persisted.
			cfg, err := loadFileConfig(rootOpts)
			if err != nil {
				return err
			}

			key, value := args[0], args[1]
			switch key {
			case "database_url":
				cfg.DatabaseURL = value
			case "default_tenant":
				if _, err := uuid.Parse(value); err != nil {
					return fmt.Errorf("default_tenant must be a UUID: %w", err)
				}
				cfg.DefaultTenant = value
			case "log_level":
				if _, err := zerolog.ParseLevel(value); err != nil {
					return fmt.Errorf("invalid log_level: %w", err)
				}
				cfg.LogLevel = value
			default:
				return fmt.Errorf("unknown key %q", key)
			}

			if err := cfg.Save(rootOpts.ConfigPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", key)
			return nil
		},
	}
}
