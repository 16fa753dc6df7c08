package cli

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/aegis/internal/backup"
	"github.com/spf13/cobra"
)

// NewCronCommand creates the cron command group.
func NewCronCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Check backup cron expressions",
	}
	cmd.AddCommand(newCronValidateCommand())
	cmd.AddCommand(newCronNextCommand())
	return cmd
}

func newCronValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "validate <expr>",
		Short:        "Validate a five-field cron expression",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := backup.ParseCron(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid: %s\n", spec)
			return nil
		},
	}
}

func newCronNextCommand() *cobra.Command {
	var (
		count int
		from  string
	)

	cmd := &cobra.Command{
		Use:          "next <expr>",
		Short:        "Print the next run times of a cron expression (UTC)",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > 100 {
				return fmt.Errorf("--count must be between 1 and 100, got %d", count)
			}
			spec, err := backup.ParseCron(args[0])
			if err != nil {
				return err
			}

			t := time.Now().UTC()
			if from != "" {
				t, err = time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				t = t.UTC()
			}

			for i := 0; i < count; i++ {
				next, ok := backup.NextRun(spec, t)
				if !ok {
					if i == 0 {
						return fmt.Errorf("%q never matches", args[0])
					}
					break
				}
				fmt.Fprintln(cmd.OutOrStdout(), next.Format(time.RFC3339))
				t = next
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of run times to print")
	cmd.Flags().StringVar(&from, "from", "", "RFC 3339 start time (default now)")
	return cmd
}
