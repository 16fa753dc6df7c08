package cli

import (
	"encoding/json"
	"fmt"

	"github.com/MacJediWizard/aegis/internal/ai"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/incidents"
	"github.com/spf13/cobra"
)

// NewIncidentsCommand creates the incidents command group.
func NewIncidentsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Run incident operations",
	}
	cmd.AddCommand(newIncidentsDetectCommand(rootOpts))
	return cmd
}

func newIncidentsDetectCommand(rootOpts *RootOptions) *cobra.Command {
	var allTenants bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Open incidents for unprocessed critical alerts",
		Long: `Run one incident detection pass against the database.

Alerts are classified with the built-in heuristic classifier and no events
are published, so this is safe to run while the server is down.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, cfg, logger, err := openDB(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer database.Close()

			detector := incidents.NewDetector(database, ai.NewHeuristicClient(), events.NewNoopPublisher(logger), nil, logger)

			var result *incidents.DetectionResult
			if allTenants {
				result, err = detector.DetectAll(cmd.Context())
			} else {
				tenantID, terr := cfg.Tenant(rootOpts.Tenant)
				if terr != nil {
					return terr
				}
				result, err = detector.Detect(cmd.Context(), tenantID)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&allTenants, "all-tenants", false, "run detection for every tenant")
	return cmd
}
