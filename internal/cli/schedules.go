package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MacJediWizard/aegis/internal/backup"
	"github.com/MacJediWizard/aegis/internal/config"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/storage"
	"github.com/spf13/cobra"
)

// NewSchedulesCommand creates the schedules command group.
func NewSchedulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect backup schedules",
	}
	cmd.AddCommand(newSchedulesListCommand(rootOpts))
	cmd.AddCommand(newSchedulesDueCommand(rootOpts))
	cmd.AddCommand(newSchedulesRunDueCommand(rootOpts))
	return cmd
}

func newSchedulesListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List a tenant's backup schedules",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, cfg, _, err := openDB(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer database.Close()

			tenantID, err := cfg.Tenant(rootOpts.Tenant)
			if err != nil {
				return err
			}
			schedules, err := database.ListBackupSchedules(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			writeSchedules(cmd, schedules)
			return nil
		},
	}
}

func newSchedulesDueCommand(rootOpts *RootOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:          "due",
		Short:        "Show which enabled schedules would fire at a given minute",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t.UTC()
			}

			database, _, logger, err := openDB(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer database.Close()

			schedules, err := database.GetEnabledBackupSchedules(cmd.Context())
			if err != nil {
				return err
			}
			due := dueSchedules(schedules, now, func(s *models.BackupSchedule, err error) {
				logger.Warn().Err(err).Str("schedule_id", s.ID.String()).Msg("invalid cron expression")
			})
			writeSchedules(cmd, due)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to evaluate (default now)")
	return cmd
}

func newSchedulesRunDueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Run one scheduler pass and wait for the fired backups",
		Long: `Evaluate every enabled schedule at the current minute and run the due backups.

Meant for platforms that invoke cron externally with SCHEDULER_ENABLED=false on
the server. Artifacts go to the bucket named by S3_BUCKET, and events go to
AMQP_URL when it is set.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg := config.LoadServerConfig()
			if serverCfg.S3Bucket == "" {
				return errors.New("S3_BUCKET is required: backup artifacts cannot be kept by a one-shot process")
			}

			ctx := cmd.Context()
			database, _, logger, err := openDB(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer database.Close()

			artifacts, err := storage.NewS3Store(ctx, storage.S3Config{
				Bucket:          serverCfg.S3Bucket,
				Region:          serverCfg.S3Region,
				Endpoint:        serverCfg.S3Endpoint,
				AccessKeyID:     serverCfg.S3AccessKeyID,
				SecretAccessKey: serverCfg.S3SecretAccessKey,
			})
			if err != nil {
				return err
			}

			var publisher events.Publisher = events.NewNoopPublisher(logger)
			if serverCfg.AMQPURL != "" {
				amqpPublisher, err := events.NewAMQPPublisher(serverCfg.AMQPURL, logger)
				if err != nil {
					return err
				}
				defer amqpPublisher.Close()
				publisher = amqpPublisher
			}

			scheduler := backup.NewScheduler(database, backup.NewRunner(database, artifacts, logger), publisher, nil, logger)
			summary, err := scheduler.RunDue(ctx, time.Now().UTC())
			scheduler.Wait()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

// dueSchedules filters schedules down to those the scheduler would fire at now.
func dueSchedules(schedules []*models.BackupSchedule, now time.Time, onInvalid func(*models.BackupSchedule, error)) []*models.BackupSchedule {
	var due []*models.BackupSchedule
	for _, s := range schedules {
		spec, err := backup.ParseCron(s.CronExpression)
		if err != nil {
			if onInvalid != nil {
				onInvalid(s, err)
			}
			continue
		}
		if backup.ShouldRun(spec, s.LastRunAt, now) {
			due = append(due, s)
		}
	}
	return due
}

func writeSchedules(cmd *cobra.Command, schedules []*models.BackupSchedule) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTENANT\tNAME\tCRON\tENABLED\tNEXT RUN")
	for _, s := range schedules {
		next := "-"
		if s.NextRunAt != nil {
			next = s.NextRunAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", s.ID, s.TenantID, s.Name, s.CronExpression, s.IsEnabled, next)
	}
	w.Flush()
}
