package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SnapshotStore reads tenant-owned tables for a backup.
type SnapshotStore interface {
	SnapshotTable(ctx context.Context, tenantID uuid.UUID, table string) ([]json.RawMessage, error)
}

// snapshotTables lists the tables captured by each job type.
var snapshotTables = map[models.BackupJobType][]string{
	models.BackupJobTypeFull: {
		"tenant_settings", "backup_schedules", "security_incidents",
		"security_alerts", "playbooks", "ai_recommendations",
	},
	models.BackupJobTypeIncremental: {
		"security_incidents", "security_alerts", "ai_recommendations",
	},
	models.BackupJobTypeSettings: {
		"tenant_settings",
	},
}

// maxConcurrentReads bounds parallel table reads per job.
const maxConcurrentReads = 4

// Snapshot is the document written to the artifact store.
type Snapshot struct {
	TenantID  uuid.UUID                    `json:"tenant_id"`
	JobID     uuid.UUID                    `json:"job_id"`
	JobType   models.BackupJobType         `json:"job_type"`
	CreatedAt time.Time                    `json:"created_at"`
	Tables    map[string][]json.RawMessage `json:"tables"`
}

// Runner executes a backup job by snapshotting tables into the artifact store.
type Runner struct {
	store     SnapshotStore
	artifacts storage.ArtifactStore
	logger    zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(store SnapshotStore, artifacts storage.ArtifactStore, logger zerolog.Logger) *Runner {
	return &Runner{
		store:     store,
		artifacts: artifacts,
		logger:    logger.With().Str("component", "backup_runner").Logger(),
	}
}

// Run snapshots the job's tables, uploads the result and marks the job
// completed or failed. The returned error is the failure recorded on the job.
func (r *Runner) Run(ctx context.Context, job *models.BackupJob) error {
	logger := r.logger.With().
		Str("job_id", job.ID.String()).
		Str("tenant_id", job.TenantID.String()).
		Str("job_type", string(job.JobType)).
		Logger()

	snap, rows, err := r.snapshot(ctx, job)
	if err != nil {
		return r.fail(job, err, logger)
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return r.fail(job, fmt.Errorf("encode snapshot: %w", err), logger)
	}

	key := storage.BackupKey(job.TenantID, job.ID)
	if err := r.artifacts.Put(ctx, key, body, "application/json"); err != nil {
		return r.fail(job, fmt.Errorf("upload snapshot: %w", err), logger)
	}

	if err := job.Complete(key, int64(len(body)), rows); err != nil {
		return err
	}
	logger.Info().
		Int64("size_bytes", job.SizeBytes).
		Int64("row_count", job.RowCount).
		Msg("backup completed")
	return nil
}

func (r *Runner) snapshot(ctx context.Context, job *models.BackupJob) (*Snapshot, int64, error) {
	tables, ok := snapshotTables[job.JobType]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported job type %q", job.JobType)
	}

	snap := &Snapshot{
		TenantID:  job.TenantID,
		JobID:     job.ID,
		JobType:   job.JobType,
		CreatedAt: time.Now().UTC(),
		Tables:    make(map[string][]json.RawMessage, len(tables)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for _, table := range tables {
		g.Go(func() error {
			rows, err := r.store.SnapshotTable(gctx, job.TenantID, table)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Tables[table] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var total int64
	for _, rows := range snap.Tables {
		total += int64(len(rows))
	}
	return snap, total, nil
}

func (r *Runner) fail(job *models.BackupJob, err error, logger zerolog.Logger) error {
	logger.Error().Err(err).Msg("backup failed")
	if ferr := job.Fail(err.Error()); ferr != nil {
		return ferr
	}
	return err
}
