package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/storage"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RetentionStore lists and removes expired backups.
type RetentionStore interface {
	ListExpiredBackupJobs(ctx context.Context, now time.Time) ([]*models.BackupJob, error)
	DeleteBackupJob(ctx context.Context, tenantID, id uuid.UUID) error
}

// DefaultRetentionSchedule runs the sweep daily at 03:00.
const DefaultRetentionSchedule = "0 3 * * *"

// RetentionSweeper deletes completed backups older than their schedule's retention.
type RetentionSweeper struct {
	store     RetentionStore
	artifacts storage.ArtifactStore
	cron      *cron.Cron
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewRetentionSweeper creates a RetentionSweeper.
func NewRetentionSweeper(store RetentionStore, artifacts storage.ArtifactStore, logger zerolog.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		store:     store,
		artifacts: artifacts,
		cron:      cron.New(),
		logger:    logger.With().Str("component", "retention").Logger(),
	}
}

// RetentionResult summarizes a sweep.
type RetentionResult struct {
	Removed    int   `json:"removed"`
	Failed     int   `json:"failed"`
	BytesFreed int64 `json:"bytes_freed"`
}

// Sweep removes every expired job and its artifact. A job whose artifact
// cannot be deleted is kept so the next sweep retries it.
func (r *RetentionSweeper) Sweep(ctx context.Context, now time.Time) (RetentionResult, error) {
	var result RetentionResult

	jobs, err := r.store.ListExpiredBackupJobs(ctx, now)
	if err != nil {
		return result, fmt.Errorf("list expired backups: %w", err)
	}

	for _, job := range jobs {
		logger := r.logger.With().Str("job_id", job.ID.String()).Logger()
		if job.StorageKey != "" {
			if err := r.artifacts.Delete(ctx, job.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				result.Failed++
				logger.Error().Err(err).Msg("failed to delete backup artifact")
				continue
			}
		}
		if err := r.store.DeleteBackupJob(ctx, job.TenantID, job.ID); err != nil {
			result.Failed++
			logger.Error().Err(err).Msg("failed to delete backup job")
			continue
		}
		result.Removed++
		result.BytesFreed += job.SizeBytes
	}

	if result.Removed > 0 || result.Failed > 0 {
		r.logger.Info().
			Int("removed", result.Removed).
			Int("failed", result.Failed).
			Int64("bytes_freed", result.BytesFreed).
			Msg("retention sweep complete")
	}
	return result, nil
}

// Start schedules the daily sweep.
func (r *RetentionSweeper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("retention sweeper already running")
	}
	_, err := r.cron.AddFunc(DefaultRetentionSchedule, func() {
		if _, err := r.Sweep(ctx, time.Now()); err != nil {
			r.logger.Error().Err(err).Msg("retention sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}
	r.cron.Start()
	r.running = true
	return nil
}

// Stop stops the sweeper.
func (r *RetentionSweeper) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	r.running = false
	return r.cron.Stop()
}
