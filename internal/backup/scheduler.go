// Package backup schedules, runs and expires tenant backups.
package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ScheduleStore defines the interface for loading schedule data.
type ScheduleStore interface {
	// GetEnabledBackupSchedules returns all enabled schedules across tenants.
	GetEnabledBackupSchedules(ctx context.Context) ([]*models.BackupSchedule, error)

	// GetBackupSchedule returns a schedule owned by the tenant.
	GetBackupSchedule(ctx context.Context, tenantID, id uuid.UUID) (*models.BackupSchedule, error)

	// HasRunningBackupJob reports whether the schedule has a job in progress.
	HasRunningBackupJob(ctx context.Context, tenantID, scheduleID uuid.UUID) (bool, error)

	// CreateBackupJob creates a new job record.
	CreateBackupJob(ctx context.Context, job *models.BackupJob) error

	// UpdateBackupJob updates an existing job record.
	UpdateBackupJob(ctx context.Context, job *models.BackupJob) error

	// RecordScheduleRun persists last/next run bookkeeping.
	RecordScheduleRun(ctx context.Context, schedule *models.BackupSchedule) error
}

// JobRunner executes a backup job, marking it completed or failed.
type JobRunner interface {
	Run(ctx context.Context, job *models.BackupJob) error
}

// ErrJobRunning is returned when a schedule already has a running job.
var ErrJobRunning = apperr.Conflict("a backup for this schedule is already running")

// RunSummary reports what a RunDue pass did.
type RunSummary struct {
	Evaluated int `json:"evaluated"`
	Fired     int `json:"fired"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Scheduler evaluates backup schedules once a minute.
type Scheduler struct {
	store     ScheduleStore
	runner    JobRunner
	publisher events.Publisher
	metrics   *metrics.PrometheusMetrics
	cron      *cron.Cron
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewScheduler creates a new backup scheduler. m may be nil.
func NewScheduler(store ScheduleStore, runner JobRunner, publisher events.Publisher, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		runner:    runner,
		publisher: publisher,
		metrics:   m,
		cron:      cron.New(),
		logger:    logger.With().Str("component", "backup_scheduler").Logger(),
		now:       time.Now,
	}
}

// Start registers the per-minute tick and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	_, err := s.cron.AddFunc("* * * * *", func() {
		if _, err := s.RunDue(ctx, s.now()); err != nil {
			s.logger.Error().Err(err).Msg("scheduler pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Msg("backup scheduler started")
	return nil
}

// Stop stops the cron runner. The returned context is done once running
// ticks and manual jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	if !s.running {
		cancel()
		return ctx
	}
	s.running = false
	s.logger.Info().Msg("stopping backup scheduler")

	cronDone := s.cron.Stop()
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// RunDue fires every enabled schedule that is due at now. A failure on one
// schedule is recorded on that schedule and the pass continues.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) (RunSummary, error) {
	var summary RunSummary

	schedules, err := s.store.GetEnabledBackupSchedules(ctx)
	if err != nil {
		return summary, fmt.Errorf("get enabled schedules: %w", err)
	}

	now = now.UTC()
	for _, sched := range schedules {
		summary.Evaluated++
		logger := s.logger.With().
			Str("schedule_id", sched.ID.String()).
			Str("tenant_id", sched.TenantID.String()).
			Logger()

		spec, err := ParseCron(sched.CronExpression)
		if err != nil {
			summary.Failed++
			logger.Error().Err(err).Str("cron_expression", sched.CronExpression).Msg("invalid cron expression")
			s.recordRun(ctx, sched, now, nil, err)
			continue
		}
		if !ShouldRun(spec, sched.LastRunAt, now) {
			continue
		}

		_, err = s.fire(ctx, sched, models.BackupTriggerScheduled)
		if errors.Is(err, ErrJobRunning) {
			summary.Skipped++
			logger.Warn().Msg("previous backup still running, skipping")
			continue
		}

		var next *time.Time
		if n, ok := NextRun(spec, now); ok {
			next = &n
		}
		if err != nil {
			summary.Failed++
			logger.Error().Err(err).Msg("scheduled backup failed")
		} else {
			summary.Fired++
		}
		s.recordRun(ctx, sched, now, next, err)
	}

	if summary.Fired > 0 || summary.Failed > 0 {
		s.logger.Info().
			Int("evaluated", summary.Evaluated).
			Int("fired", summary.Fired).
			Int("failed", summary.Failed).
			Msg("scheduler pass complete")
	}
	return summary, nil
}

func (s *Scheduler) recordRun(ctx context.Context, sched *models.BackupSchedule, at time.Time, next *time.Time, runErr error) {
	sched.RecordRun(at, next, runErr)
	if err := s.store.RecordScheduleRun(ctx, sched); err != nil {
		s.logger.Error().Err(err).Str("schedule_id", sched.ID.String()).Msg("failed to record schedule run")
	}
}

// fire creates a job for the schedule and runs it to completion.
func (s *Scheduler) fire(ctx context.Context, sched *models.BackupSchedule, trigger models.BackupTrigger) (*models.BackupJob, error) {
	job, err := s.createJob(ctx, sched, trigger)
	if err != nil {
		return nil, err
	}
	return job, s.execute(ctx, job)
}

func (s *Scheduler) createJob(ctx context.Context, sched *models.BackupSchedule, trigger models.BackupTrigger) (*models.BackupJob, error) {
	busy, err := s.store.HasRunningBackupJob(ctx, sched.TenantID, sched.ID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrJobRunning
	}

	job := models.NewBackupJob(sched.TenantID, &sched.ID, sched.JobType, trigger)
	if err := s.store.CreateBackupJob(ctx, job); err != nil {
		// Lost the race with another replica between the check and the insert.
		if errors.Is(err, apperr.ErrConflict) {
			return nil, ErrJobRunning
		}
		return nil, fmt.Errorf("create backup job: %w", err)
	}
	return job, nil
}

func (s *Scheduler) execute(ctx context.Context, job *models.BackupJob) error {
	start := time.Now()
	runErr := s.runner.Run(ctx, job)
	if runErr != nil && !job.IsTerminal() {
		_ = job.Fail(runErr.Error())
	}

	if err := s.store.UpdateBackupJob(ctx, job); err != nil {
		return fmt.Errorf("update backup job: %w", err)
	}

	s.metrics.RecordBackup(string(job.Status))
	s.metrics.RecordBackupDuration(string(job.JobType), time.Since(start).Seconds())

	key := events.BackupCompleted
	if job.Status == models.BackupJobStatusFailed {
		key = events.BackupFailed
	}
	if err := s.publisher.Publish(ctx, job.TenantID, key, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to publish backup event")
	}
	return runErr
}

// TriggerManual starts a backup for the schedule outside its cron timing.
// The job is created synchronously and executed in the background.
func (s *Scheduler) TriggerManual(ctx context.Context, tenantID, scheduleID uuid.UUID) (*models.BackupJob, error) {
	sched, err := s.store.GetBackupSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}

	job, err := s.createJob(ctx, sched, models.BackupTriggerManual)
	if err != nil {
		return nil, err
	}

	// The job outlives the request that triggered it.
	runCtx := context.WithoutCancel(ctx)
	snapshot := *job
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.execute(runCtx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("manual backup failed")
		}
	}()

	s.logger.Info().
		Str("schedule_id", scheduleID.String()).
		Str("job_id", job.ID.String()).
		Msg("manual backup triggered")
	return &snapshot, nil
}

// Wait blocks until background manual jobs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
