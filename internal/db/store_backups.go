package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Backup schedule methods

const backupScheduleColumns = `id, tenant_id, name, cron_expression, job_type, is_enabled,
	last_run_at, next_run_at, last_run_status, last_error, retention_days, created_at, updated_at`

func scanBackupSchedule(row rowScanner) (*models.BackupSchedule, error) {
	var s models.BackupSchedule
	var jobType string
	var lastStatus, lastError *string
	err := row.Scan(
		&s.ID, &s.TenantID, &s.Name, &s.CronExpression, &jobType, &s.IsEnabled,
		&s.LastRunAt, &s.NextRunAt, &lastStatus, &lastError, &s.RetentionDays,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.JobType = models.BackupJobType(jobType)
	s.LastRunStatus = models.RunStatus(derefString(lastStatus))
	s.LastError = derefString(lastError)
	return &s, nil
}

// GetEnabledBackupSchedules returns enabled schedules across all tenants.
func (db *DB) GetEnabledBackupSchedules(ctx context.Context) ([]*models.BackupSchedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupScheduleColumns+`
		FROM backup_schedules
		WHERE is_enabled = true
		ORDER BY tenant_id, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list enabled backup schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.BackupSchedule
	for rows.Next() {
		s, err := scanBackupSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ListBackupSchedules returns a tenant's schedules.
func (db *DB) ListBackupSchedules(ctx context.Context, tenantID uuid.UUID) ([]*models.BackupSchedule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupScheduleColumns+`
		FROM backup_schedules
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list backup schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.BackupSchedule
	for rows.Next() {
		s, err := scanBackupSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// GetBackupSchedule returns a schedule owned by the tenant.
func (db *DB) GetBackupSchedule(ctx context.Context, tenantID, id uuid.UUID) (*models.BackupSchedule, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+backupScheduleColumns+`
		FROM backup_schedules
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	s, err := scanBackupSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("get backup schedule: %w", apperr.FromDB("backup schedule", err))
	}
	return s, nil
}

// CreateBackupSchedule inserts a schedule.
func (db *DB) CreateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO backup_schedules (id, tenant_id, name, cron_expression, job_type, is_enabled,
		                              next_run_at, retention_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.TenantID, s.Name, s.CronExpression, string(s.JobType), s.IsEnabled,
		s.NextRunAt, s.RetentionDays, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create backup schedule: %w", apperr.FromDB("backup schedule", err))
	}
	return nil
}

// UpdateBackupSchedule updates the editable fields of a schedule.
func (db *DB) UpdateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error {
	s.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE backup_schedules
		SET name = $3, cron_expression = $4, job_type = $5, is_enabled = $6,
		    next_run_at = $7, retention_days = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2
	`, s.TenantID, s.ID, s.Name, s.CronExpression, string(s.JobType), s.IsEnabled,
		s.NextRunAt, s.RetentionDays, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update backup schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("backup schedule")
	}
	return nil
}

// RecordScheduleRun persists the run bookkeeping written by RecordRun.
func (db *DB) RecordScheduleRun(ctx context.Context, s *models.BackupSchedule) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE backup_schedules
		SET last_run_at = $2, next_run_at = $3, last_run_status = $4, last_error = $5, updated_at = $6
		WHERE id = $1
	`, s.ID, s.LastRunAt, s.NextRunAt, nullString(string(s.LastRunStatus)), nullString(s.LastError), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record schedule run: %w", err)
	}
	return nil
}

// DeleteBackupSchedule removes a schedule. Its jobs keep their history with a null schedule_id.
func (db *DB) DeleteBackupSchedule(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM backup_schedules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete backup schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("backup schedule")
	}
	return nil
}

// Backup job methods

const backupJobColumns = `id, tenant_id, schedule_id, job_type, status, trigger, size_bytes, row_count,
	storage_key, error_message, started_at, completed_at`

func scanBackupJob(row rowScanner) (*models.BackupJob, error) {
	var j models.BackupJob
	var jobType, status, trigger string
	var storageKey, errMsg *string
	err := row.Scan(
		&j.ID, &j.TenantID, &j.ScheduleID, &jobType, &status, &trigger, &j.SizeBytes, &j.RowCount,
		&storageKey, &errMsg, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.JobType = models.BackupJobType(jobType)
	j.Status = models.BackupJobStatus(status)
	j.Trigger = models.BackupTrigger(trigger)
	j.StorageKey = derefString(storageKey)
	j.ErrorMessage = derefString(errMsg)
	return &j, nil
}

// CreateBackupJob inserts a job. A second running job for the same schedule
// violates idx_backup_jobs_schedule_running and returns apperr.ErrConflict.
func (db *DB) CreateBackupJob(ctx context.Context, j *models.BackupJob) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO backup_jobs (id, tenant_id, schedule_id, job_type, status, trigger, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, j.ID, j.TenantID, j.ScheduleID, string(j.JobType), string(j.Status), string(j.Trigger), j.StartedAt)
	if err != nil {
		return fmt.Errorf("create backup job: %w", apperr.FromDB("backup job", err))
	}
	return nil
}

// UpdateBackupJob persists a job's status and results.
func (db *DB) UpdateBackupJob(ctx context.Context, j *models.BackupJob) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE backup_jobs
		SET status = $2, size_bytes = $3, row_count = $4, storage_key = $5, error_message = $6, completed_at = $7
		WHERE id = $1
	`, j.ID, string(j.Status), j.SizeBytes, j.RowCount, nullString(j.StorageKey), nullString(j.ErrorMessage), j.CompletedAt)
	if err != nil {
		return fmt.Errorf("update backup job: %w", err)
	}
	return nil
}

// GetBackupJob returns a job owned by the tenant.
func (db *DB) GetBackupJob(ctx context.Context, tenantID, id uuid.UUID) (*models.BackupJob, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	j, err := scanBackupJob(row)
	if err != nil {
		return nil, fmt.Errorf("get backup job: %w", apperr.FromDB("backup job", err))
	}
	return j, nil
}

// ListBackupJobs returns a tenant's most recent jobs.
func (db *DB) ListBackupJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.BackupJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+backupJobColumns+`
		FROM backup_jobs
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list backup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BackupJob
	for rows.Next() {
		j, err := scanBackupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// HasRunningBackupJob reports whether the schedule already has a running job.
func (db *DB) HasRunningBackupJob(ctx context.Context, tenantID, scheduleID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM backup_jobs
			WHERE tenant_id = $1 AND schedule_id = $2 AND status = 'running'
		)
	`, tenantID, scheduleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check running backup job: %w", err)
	}
	return exists, nil
}

// ListExpiredBackupJobs returns completed jobs older than their schedule's retention.
func (db *DB) ListExpiredBackupJobs(ctx context.Context, now time.Time) ([]*models.BackupJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT j.id, j.tenant_id, j.schedule_id, j.job_type, j.status, j.trigger, j.size_bytes, j.row_count,
		       j.storage_key, j.error_message, j.started_at, j.completed_at
		FROM backup_jobs j
		JOIN backup_schedules s ON s.id = j.schedule_id
		WHERE j.status = 'completed'
		  AND j.completed_at < $1 - make_interval(days => s.retention_days)
		ORDER BY j.completed_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired backup jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BackupJob
	for rows.Next() {
		j, err := scanBackupJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteBackupJob removes a job and its dependency edges.
func (db *DB) DeleteBackupJob(ctx context.Context, tenantID, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM backup_jobs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete backup job: %w", err)
	}
	return nil
}

// Job dependency methods

// ListJobDependencies returns every dependency edge for the tenant.
func (db *DB) ListJobDependencies(ctx context.Context, tenantID uuid.UUID) ([]models.JobDependency, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT job_id, depends_on_job_id FROM job_dependencies WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list job dependencies: %w", err)
	}
	defer rows.Close()

	var deps []models.JobDependency
	for rows.Next() {
		var d models.JobDependency
		if err := rows.Scan(&d.JobID, &d.DependsOnJobID); err != nil {
			return nil, fmt.Errorf("scan job dependency: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// AddJobDependency inserts an edge.
func (db *DB) AddJobDependency(ctx context.Context, tenantID uuid.UUID, dep models.JobDependency) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO job_dependencies (tenant_id, job_id, depends_on_job_id)
		VALUES ($1, $2, $3)
	`, tenantID, dep.JobID, dep.DependsOnJobID)
	if err != nil {
		return fmt.Errorf("add job dependency: %w", apperr.FromDB("job dependency", err))
	}
	return nil
}

// GetBackupJobStatuses returns the status of each listed job owned by the tenant.
func (db *DB) GetBackupJobStatuses(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]models.BackupJobStatus, error) {
	statuses := make(map[uuid.UUID]models.BackupJobStatus, len(ids))
	if len(ids) == 0 {
		return statuses, nil
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, status FROM backup_jobs WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("get backup job statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan backup job status: %w", err)
		}
		statuses[id] = models.BackupJobStatus(status)
	}
	return statuses, rows.Err()
}

// SnapshotTable returns every row of a tenant-owned table encoded as JSON objects.
func (db *DB) SnapshotTable(ctx context.Context, tenantID uuid.UUID, table string) ([]json.RawMessage, error) {
	ident := pgx.Identifier{table}.Sanitize()
	rows, err := db.Pool.Query(ctx, `SELECT row_to_json(t) FROM `+ident+` t WHERE t.tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", table, err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}
