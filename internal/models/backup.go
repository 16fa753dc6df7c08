package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// BackupJobType identifies what a backup job captures.
type BackupJobType string

const (
	BackupJobTypeFull        BackupJobType = "full"
	BackupJobTypeIncremental BackupJobType = "incremental"
	BackupJobTypeSettings    BackupJobType = "settings"
)

// Valid reports whether t is a known job type.
func (t BackupJobType) Valid() bool {
	switch t {
	case BackupJobTypeFull, BackupJobTypeIncremental, BackupJobTypeSettings:
		return true
	}
	return false
}

// RunStatus is the outcome of the last scheduled firing.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// BackupSchedule is a cron-driven backup configuration for a tenant.
type BackupSchedule struct {
	ID             uuid.UUID     `json:"id"`
	TenantID       uuid.UUID     `json:"tenant_id"`
	Name           string        `json:"name"`
	CronExpression string        `json:"cron_expression"`
	JobType        BackupJobType `json:"job_type"`
	IsEnabled      bool          `json:"is_enabled"`
	LastRunAt      *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time    `json:"next_run_at,omitempty"`
	LastRunStatus  RunStatus     `json:"last_run_status,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	RetentionDays  int           `json:"retention_days"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewBackupSchedule creates an enabled schedule with a 30 day retention.
func NewBackupSchedule(tenantID uuid.UUID, name, cronExpr string, jobType BackupJobType) *BackupSchedule {
	now := time.Now()
	return &BackupSchedule{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Name:           name,
		CronExpression: cronExpr,
		JobType:        jobType,
		IsEnabled:      true,
		RetentionDays:  30,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RecordRun stamps the outcome of a firing on the schedule.
func (s *BackupSchedule) RecordRun(at time.Time, next *time.Time, runErr error) {
	s.LastRunAt = &at
	s.NextRunAt = next
	s.UpdatedAt = time.Now()
	if runErr != nil {
		s.LastRunStatus = RunStatusFailed
		s.LastError = runErr.Error()
		return
	}
	s.LastRunStatus = RunStatusSuccess
	s.LastError = ""
}

// BackupJobStatus is the state of a backup job.
type BackupJobStatus string

const (
	BackupJobStatusRunning   BackupJobStatus = "running"
	BackupJobStatusCompleted BackupJobStatus = "completed"
	BackupJobStatusFailed    BackupJobStatus = "failed"
)

// BackupTrigger records why a job was created.
type BackupTrigger string

const (
	BackupTriggerScheduled BackupTrigger = "scheduled"
	BackupTriggerManual    BackupTrigger = "manual"
)

// ErrJobFinished is returned when mutating a job that is already terminal.
var ErrJobFinished = errors.New("backup job already finished")

// BackupJob is a single backup execution record.
type BackupJob struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	ScheduleID   *uuid.UUID      `json:"schedule_id,omitempty"`
	JobType      BackupJobType   `json:"job_type"`
	Status       BackupJobStatus `json:"status"`
	Trigger      BackupTrigger   `json:"trigger"`
	SizeBytes    int64           `json:"size_bytes"`
	RowCount     int64           `json:"row_count"`
	StorageKey   string          `json:"storage_key,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewBackupJob creates a running job.
func NewBackupJob(tenantID uuid.UUID, scheduleID *uuid.UUID, jobType BackupJobType, trigger BackupTrigger) *BackupJob {
	return &BackupJob{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ScheduleID: scheduleID,
		JobType:    jobType,
		Status:     BackupJobStatusRunning,
		Trigger:    trigger,
		StartedAt:  time.Now(),
	}
}

// IsTerminal reports whether the job has completed or failed.
func (j *BackupJob) IsTerminal() bool {
	return j.Status == BackupJobStatusCompleted || j.Status == BackupJobStatusFailed
}

// Complete marks the job as completed.
func (j *BackupJob) Complete(storageKey string, sizeBytes, rowCount int64) error {
	if j.IsTerminal() {
		return ErrJobFinished
	}
	now := time.Now()
	j.Status = BackupJobStatusCompleted
	j.StorageKey = storageKey
	j.SizeBytes = sizeBytes
	j.RowCount = rowCount
	j.CompletedAt = &now
	return nil
}

// Fail marks the job as failed.
func (j *BackupJob) Fail(msg string) error {
	if j.IsTerminal() {
		return ErrJobFinished
	}
	now := time.Now()
	j.Status = BackupJobStatusFailed
	j.ErrorMessage = msg
	j.CompletedAt = &now
	return nil
}

// JobDependency is an edge stating JobID may only run after DependsOnJobID completes.
type JobDependency struct {
	JobID          uuid.UUID `json:"job_id"`
	DependsOnJobID uuid.UUID `json:"depends_on_job_id"`
}

// DependencyStatus is the result of a dependency check for a job.
type DependencyStatus struct {
	JobID    uuid.UUID   `json:"job_id"`
	Ready    bool        `json:"ready"`
	Blocking []uuid.UUID `json:"blocking"`
	Failed   []uuid.UUID `json:"failed"`
}
