package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/backup"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BackupStore defines the persistence behind the backup endpoints.
type BackupStore interface {
	ListBackupSchedules(ctx context.Context, tenantID uuid.UUID) ([]*models.BackupSchedule, error)
	GetBackupSchedule(ctx context.Context, tenantID, id uuid.UUID) (*models.BackupSchedule, error)
	CreateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error
	UpdateBackupSchedule(ctx context.Context, s *models.BackupSchedule) error
	DeleteBackupSchedule(ctx context.Context, tenantID, id uuid.UUID) error
	ListBackupJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.BackupJob, error)
	GetBackupJob(ctx context.Context, tenantID, id uuid.UUID) (*models.BackupJob, error)
}

// ManualTrigger starts a backup outside its schedule.
type ManualTrigger interface {
	TriggerManual(ctx context.Context, tenantID, scheduleID uuid.UUID) (*models.BackupJob, error)
}

// DependencyService checks and records job dependencies.
type DependencyService interface {
	Check(ctx context.Context, tenantID, jobID uuid.UUID) (*models.DependencyStatus, error)
	AddDependency(ctx context.Context, tenantID, jobID, dependsOn uuid.UUID) error
}

// BackupsHandler handles backup schedule and job endpoints.
type BackupsHandler struct {
	store   BackupStore
	trigger ManualTrigger
	deps    DependencyService
	now     func() time.Time
	logger  zerolog.Logger
}

// NewBackupsHandler creates a new BackupsHandler.
func NewBackupsHandler(store BackupStore, trigger ManualTrigger, deps DependencyService, logger zerolog.Logger) *BackupsHandler {
	return &BackupsHandler{
		store:   store,
		trigger: trigger,
		deps:    deps,
		now:     time.Now,
		logger:  logger.With().Str("component", "backups_handler").Logger(),
	}
}

// RegisterRoutes registers backup routes on the given router group.
func (h *BackupsHandler) RegisterRoutes(r *gin.RouterGroup) {
	schedules := r.Group("/backup-schedules")
	{
		schedules.GET("", perm(auth.PermBackupRead), h.ListSchedules)
		schedules.POST("", perm(auth.PermBackupWrite), h.CreateSchedule)
		schedules.GET("/:id", perm(auth.PermBackupRead), h.GetSchedule)
		schedules.PUT("/:id", perm(auth.PermBackupWrite), h.UpdateSchedule)
		schedules.DELETE("/:id", perm(auth.PermBackupWrite), h.DeleteSchedule)
		schedules.POST("/:id/run", perm(auth.PermBackupRun), h.RunSchedule)
	}

	jobs := r.Group("/backup-jobs")
	{
		jobs.GET("", perm(auth.PermBackupRead), h.ListJobs)
		jobs.GET("/:id", perm(auth.PermBackupRead), h.GetJob)
		jobs.GET("/:id/dependencies", perm(auth.PermBackupRead), h.CheckDependencies)
		jobs.POST("/:id/dependencies", perm(auth.PermBackupWrite), h.AddDependency)
	}
}

// CreateBackupScheduleRequest is the request body for creating a schedule.
type CreateBackupScheduleRequest struct {
	Name           string               `json:"name" binding:"required,min=1,max=255"`
	CronExpression string               `json:"cron_expression" binding:"required"`
	JobType        models.BackupJobType `json:"job_type"`
	RetentionDays  *int                 `json:"retention_days,omitempty" binding:"omitempty,min=1,max=3650"`
	Enabled        *bool                `json:"enabled,omitempty"`
}

// UpdateBackupScheduleRequest is the request body for updating a schedule.
type UpdateBackupScheduleRequest struct {
	Name           string               `json:"name,omitempty" binding:"omitempty,max=255"`
	CronExpression string               `json:"cron_expression,omitempty"`
	JobType        models.BackupJobType `json:"job_type,omitempty"`
	RetentionDays  *int                 `json:"retention_days,omitempty" binding:"omitempty,min=1,max=3650"`
	Enabled        *bool                `json:"enabled,omitempty"`
}

// AddDependencyRequest is the request body for adding a job dependency.
type AddDependencyRequest struct {
	DependsOnJobID uuid.UUID `json:"depends_on_job_id" binding:"required"`
}

// ListSchedules returns the tenant's backup schedules.
// GET /api/v1/backup-schedules
func (h *BackupsHandler) ListSchedules(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	schedules, err := h.store.ListBackupSchedules(c.Request.Context(), id.TenantID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if schedules == nil {
		schedules = []*models.BackupSchedule{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

// GetSchedule returns a backup schedule by ID.
// GET /api/v1/backup-schedules/:id
func (h *BackupsHandler) GetSchedule(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	scheduleID, ok := parseID(c, "id")
	if !ok {
		return
	}
	schedule, err := h.store.GetBackupSchedule(c.Request.Context(), id.TenantID, scheduleID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// CreateSchedule creates a backup schedule.
// POST /api/v1/backup-schedules
func (h *BackupsHandler) CreateSchedule(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	var req CreateBackupScheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	expr := normalizeCron(req.CronExpression)
	if err := backup.ValidateCron(expr); err != nil {
		apperr.Respond(c, apperr.BadRequest("%v", err))
		return
	}
	if req.JobType == "" {
		req.JobType = models.BackupJobTypeFull
	}
	if !req.JobType.Valid() {
		apperr.Respond(c, apperr.BadRequest("invalid job_type %q", req.JobType))
		return
	}

	schedule := models.NewBackupSchedule(id.TenantID, strings.TrimSpace(req.Name), expr, req.JobType)
	if req.RetentionDays != nil {
		schedule.RetentionDays = *req.RetentionDays
	}
	if req.Enabled != nil {
		schedule.IsEnabled = *req.Enabled
	}
	h.refreshNextRun(schedule)

	if err := h.store.CreateBackupSchedule(c.Request.Context(), schedule); err != nil {
		apperr.Respond(c, err)
		return
	}

	h.logger.Info().
		Str("tenant_id", id.TenantID.String()).
		Str("schedule_id", schedule.ID.String()).
		Str("cron", schedule.CronExpression).
		Msg("backup schedule created")
	c.JSON(http.StatusCreated, schedule)
}

// UpdateSchedule applies a partial update to a backup schedule.
// PUT /api/v1/backup-schedules/:id
func (h *BackupsHandler) UpdateSchedule(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	scheduleID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateBackupScheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	schedule, err := h.store.GetBackupSchedule(c.Request.Context(), id.TenantID, scheduleID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		schedule.Name = name
	}
	if req.CronExpression != "" {
		expr := normalizeCron(req.CronExpression)
		if err := backup.ValidateCron(expr); err != nil {
			apperr.Respond(c, apperr.BadRequest("%v", err))
			return
		}
		schedule.CronExpression = expr
	}
	if req.JobType != "" {
		if !req.JobType.Valid() {
			apperr.Respond(c, apperr.BadRequest("invalid job_type %q", req.JobType))
			return
		}
		schedule.JobType = req.JobType
	}
	if req.RetentionDays != nil {
		schedule.RetentionDays = *req.RetentionDays
	}
	if req.Enabled != nil {
		schedule.IsEnabled = *req.Enabled
	}
	schedule.UpdatedAt = h.now()
	h.refreshNextRun(schedule)

	if err := h.store.UpdateBackupSchedule(c.Request.Context(), schedule); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// DeleteSchedule removes a backup schedule.
// DELETE /api/v1/backup-schedules/:id
func (h *BackupsHandler) DeleteSchedule(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	scheduleID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteBackupSchedule(c.Request.Context(), id.TenantID, scheduleID); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RunSchedule triggers a manual backup. The job runs in the background.
// POST /api/v1/backup-schedules/:id/run
func (h *BackupsHandler) RunSchedule(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	scheduleID, ok := parseID(c, "id")
	if !ok {
		return
	}
	job, err := h.trigger.TriggerManual(c.Request.Context(), id.TenantID, scheduleID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// ListJobs returns recent backup jobs.
// GET /api/v1/backup-jobs
func (h *BackupsHandler) ListJobs(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	jobs, err := h.store.ListBackupJobs(c.Request.Context(), id.TenantID, limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if jobs == nil {
		jobs = []*models.BackupJob{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob returns a backup job by ID.
// GET /api/v1/backup-jobs/:id
func (h *BackupsHandler) GetJob(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	jobID, ok := parseID(c, "id")
	if !ok {
		return
	}
	job, err := h.store.GetBackupJob(c.Request.Context(), id.TenantID, jobID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CheckDependencies reports whether a job's dependencies have completed.
// GET /api/v1/backup-jobs/:id/dependencies
func (h *BackupsHandler) CheckDependencies(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	jobID, ok := parseID(c, "id")
	if !ok {
		return
	}
	status, err := h.deps.Check(c.Request.Context(), id.TenantID, jobID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// AddDependency records that the job depends on another job.
// POST /api/v1/backup-jobs/:id/dependencies
func (h *BackupsHandler) AddDependency(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	jobID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AddDependencyRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.deps.AddDependency(c.Request.Context(), id.TenantID, jobID, req.DependsOnJobID); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.JobDependency{JobID: jobID, DependsOnJobID: req.DependsOnJobID})
}

// refreshNextRun recomputes next_run_at from the expression. Disabled
// schedules have no next run.
func (h *BackupsHandler) refreshNextRun(s *models.BackupSchedule) {
	if !s.IsEnabled {
		s.NextRunAt = nil
		return
	}
	s.NextRunAt = backup.NextRunAfter(s.CronExpression, h.now())
}

func normalizeCron(expr string) string {
	return strings.Join(strings.Fields(expr), " ")
}
