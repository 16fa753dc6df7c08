package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/soar"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PlaybookService manages and runs SOAR playbooks.
type PlaybookService interface {
	Create(ctx context.Context, p *models.Playbook) error
	Update(ctx context.Context, p *models.Playbook) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Playbook, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Playbook, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	GetRun(ctx context.Context, tenantID, id uuid.UUID) (*models.PlaybookRun, error)
	RunByID(ctx context.Context, tenantID, playbookID uuid.UUID, eventID *uuid.UUID) (*models.PlaybookRun, error)
	Import(ctx context.Context, tenantID uuid.UUID, data []byte) (*models.Playbook, error)
}

// PlaybooksHandler handles SOAR playbook endpoints.
type PlaybooksHandler struct {
	service   PlaybookService
	templates []soar.Template
	logger    zerolog.Logger
}

// NewPlaybooksHandler creates a new PlaybooksHandler. templates are served read-only.
func NewPlaybooksHandler(service PlaybookService, templates []soar.Template, logger zerolog.Logger) *PlaybooksHandler {
	if templates == nil {
		templates = []soar.Template{}
	}
	return &PlaybooksHandler{
		service:   service,
		templates: templates,
		logger:    logger.With().Str("component", "playbooks_handler").Logger(),
	}
}

// RegisterRoutes registers playbook routes on the given router group.
func (h *PlaybooksHandler) RegisterRoutes(r *gin.RouterGroup) {
	playbooks := r.Group("/playbooks")
	{
		playbooks.GET("", perm(auth.PermPlaybookRead), h.List)
		playbooks.POST("", perm(auth.PermPlaybookWrite), h.Create)
		playbooks.GET("/templates", perm(auth.PermPlaybookRead), h.Templates)
		playbooks.POST("/import", perm(auth.PermPlaybookWrite), h.Import)
		playbooks.GET("/:id", perm(auth.PermPlaybookRead), h.Get)
		playbooks.PUT("/:id", perm(auth.PermPlaybookWrite), h.Update)
		playbooks.DELETE("/:id", perm(auth.PermPlaybookWrite), h.Delete)
		playbooks.POST("/:id/run", perm(auth.PermPlaybookRun), h.Run)
	}
	r.GET("/playbook-runs/:id", perm(auth.PermPlaybookRead), h.GetRun)
}

// PlaybookRequest is the request body for creating or replacing a playbook.
type PlaybookRequest struct {
	Name            string                `json:"name" binding:"required"`
	Description     string                `json:"description"`
	TriggerSeverity models.Severity       `json:"trigger_severity"`
	Steps           []models.PlaybookStep `json:"steps" binding:"required"`
	IsEnabled       *bool                 `json:"is_enabled"`
}

// RunPlaybookRequest is the optional body of a manual run.
type RunPlaybookRequest struct {
	EventID *uuid.UUID `json:"event_id"`
}

// List returns the tenant's playbooks.
// GET /api/v1/playbooks
func (h *PlaybooksHandler) List(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	list, err := h.service.List(c.Request.Context(), id.TenantID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if list == nil {
		list = []*models.Playbook{}
	}
	c.JSON(http.StatusOK, gin.H{"playbooks": list})
}

// Templates returns the built-in playbook templates.
// GET /api/v1/playbooks/templates
func (h *PlaybooksHandler) Templates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.templates})
}

// Create stores a new playbook.
// POST /api/v1/playbooks
func (h *PlaybooksHandler) Create(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	var req PlaybookRequest
	if !bindJSON(c, &req) {
		return
	}
	p := models.NewPlaybook(id.TenantID, req.Name, req.Steps)
	req.apply(p)
	if err := h.service.Create(c.Request.Context(), p); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Import stores a playbook from a raw YAML document.
// POST /api/v1/playbooks/import
func (h *PlaybooksHandler) Import(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, soar.MaxImportBytes+1))
	if err != nil {
		apperr.Respond(c, apperr.BadRequest("failed to read request body"))
		return
	}
	if len(data) > soar.MaxImportBytes {
		apperr.Respond(c, apperr.New(apperr.CodeTooLarge, "playbook document is too large"))
		return
	}
	p, err := h.service.Import(c.Request.Context(), id.TenantID, data)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Get returns a playbook by ID.
// GET /api/v1/playbooks/:id
func (h *PlaybooksHandler) Get(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	pbID, ok := parseID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.Get(c.Request.Context(), id.TenantID, pbID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Update replaces a playbook definition.
// PUT /api/v1/playbooks/:id
func (h *PlaybooksHandler) Update(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	pbID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req PlaybookRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.service.Get(c.Request.Context(), id.TenantID, pbID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	p.Name = req.Name
	p.Steps = req.Steps
	req.apply(p)
	if err := h.service.Update(c.Request.Context(), p); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Delete removes a playbook.
// DELETE /api/v1/playbooks/:id
func (h *PlaybooksHandler) Delete(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	pbID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id.TenantID, pbID); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Run executes a playbook by hand, optionally against a stored SIEM event.
// POST /api/v1/playbooks/:id/run
func (h *PlaybooksHandler) Run(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	pbID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req RunPlaybookRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	run, err := h.service.RunByID(c.Request.Context(), id.TenantID, pbID, req.EventID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	h.logger.Info().
		Str("playbook_id", pbID.String()).
		Str("run_id", run.ID.String()).
		Str("status", string(run.Status)).
		Msg("playbook run finished")
	c.JSON(http.StatusOK, run)
}

// GetRun returns a playbook run with its step results.
// GET /api/v1/playbook-runs/:id
func (h *PlaybooksHandler) GetRun(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	runID, ok := parseID(c, "id")
	if !ok {
		return
	}
	run, err := h.service.GetRun(c.Request.Context(), id.TenantID, runID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (r PlaybookRequest) apply(p *models.Playbook) {
	p.Description = r.Description
	if r.TriggerSeverity != "" {
		p.TriggerSeverity = r.TriggerSeverity
	}
	if r.IsEnabled != nil {
		p.IsEnabled = *r.IsEnabled
	}
}
