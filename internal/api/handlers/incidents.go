package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/incidents"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IncidentService manages security incidents.
type IncidentService interface {
	Create(ctx context.Context, tenantID uuid.UUID, req incidents.CreateRequest) (*models.SecurityIncident, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.SecurityIncident, error)
	List(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]*models.SecurityIncident, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IncidentStatus) (*models.SecurityIncident, error)
}

// IncidentDetector turns critical alerts into incidents.
type IncidentDetector interface {
	Detect(ctx context.Context, tenantID uuid.UUID) (*incidents.DetectionResult, error)
}

// IncidentsHandler handles incident endpoints.
type IncidentsHandler struct {
	service  IncidentService
	detector IncidentDetector
	logger   zerolog.Logger
}

// NewIncidentsHandler creates a new IncidentsHandler.
func NewIncidentsHandler(service IncidentService, detector IncidentDetector, logger zerolog.Logger) *IncidentsHandler {
	return &IncidentsHandler{
		service:  service,
		detector: detector,
		logger:   logger.With().Str("component", "incidents_handler").Logger(),
	}
}

// RegisterRoutes registers incident routes on the given router group.
func (h *IncidentsHandler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/incidents")
	{
		group.GET("", perm(auth.PermIncidentRead), h.List)
		group.POST("", perm(auth.PermIncidentWrite), h.Create)
		group.POST("/detect", perm(auth.PermIncidentDetect), h.Detect)
		group.GET("/:id", perm(auth.PermIncidentRead), h.Get)
		group.PATCH("/:id/status", perm(auth.PermIncidentWrite), h.UpdateStatus)
	}
}

// UpdateIncidentStatusRequest is the request body for a status change.
type UpdateIncidentStatusRequest struct {
	Status models.IncidentStatus `json:"status" binding:"required"`
}

// List returns incidents, optionally filtered by status.
// GET /api/v1/incidents
func (h *IncidentsHandler) List(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	list, err := h.service.List(c.Request.Context(), id.TenantID, c.Query("status"), limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if list == nil {
		list = []*models.SecurityIncident{}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": list})
}

// Get returns an incident by ID.
// GET /api/v1/incidents/:id
func (h *IncidentsHandler) Get(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	incidentID, ok := parseID(c, "id")
	if !ok {
		return
	}
	incident, err := h.service.Get(c.Request.Context(), id.TenantID, incidentID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// Create opens an incident by hand.
// POST /api/v1/incidents
func (h *IncidentsHandler) Create(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	var req incidents.CreateRequest
	if !bindJSON(c, &req) {
		return
	}
	incident, err := h.service.Create(c.Request.Context(), id.TenantID, req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, incident)
}

// UpdateStatus moves an incident through its lifecycle.
// PATCH /api/v1/incidents/:id/status
func (h *IncidentsHandler) UpdateStatus(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	incidentID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateIncidentStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	incident, err := h.service.UpdateStatus(c.Request.Context(), id.TenantID, incidentID, req.Status)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// Detect runs incident auto-detection for the caller's tenant.
// POST /api/v1/incidents/detect
func (h *IncidentsHandler) Detect(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	result, err := h.detector.Detect(c.Request.Context(), id.TenantID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
