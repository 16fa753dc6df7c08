package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AlertStore defines the interface for alert persistence operations.
type AlertStore interface {
	CreateSecurityAlert(ctx context.Context, a *models.SecurityAlert) error
	ListSecurityAlerts(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.SecurityAlert, error)
	MarkAlertProcessed(ctx context.Context, tenantID, alertID uuid.UUID, incidentID *uuid.UUID) error
}

// AlertsHandler handles security alert endpoints.
type AlertsHandler struct {
	store     AlertStore
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewAlertsHandler creates a new AlertsHandler.
func NewAlertsHandler(store AlertStore, publisher events.Publisher, logger zerolog.Logger) *AlertsHandler {
	return &AlertsHandler{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "alerts_handler").Logger(),
	}
}

// RegisterRoutes registers alert routes on the given router group.
func (h *AlertsHandler) RegisterRoutes(r *gin.RouterGroup) {
	alerts := r.Group("/alerts")
	{
		alerts.GET("", perm(auth.PermAlertRead), h.List)
		alerts.POST("", perm(auth.PermAlertWrite), h.Create)
		alerts.POST("/:id/dismiss", perm(auth.PermIncidentWrite), h.Dismiss)
	}
}

// CreateAlertRequest is the request body for raising an alert by hand.
type CreateAlertRequest struct {
	Source      string          `json:"source" binding:"required,max=100"`
	Severity    string          `json:"severity" binding:"required"`
	Title       string          `json:"title" binding:"required,max=200"`
	Description string          `json:"description" binding:"max=4000"`
	SourceIP    string          `json:"source_ip" binding:"omitempty,ip"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// List returns recent alerts.
// GET /api/v1/alerts
func (h *AlertsHandler) List(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	alerts, err := h.store.ListSecurityAlerts(c.Request.Context(), id.TenantID, limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if alerts == nil {
		alerts = []*models.SecurityAlert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// Create raises an alert. Critical alerts are picked up by incident detection.
// POST /api/v1/alerts
func (h *AlertsHandler) Create(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	var req CreateAlertRequest
	if !bindJSON(c, &req) {
		return
	}
	severity, ok := models.ParseSeverity(req.Severity)
	if !ok {
		apperr.Respond(c, apperr.BadRequest("invalid severity %q", req.Severity))
		return
	}
	if len(req.Raw) > 0 && !json.Valid(req.Raw) {
		apperr.Respond(c, apperr.BadRequest("raw must be valid JSON"))
		return
	}

	alert := models.NewSecurityAlert(id.TenantID, strings.TrimSpace(req.Source), severity, strings.TrimSpace(req.Title))
	alert.Description = req.Description
	alert.SourceIP = req.SourceIP
	alert.Raw = req.Raw

	if err := h.store.CreateSecurityAlert(c.Request.Context(), alert); err != nil {
		apperr.Respond(c, err)
		return
	}
	if h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), id.TenantID, events.AlertRaised, alert); err != nil {
			h.logger.Warn().Err(err).Str("alert_id", alert.ID.String()).Msg("failed to publish alert event")
		}
	}
	c.JSON(http.StatusCreated, alert)
}

// Dismiss marks an alert processed without opening an incident.
// POST /api/v1/alerts/:id/dismiss
func (h *AlertsHandler) Dismiss(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	alertID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.store.MarkAlertProcessed(c.Request.Context(), id.TenantID, alertID, nil); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
