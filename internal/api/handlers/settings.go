package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SettingsService reads and writes tenant settings.
type SettingsService interface {
	Get(ctx context.Context, tenantID uuid.UUID, key string) (*models.TenantSetting, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantSetting, error)
	Set(ctx context.Context, tenantID uuid.UUID, key string, value json.RawMessage, updatedBy *uuid.UUID) (*models.TenantSetting, error)
	Delete(ctx context.Context, tenantID uuid.UUID, key string) error
}

// SettingsHandler handles tenant settings endpoints.
type SettingsHandler struct {
	service SettingsService
	logger  zerolog.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(service SettingsService, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		service: service,
		logger:  logger.With().Str("component", "settings_handler").Logger(),
	}
}

// RegisterRoutes registers settings routes on the given router group.
func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	settings := r.Group("/settings")
	{
		settings.GET("", perm(auth.PermSettingsRead), h.List)
		settings.GET("/:key", perm(auth.PermSettingsRead), h.Get)
		settings.PUT("/:key", perm(auth.PermSettingsWrite), h.Put)
		settings.DELETE("/:key", perm(auth.PermSettingsWrite), h.Delete)
	}
}

// PutSettingRequest is the request body for writing a setting.
type PutSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// List returns every setting of the caller's tenant.
// GET /api/v1/settings
func (h *SettingsHandler) List(c *gin.Context) {
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
		list = []*models.TenantSetting{}
	}
	c.JSON(http.StatusOK, gin.H{"settings": list})
}

// Get returns one setting.
// GET /api/v1/settings/:key
func (h *SettingsHandler) Get(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	setting, err := h.service.Get(c.Request.Context(), id.TenantID, c.Param("key"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

// Put creates or replaces a setting.
// PUT /api/v1/settings/:key
func (h *SettingsHandler) Put(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	var req PutSettingRequest
	if !bindJSON(c, &req) {
		return
	}

	setting, err := h.service.Set(c.Request.Context(), id.TenantID, c.Param("key"), req.Value, &id.UserID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

// Delete removes a setting.
// DELETE /api/v1/settings/:key
func (h *SettingsHandler) Delete(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id.TenantID, c.Param("key")); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
