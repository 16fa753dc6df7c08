package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/siem"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookTokenHeader carries the per-tenant SIEM webhook secret.
const WebhookTokenHeader = "X-Aegis-Webhook-Token"

// SIEMProcessor authenticates and ingests vendor webhook payloads.
type SIEMProcessor interface {
	Authenticate(ctx context.Context, tenantID uuid.UUID, token string) error
	Process(ctx context.Context, tenantID uuid.UUID, payload map[string]any) (*siem.Result, error)
}

// WebhooksHandler handles inbound SIEM webhooks. It is mounted outside the
// JWT-protected group; callers authenticate with WebhookTokenHeader.
type WebhooksHandler struct {
	processor SIEMProcessor
	logger    zerolog.Logger
}

// NewWebhooksHandler creates a new WebhooksHandler.
func NewWebhooksHandler(processor SIEMProcessor, logger zerolog.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		processor: processor,
		logger:    logger.With().Str("component", "webhooks_handler").Logger(),
	}
}

// RegisterRoutes registers webhook routes on the given router group.
func (h *WebhooksHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/siem/:tenant_id", h.SIEM)
}

// SIEM normalizes one vendor event and runs correlation and playbooks on it.
// POST /webhooks/siem/:tenant_id
func (h *WebhooksHandler) SIEM(c *gin.Context) {
	tenantID, ok := parseID(c, "tenant_id")
	if !ok {
		return
	}
	if err := h.processor.Authenticate(c.Request.Context(), tenantID, c.GetHeader(WebhookTokenHeader)); err != nil {
		h.logger.Warn().Str("tenant_id", tenantID.String()).Str("client_ip", c.ClientIP()).Msg("rejected siem webhook")
		apperr.Respond(c, err)
		return
	}

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		apperr.Respond(c, apperr.BadRequest("payload must be a JSON object"))
		return
	}
	if payload == nil {
		apperr.Respond(c, apperr.BadRequest("payload must be a JSON object"))
		return
	}

	res, err := h.processor.Process(c.Request.Context(), tenantID, payload)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
