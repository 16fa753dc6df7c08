package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/aegis/internal/advisory"
	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AdvisoryService generates and tracks AI recommendations.
type AdvisoryService interface {
	Generate(ctx context.Context, tenantID uuid.UUID, req advisory.GenerateRequest) ([]*models.AiRecommendation, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.AiRecommendation, error)
	List(ctx context.Context, tenantID uuid.UUID, status string) ([]*models.AiRecommendation, error)
	Feedback(ctx context.Context, tenantID, id uuid.UUID, status models.RecommendationStatus, feedback string) (*models.AiRecommendation, error)
}

// RecommendationsHandler handles AI recommendation endpoints.
type RecommendationsHandler struct {
	service AdvisoryService
	logger  zerolog.Logger
}

// NewRecommendationsHandler creates a new RecommendationsHandler.
func NewRecommendationsHandler(service AdvisoryService, logger zerolog.Logger) *RecommendationsHandler {
	return &RecommendationsHandler{
		service: service,
		logger:  logger.With().Str("component", "recommendations_handler").Logger(),
	}
}

// RegisterRoutes registers recommendation routes on the given router group.
func (h *RecommendationsHandler) RegisterRoutes(r *gin.RouterGroup) {
	recs := r.Group("/recommendations")
	{
		recs.GET("", perm(auth.PermRecommendationRead), h.List)
		recs.POST("/generate", perm(auth.PermRecommendationGenerate), h.Generate)
		recs.GET("/:id", perm(auth.PermRecommendationRead), h.Get)
		recs.POST("/:id/feedback", perm(auth.PermRecommendationFeedback), h.Feedback)
	}
}

// FeedbackRequest is the request body for reviewing a recommendation.
type FeedbackRequest struct {
	Status   models.RecommendationStatus `json:"status" binding:"required"`
	Feedback string                      `json:"feedback"`
}

// Generate asks the advisor for recommendations on the given context.
// POST /api/v1/recommendations/generate
func (h *RecommendationsHandler) Generate(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	var req advisory.GenerateRequest
	if !bindJSON(c, &req) {
		return
	}
	recs, err := h.service.Generate(c.Request.Context(), id.TenantID, req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"recommendations": recs})
}

// List returns recommendations, optionally filtered by status.
// GET /api/v1/recommendations
func (h *RecommendationsHandler) List(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	recs, err := h.service.List(c.Request.Context(), id.TenantID, c.Query("status"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if recs == nil {
		recs = []*models.AiRecommendation{}
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

// Get returns a recommendation by ID.
// GET /api/v1/recommendations/:id
func (h *RecommendationsHandler) Get(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	recID, ok := parseID(c, "id")
	if !ok {
		return
	}
	rec, err := h.service.Get(c.Request.Context(), id.TenantID, recID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Feedback records a reviewer decision.
// POST /api/v1/recommendations/:id/feedback
func (h *RecommendationsHandler) Feedback(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	recID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req FeedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.service.Feedback(c.Request.Context(), id.TenantID, recID, req.Status, req.Feedback)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
