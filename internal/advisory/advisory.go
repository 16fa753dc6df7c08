// Package advisory generates and tracks AI recommendations for GRC context.
package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MacJediWizard/aegis/internal/ai"
	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxContextBytes bounds the context document sent to the advisor.
const MaxContextBytes = 16 * 1024

// Store is the persistence the advisory service needs.
type Store interface {
	CreateRecommendation(ctx context.Context, r *models.AiRecommendation) error
	GetRecommendation(ctx context.Context, tenantID, id uuid.UUID) (*models.AiRecommendation, error)
	ListRecommendations(ctx context.Context, tenantID uuid.UUID, status string) ([]*models.AiRecommendation, error)
	UpdateRecommendationStatus(ctx context.Context, r *models.AiRecommendation) error
}

// GenerateRequest asks for recommendations on a piece of context.
type GenerateRequest struct {
	ContextType string          `json:"context_type" binding:"required"`
	ContextID   string          `json:"context_id"`
	Context     json.RawMessage `json:"context"`
}

// Service generates recommendations and records reviewer feedback.
type Service struct {
	store    Store
	advisor  ai.Advisor
	fallback ai.Advisor
	logger   zerolog.Logger
}

// NewService creates a Service. A nil advisor uses the rule-based advisor.
func NewService(store Store, advisor ai.Advisor, logger zerolog.Logger) *Service {
	fallback := ai.NewHeuristicClient()
	if advisor == nil {
		advisor = fallback
	}
	return &Service{
		store:    store,
		advisor:  advisor,
		fallback: fallback,
		logger:   logger.With().Str("component", "advisory").Logger(),
	}
}

// Generate asks the advisor for recommendations and stores each one as pending.
func (s *Service) Generate(ctx context.Context, tenantID uuid.UUID, req GenerateRequest) ([]*models.AiRecommendation, error) {
	req.ContextType = strings.ToLower(strings.TrimSpace(req.ContextType))
	if req.ContextType == "" {
		return nil, apperr.BadRequest("context_type is required")
	}
	if utf8.RuneCountInString(req.ContextType) > models.MaxContextTypeLen {
		return nil, apperr.BadRequest("context_type exceeds %d characters", models.MaxContextTypeLen)
	}
	req.ContextID = strings.TrimSpace(req.ContextID)
	if utf8.RuneCountInString(req.ContextID) > models.MaxContextIDLen {
		return nil, apperr.BadRequest("context_id exceeds %d characters", models.MaxContextIDLen)
	}
	if len(req.Context) > MaxContextBytes {
		return nil, apperr.BadRequest("context exceeds %d bytes", MaxContextBytes)
	}
	if len(req.Context) > 0 && !json.Valid(req.Context) {
		return nil, apperr.BadRequest("context must be valid JSON")
	}

	adviceReq := ai.AdviceRequest{ContextType: req.ContextType, ContextID: req.ContextID, Context: req.Context}
	advice, err := s.advisor.Recommend(ctx, adviceReq)
	if err != nil {
		s.logger.Warn().Err(err).Str("context_type", req.ContextType).Msg("advisor failed, using rule-based advice")
		advice, err = s.fallback.Recommend(ctx, adviceReq)
		if err != nil {
			return nil, fmt.Errorf("generate recommendations: %w", err)
		}
	}

	out := make([]*models.AiRecommendation, 0, len(advice))
	for _, a := range advice {
		title := models.Truncate(strings.TrimSpace(a.Title), models.MaxTitleLen)
		if title == "" {
			continue
		}
		rec := models.NewAiRecommendation(tenantID, req.ContextType, req.ContextID, title, a.Summary, a.Confidence)
		rec.Rationale = a.Rationale
		if a.Actions != nil {
			rec.Actions = a.Actions
		}
		if err := s.store.CreateRecommendation(ctx, rec); err != nil {
			return nil, fmt.Errorf("store recommendation: %w", err)
		}
		out = append(out, rec)
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("context_type", req.ContextType).
		Int("count", len(out)).
		Msg("recommendations generated")
	return out, nil
}

// Get returns one recommendation.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.AiRecommendation, error) {
	return s.store.GetRecommendation(ctx, tenantID, id)
}

// List returns recommendations, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status string) ([]*models.AiRecommendation, error) {
	if status != "" && !validStatus(models.RecommendationStatus(status)) {
		return nil, apperr.BadRequest("invalid status filter %q", status)
	}
	return s.store.ListRecommendations(ctx, tenantID, status)
}

// Feedback records a reviewer decision. Moves the workflow does not allow are conflicts.
func (s *Service) Feedback(ctx context.Context, tenantID, id uuid.UUID, status models.RecommendationStatus, feedback string) (*models.AiRecommendation, error) {
	if !validStatus(status) || status == models.RecommendationPending {
		return nil, apperr.BadRequest("invalid status %q", status)
	}
	if len(feedback) > 4000 {
		return nil, apperr.BadRequest("feedback is too long")
	}

	rec, err := s.store.GetRecommendation(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	from := rec.Status
	if err := rec.ApplyFeedback(status, feedback); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil, apperr.Conflict("cannot move recommendation from %s to %s", from, status)
		}
		return nil, err
	}
	if err := s.store.UpdateRecommendationStatus(ctx, rec); err != nil {
		return nil, fmt.Errorf("update recommendation: %w", err)
	}
	return rec, nil
}

func validStatus(s models.RecommendationStatus) bool {
	switch s {
	case models.RecommendationPending, models.RecommendationAccepted, models.RecommendationRejected, models.RecommendationImplemented:
		return true
	}
	return false
}
