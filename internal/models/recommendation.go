package models

import (
	"time"

	"github.com/google/uuid"
)

// RecommendationStatus is the review state of an AI recommendation.
type RecommendationStatus string

const (
	RecommendationPending     RecommendationStatus = "pending"
	RecommendationAccepted    RecommendationStatus = "accepted"
	RecommendationRejected    RecommendationStatus = "rejected"
	RecommendationImplemented RecommendationStatus = "implemented"
)

var recommendationTransitions = map[RecommendationStatus][]RecommendationStatus{
	RecommendationPending:  {RecommendationAccepted, RecommendationRejected},
	RecommendationAccepted: {RecommendationImplemented},
}

// AiRecommendation is advisory output generated for a piece of GRC context.
type AiRecommendation struct {
	ID          uuid.UUID            `json:"id"`
	TenantID    uuid.UUID            `json:"tenant_id"`
	ContextType string               `json:"context_type"`
	ContextID   string               `json:"context_id,omitempty"`
	Title       string               `json:"title"`
	Summary     string               `json:"summary"`
	Rationale   string               `json:"rationale,omitempty"`
	Actions     []string             `json:"actions"`
	Confidence  float64              `json:"confidence"`
	Status      RecommendationStatus `json:"status"`
	Feedback    string               `json:"feedback,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewAiRecommendation creates a pending recommendation, clamping confidence to [0,1].
func NewAiRecommendation(tenantID uuid.UUID, contextType, contextID, title, summary string, confidence float64) *AiRecommendation {
	now := time.Now()
	return &AiRecommendation{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ContextType: contextType,
		ContextID:   contextID,
		Title:       title,
		Summary:     summary,
		Actions:     []string{},
		Confidence:  ClampConfidence(confidence),
		Status:      RecommendationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// ApplyFeedback moves the recommendation to next.
func (r *AiRecommendation) ApplyFeedback(next RecommendationStatus, feedback string) error {
	allowed := false
	for _, s := range recommendationTransitions[r.Status] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}
	r.Status = next
	if feedback != "" {
		r.Feedback = feedback
	}
	r.UpdatedAt = time.Now()
	return nil
}
