// Package ai provides LLM-backed alert classification and GRC recommendations.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/MacJediWizard/aegis/internal/models"
)

// ErrEmptyResponse is returned when the model produced no usable content.
var ErrEmptyResponse = errors.New("ai: empty response")

// Classification is the model's verdict on a single alert.
type Classification struct {
	Category   string          `json:"category"`
	Severity   models.Severity `json:"severity"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary"`
	Confidence float64         `json:"confidence"`
}

// Classifier turns a critical alert into incident metadata.
type Classifier interface {
	ClassifyAlert(ctx context.Context, alert *models.SecurityAlert) (*Classification, error)
}

// AdviceRequest is the context a recommendation is generated for.
type AdviceRequest struct {
	ContextType string          `json:"context_type"`
	ContextID   string          `json:"context_id,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// Advice is one recommendation produced by an Advisor.
type Advice struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Rationale  string   `json:"rationale"`
	Actions    []string `json:"actions"`
	Confidence float64  `json:"confidence"`
}

// Advisor produces recommendations for a GRC context.
type Advisor interface {
	Recommend(ctx context.Context, req AdviceRequest) ([]Advice, error)
}

// normalize fills gaps in a model classification so downstream code can rely on it.
func (c *Classification) normalize(fallback models.Severity) {
	if sev, ok := models.ParseSeverity(string(c.Severity)); ok {
		c.Severity = sev
	} else {
		c.Severity = fallback
	}
	c.Category = models.Truncate(strings.TrimSpace(c.Category), models.MaxCategoryLen)
	if c.Category == "" {
		c.Category = "other"
	}
	c.Title = models.Truncate(strings.TrimSpace(c.Title), models.MaxTitleLen)
	c.Confidence = models.ClampConfidence(c.Confidence)
}
