package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
)

const recommendationColumns = `id, tenant_id, context_type, context_id, title, summary, rationale, actions,
	confidence, status, feedback, created_at, updated_at`

func scanRecommendation(row rowScanner) (*models.AiRecommendation, error) {
	var r models.AiRecommendation
	var contextID, rationale, feedback *string
	var status string
	var actions []byte
	err := row.Scan(
		&r.ID, &r.TenantID, &r.ContextType, &contextID, &r.Title, &r.Summary, &rationale, &actions,
		&r.Confidence, &status, &feedback, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ContextID = derefString(contextID)
	r.Rationale = derefString(rationale)
	r.Feedback = derefString(feedback)
	r.Status = models.RecommendationStatus(status)
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("parse recommendation actions: %w", err)
	}
	return &r, nil
}

// CreateRecommendation inserts a recommendation.
func (db *DB) CreateRecommendation(ctx context.Context, r *models.AiRecommendation) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal recommendation actions: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO ai_recommendations (id, tenant_id, context_type, context_id, title, summary, rationale,
		                                actions, confidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.TenantID, r.ContextType, nullString(r.ContextID), r.Title, r.Summary, nullString(r.Rationale),
		actions, r.Confidence, string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create recommendation: %w", err)
	}
	return nil
}

// GetRecommendation returns a recommendation owned by the tenant.
func (db *DB) GetRecommendation(ctx context.Context, tenantID, id uuid.UUID) (*models.AiRecommendation, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+recommendationColumns+` FROM ai_recommendations WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	r, err := scanRecommendation(row)
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", apperr.FromDB("recommendation", err))
	}
	return r, nil
}

// ListRecommendations returns a tenant's recommendations, optionally filtered by status.
func (db *DB) ListRecommendations(ctx context.Context, tenantID uuid.UUID, status string) ([]*models.AiRecommendation, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+recommendationColumns+`
		FROM ai_recommendations
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, tenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []*models.AiRecommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// UpdateRecommendationStatus persists review feedback.
func (db *DB) UpdateRecommendationStatus(ctx context.Context, r *models.AiRecommendation) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE ai_recommendations SET status = $3, feedback = $4, updated_at = $5
		WHERE tenant_id = $1 AND id = $2
	`, r.TenantID, r.ID, string(r.Status), nullString(r.Feedback), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update recommendation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("recommendation")
	}
	return nil
}
