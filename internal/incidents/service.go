package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the incident service needs.
type Store interface {
	CreateSecurityIncident(ctx context.Context, i *models.SecurityIncident) error
	GetSecurityIncident(ctx context.Context, tenantID, id uuid.UUID) (*models.SecurityIncident, error)
	ListSecurityIncidents(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]*models.SecurityIncident, error)
	UpdateSecurityIncidentStatus(ctx context.Context, i *models.SecurityIncident, from models.IncidentStatus) error
}

// CreateRequest is the input for a manually reported incident.
type CreateRequest struct {
	Title       string          `json:"title" binding:"required,max=200"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity" binding:"required"`
	Category    string          `json:"category"`
}

// StatusChange is the payload of an incident.status_changed event.
type StatusChange struct {
	IncidentID uuid.UUID             `json:"incident_id"`
	From       models.IncidentStatus `json:"from"`
	To         models.IncidentStatus `json:"to"`
}

// Service manages incidents.
type Service struct {
	store     Store
	publisher events.Publisher
	metrics   *metrics.PrometheusMetrics
	logger    zerolog.Logger
}

// NewService creates a Service.
func NewService(store Store, publisher events.Publisher, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("component", "incidents").Logger(),
	}
}

// Create stores a manually reported incident.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest) (*models.SecurityIncident, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.BadRequest("title is required")
	}
	sev, ok := models.ParseSeverity(string(req.Severity))
	if !ok {
		return nil, apperr.BadRequest("invalid severity %q", req.Severity)
	}

	inc := models.NewSecurityIncident(tenantID, title, sev)
	inc.Description = req.Description
	inc.Category = req.Category
	inc.Confidence = 1
	if err := s.Open(ctx, inc, "manual"); err != nil {
		return nil, err
	}
	return inc, nil
}

// Open stores an incident built by another component and announces it.
// source labels the incidents_created metric.
func (s *Service) Open(ctx context.Context, inc *models.SecurityIncident, source string) error {
	inc.Title = models.Truncate(inc.Title, models.MaxTitleLen)
	inc.Category = models.Truncate(inc.Category, models.MaxCategoryLen)
	if err := s.store.CreateSecurityIncident(ctx, inc); err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	s.metrics.RecordIncident(source)
	s.publish(ctx, inc.TenantID, events.IncidentCreated, inc)
	return nil
}

// Get returns one incident.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.SecurityIncident, error) {
	return s.store.GetSecurityIncident(ctx, tenantID, id)
}

// List returns incidents, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]*models.SecurityIncident, error) {
	if status != "" {
		switch models.IncidentStatus(status) {
		case models.IncidentStatusOpen, models.IncidentStatusInvestigating, models.IncidentStatusResolved, models.IncidentStatusClosed:
		default:
			return nil, apperr.BadRequest("invalid status filter %q", status)
		}
	}
	return s.store.ListSecurityIncidents(ctx, tenantID, status, limit)
}

// UpdateStatus moves an incident through its lifecycle. A transition the
// lifecycle does not allow is a conflict.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.IncidentStatus) (*models.SecurityIncident, error) {
	switch status {
	case models.IncidentStatusOpen, models.IncidentStatusInvestigating, models.IncidentStatusResolved, models.IncidentStatusClosed:
	default:
		return nil, apperr.BadRequest("invalid status %q", status)
	}

	inc, err := s.store.GetSecurityIncident(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	from := inc.Status
	if err := inc.Transition(status); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil, apperr.Conflict("cannot move incident from %s to %s", from, status)
		}
		return nil, err
	}
	if err := s.store.UpdateSecurityIncidentStatus(ctx, inc, from); err != nil {
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update incident status: %w", err)
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("incident_id", id.String()).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("incident status changed")
	s.publish(ctx, tenantID, events.IncidentStatusChanged, StatusChange{IncidentID: id, From: from, To: status})
	return inc, nil
}

func (s *Service) publish(ctx context.Context, tenantID uuid.UUID, key string, payload any) {
	if err := s.publisher.Publish(ctx, tenantID, key, payload); err != nil {
		s.logger.Warn().Err(err).Str("routing_key", key).Msg("failed to publish incident event")
	}
}
