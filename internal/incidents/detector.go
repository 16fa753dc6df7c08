// Package incidents turns critical security alerts into incidents and manages
// the incident lifecycle.
package incidents

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/aegis/internal/ai"
	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DetectorStore is the persistence the detector needs.
type DetectorStore interface {
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	ListUnprocessedAlerts(ctx context.Context, tenantID uuid.UUID, severity models.Severity) ([]*models.SecurityAlert, error)
	CreateIncidentFromAlert(ctx context.Context, i *models.SecurityIncident, alertID uuid.UUID) error
}

// DetectionResult summarizes one detection pass.
type DetectionResult struct {
	Scanned   int         `json:"scanned"`
	Created   int         `json:"created"`
	Failed    int         `json:"failed"`
	Incidents []uuid.UUID `json:"incident_ids"`
}

func (r *DetectionResult) add(o DetectionResult) {
	r.Scanned += o.Scanned
	r.Created += o.Created
	r.Failed += o.Failed
	r.Incidents = append(r.Incidents, o.Incidents...)
}

// Detector creates incidents from unprocessed critical alerts.
type Detector struct {
	store      DetectorStore
	classifier ai.Classifier
	fallback   ai.Classifier
	publisher  events.Publisher
	metrics    *metrics.PrometheusMetrics
	logger     zerolog.Logger
}

// NewDetector creates a Detector. When classifier is nil the heuristic classifier is used alone.
func NewDetector(store DetectorStore, classifier ai.Classifier, publisher events.Publisher, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Detector {
	fallback := ai.NewHeuristicClient()
	if classifier == nil {
		classifier = fallback
	}
	return &Detector{
		store:      store,
		classifier: classifier,
		fallback:   fallback,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.With().Str("component", "incident_detector").Logger(),
	}
}

// Detect processes the tenant's unprocessed critical alerts. A failure on one
// alert is logged and counted, and the remaining alerts are still processed.
func (d *Detector) Detect(ctx context.Context, tenantID uuid.UUID) (*DetectionResult, error) {
	alerts, err := d.store.ListUnprocessedAlerts(ctx, tenantID, models.SeverityCritical)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed alerts: %w", err)
	}

	result := &DetectionResult{Scanned: len(alerts), Incidents: []uuid.UUID{}}
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		inc, err := d.processAlert(ctx, alert)
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				d.logger.Debug().Str("alert_id", alert.ID.String()).Msg("alert already processed")
				continue
			}
			result.Failed++
			d.logger.Error().Err(err).
				Str("tenant_id", tenantID.String()).
				Str("alert_id", alert.ID.String()).
				Msg("failed to create incident from alert")
			continue
		}
		result.Created++
		result.Incidents = append(result.Incidents, inc.ID)
	}

	if result.Scanned > 0 {
		d.logger.Info().
			Str("tenant_id", tenantID.String()).
			Int("scanned", result.Scanned).
			Int("created", result.Created).
			Int("failed", result.Failed).
			Msg("incident detection pass complete")
	}
	return result, nil
}

// DetectAll runs Detect for every tenant. A tenant that fails is logged and skipped.
func (d *Detector) DetectAll(ctx context.Context) (*DetectionResult, error) {
	tenants, err := d.store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	total := &DetectionResult{Incidents: []uuid.UUID{}}
	for _, t := range tenants {
		res, err := d.Detect(ctx, t.ID)
		if res != nil {
			total.add(*res)
		}
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			d.logger.Error().Err(err).Str("tenant_id", t.ID.String()).Msg("incident detection failed for tenant")
		}
	}
	return total, nil
}

func (d *Detector) processAlert(ctx context.Context, alert *models.SecurityAlert) (*models.SecurityIncident, error) {
	c, err := d.classifier.ClassifyAlert(ctx, alert)
	if err != nil {
		d.logger.Warn().Err(err).Str("alert_id", alert.ID.String()).Msg("classifier failed, using heuristic")
		c, err = d.fallback.ClassifyAlert(ctx, alert)
		if err != nil {
			return nil, fmt.Errorf("classify alert: %w", err)
		}
	}

	inc := models.NewSecurityIncident(alert.TenantID, c.Title, c.Severity)
	inc.Description = c.Summary
	inc.Category = c.Category
	inc.Confidence = c.Confidence
	alertID := alert.ID
	inc.SourceAlertID = &alertID

	if err := d.store.CreateIncidentFromAlert(ctx, inc, alert.ID); err != nil {
		return nil, err
	}

	d.metrics.RecordIncident("detector")
	if err := d.publisher.Publish(ctx, inc.TenantID, events.IncidentCreated, inc); err != nil {
		d.logger.Warn().Err(err).Str("incident_id", inc.ID.String()).Msg("failed to publish incident event")
	}
	return inc, nil
}
