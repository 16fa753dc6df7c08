package siem

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookTokenSetting is the tenant setting holding the shared webhook token.
const WebhookTokenSetting = "siem_webhook_token"

// Store is the persistence the processor needs.
type Store interface {
	CorrelationStore
	CreateSIEMEvent(ctx context.Context, e *models.SIEMEvent) error
	CreateSecurityAlert(ctx context.Context, a *models.SecurityAlert) error
	ListPlaybooks(ctx context.Context, tenantID uuid.UUID, enabledOnly bool) ([]*models.Playbook, error)
	GetTenantSetting(ctx context.Context, tenantID uuid.UUID, key string) (*models.TenantSetting, error)
}

// PlaybookRunner executes a playbook against an event and persists the run.
type PlaybookRunner interface {
	Run(ctx context.Context, pb *models.Playbook, event *models.SIEMEvent) (*models.PlaybookRun, error)
}

// RunSummary is the short form of a triggered playbook run.
type RunSummary struct {
	RunID      uuid.UUID                `json:"run_id"`
	PlaybookID uuid.UUID                `json:"playbook_id"`
	Status     models.PlaybookRunStatus `json:"status"`
}

// Result is returned by Process.
type Result struct {
	EventID       uuid.UUID       `json:"event_id"`
	Severity      models.Severity `json:"severity"`
	Vendor        string          `json:"vendor"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	RelatedEvents int             `json:"related_events"`
	AlertID       *uuid.UUID      `json:"alert_id,omitempty"`
	Runs          []RunSummary    `json:"runs"`
}

// Processor ingests SIEM webhooks.
type Processor struct {
	store      Store
	correlator *Correlator
	runner     PlaybookRunner
	publisher  events.Publisher
	metrics    *metrics.PrometheusMetrics
	logger     zerolog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(store Store, correlator *Correlator, runner PlaybookRunner, publisher events.Publisher, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Processor {
	return &Processor{
		store:      store,
		correlator: correlator,
		runner:     runner,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.With().Str("component", "siem_processor").Logger(),
	}
}

// Authenticate checks token against the tenant's configured webhook token.
// A tenant without a token configured rejects every webhook.
func (p *Processor) Authenticate(ctx context.Context, tenantID uuid.UUID, token string) error {
	if token == "" {
		return apperr.New(apperr.CodeUnauthorized, "missing webhook token")
	}
	setting, err := p.store.GetTenantSetting(ctx, tenantID, WebhookTokenSetting)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.New(apperr.CodeUnauthorized, "invalid webhook token")
		}
		return fmt.Errorf("get webhook token: %w", err)
	}
	var expected string
	if err := json.Unmarshal(setting.Value, &expected); err != nil || expected == "" {
		return apperr.New(apperr.CodeUnauthorized, "invalid webhook token")
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return apperr.New(apperr.CodeUnauthorized, "invalid webhook token")
	}
	return nil
}

// Process normalizes, classifies, correlates and stores a payload. High and
// critical events also raise an alert and trigger matching playbooks.
func (p *Processor) Process(ctx context.Context, tenantID uuid.UUID, payload map[string]any) (*Result, error) {
	event, err := Normalize(tenantID, payload)
	if err != nil {
		return nil, err
	}
	event.Severity = DetectSeverity(event)

	related, err := p.correlator.Correlate(ctx, event)
	if err != nil {
		return nil, err
	}

	if err := p.store.CreateSIEMEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("store siem event: %w", err)
	}
	p.metrics.RecordSIEMEvent(event.Vendor, string(event.Severity))

	logger := p.logger.With().
		Str("tenant_id", tenantID.String()).
		Str("event_id", event.ID.String()).
		Str("vendor", event.Vendor).
		Str("severity", string(event.Severity)).
		Logger()
	logger.Info().Int("related_events", related).Msg("siem event ingested")

	result := &Result{
		EventID:       event.ID,
		Severity:      event.Severity,
		Vendor:        event.Vendor,
		CorrelationID: *event.CorrelationID,
		RelatedEvents: related,
		Runs:          []RunSummary{},
	}

	if !event.Severity.AtLeast(models.SeverityHigh) {
		return result, nil
	}

	alert := alertFromEvent(event)
	if err := p.store.CreateSecurityAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert for siem event: %w", err)
	}
	result.AlertID = &alert.ID
	if err := p.publisher.Publish(ctx, tenantID, events.AlertRaised, alert); err != nil {
		logger.Warn().Err(err).Msg("failed to publish alert event")
	}

	playbooks, err := p.store.ListPlaybooks(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	for _, pb := range playbooks {
		if !event.Severity.AtLeast(pb.TriggerSeverity) {
			continue
		}
		run, err := p.runner.Run(ctx, pb, event)
		if err != nil {
			logger.Error().Err(err).Str("playbook_id", pb.ID.String()).Msg("playbook run failed to start")
			continue
		}
		result.Runs = append(result.Runs, RunSummary{RunID: run.ID, PlaybookID: pb.ID, Status: run.Status})
	}
	return result, nil
}

func alertFromEvent(e *models.SIEMEvent) *models.SecurityAlert {
	title := e.EventType
	if title == "" {
		title = e.Message
	}
	title = models.Truncate(title, models.MaxAlertTitleLen)
	a := models.NewSecurityAlert(e.TenantID, "siem:"+e.Vendor, e.Severity, title)
	a.Description = e.Message
	a.SourceIP = e.SourceIP
	a.Raw = e.Raw
	return a
}
