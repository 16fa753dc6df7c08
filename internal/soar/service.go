package soar

import (
	"context"
	"fmt"
	"strings"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the SOAR service needs.
type Store interface {
	CreatePlaybook(ctx context.Context, p *models.Playbook) error
	UpdatePlaybook(ctx context.Context, p *models.Playbook) error
	GetPlaybook(ctx context.Context, tenantID, id uuid.UUID) (*models.Playbook, error)
	ListPlaybooks(ctx context.Context, tenantID uuid.UUID, enabledOnly bool) ([]*models.Playbook, error)
	DeletePlaybook(ctx context.Context, tenantID, id uuid.UUID) error
	CreatePlaybookRun(ctx context.Context, r *models.PlaybookRun) error
	UpdatePlaybookRun(ctx context.Context, r *models.PlaybookRun) error
	GetPlaybookRun(ctx context.Context, tenantID, id uuid.UUID) (*models.PlaybookRun, error)
	GetSIEMEvent(ctx context.Context, tenantID, id uuid.UUID) (*models.SIEMEvent, error)
}

// Service manages playbooks and records their runs.
type Service struct {
	store        Store
	orchestrator *Orchestrator
	registry     *Registry
	metrics      *metrics.PrometheusMetrics
	logger       zerolog.Logger
}

// NewService creates a Service.
func NewService(store Store, registry *Registry, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Service {
	return &Service{
		store:        store,
		orchestrator: NewOrchestrator(registry, logger),
		registry:     registry,
		metrics:      m,
		logger:       logger.With().Str("component", "soar_service").Logger(),
	}
}

// Validate checks a playbook before it is stored.
func (s *Service) Validate(p *models.Playbook) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.BadRequest("playbook name is required")
	}
	if len(p.Name) > 200 {
		return apperr.BadRequest("playbook name is too long")
	}
	if p.TriggerSeverity == "" {
		p.TriggerSeverity = models.SeverityHigh
	}
	sev, ok := models.ParseSeverity(string(p.TriggerSeverity))
	if !ok {
		return apperr.BadRequest("invalid trigger_severity %q", p.TriggerSeverity)
	}
	p.TriggerSeverity = sev
	if len(p.Steps) == 0 {
		return apperr.BadRequest("playbook must have at least one step")
	}
	for i, step := range p.Steps {
		if _, ok := s.registry.Lookup(step.Action); !ok {
			return apperr.BadRequest("step %d: unknown action %q (known: %s)", i+1, step.Action, strings.Join(s.registry.Names(), ", "))
		}
		switch step.OnFailure {
		case "", models.FailurePolicyStop, models.FailurePolicyContinue:
		default:
			return apperr.BadRequest("step %d: on_failure must be stop or continue", i+1)
		}
	}
	return nil
}

// Create validates and stores a new playbook.
func (s *Service) Create(ctx context.Context, p *models.Playbook) error {
	if err := s.Validate(p); err != nil {
		return err
	}
	if err := s.store.CreatePlaybook(ctx, p); err != nil {
		return fmt.Errorf("create playbook: %w", err)
	}
	return nil
}

// Update validates and stores changes to an existing playbook.
func (s *Service) Update(ctx context.Context, p *models.Playbook) error {
	if err := s.Validate(p); err != nil {
		return err
	}
	if err := s.store.UpdatePlaybook(ctx, p); err != nil {
		return fmt.Errorf("update playbook: %w", err)
	}
	return nil
}

// Get returns one playbook.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Playbook, error) {
	return s.store.GetPlaybook(ctx, tenantID, id)
}

// List returns the tenant's playbooks.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Playbook, error) {
	return s.store.ListPlaybooks(ctx, tenantID, false)
}

// Delete removes a playbook.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.store.DeletePlaybook(ctx, tenantID, id)
}

// GetRun returns one playbook run.
func (s *Service) GetRun(ctx context.Context, tenantID, id uuid.UUID) (*models.PlaybookRun, error) {
	return s.store.GetPlaybookRun(ctx, tenantID, id)
}

// Run executes pb against event and persists the run. The run record is
// created before the first step so a crash leaves it visible as running.
func (s *Service) Run(ctx context.Context, pb *models.Playbook, event *models.SIEMEvent) (*models.PlaybookRun, error) {
	var eventID *uuid.UUID
	if event != nil {
		id := event.ID
		eventID = &id
	}
	run := models.NewPlaybookRun(pb.TenantID, pb.ID, eventID)
	if err := s.store.CreatePlaybookRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create playbook run: %w", err)
	}

	s.orchestrator.Execute(ctx, pb, event, run)

	if err := s.store.UpdatePlaybookRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, fmt.Errorf("update playbook run: %w", err)
	}
	s.metrics.RecordPlaybookRun(string(run.Status))
	return run, nil
}

// RunByID loads the playbook and optional event and runs it. Disabled playbooks
// can still be run by hand.
func (s *Service) RunByID(ctx context.Context, tenantID, playbookID uuid.UUID, eventID *uuid.UUID) (*models.PlaybookRun, error) {
	pb, err := s.store.GetPlaybook(ctx, tenantID, playbookID)
	if err != nil {
		return nil, err
	}
	var event *models.SIEMEvent
	if eventID != nil {
		event, err = s.store.GetSIEMEvent(ctx, tenantID, *eventID)
		if err != nil {
			return nil, err
		}
	}
	return s.Run(ctx, pb, event)
}
