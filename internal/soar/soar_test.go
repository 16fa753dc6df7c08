package soar

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockPublisher struct {
	keys []string
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, _ uuid.UUID, routingKey string, _ any) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, routingKey)
	return nil
}

// mockStore implements Store and IncidentCreator for testing.
type mockStore struct {
	playbooks map[uuid.UUID]*models.Playbook
	runs      map[uuid.UUID]*models.PlaybookRun
	events    map[uuid.UUID]*models.SIEMEvent
	incidents []*models.SecurityIncident
	sources   []string
	updates   int
}

func newMockStore() *mockStore {
	return &mockStore{
		playbooks: make(map[uuid.UUID]*models.Playbook),
		runs:      make(map[uuid.UUID]*models.PlaybookRun),
		events:    make(map[uuid.UUID]*models.SIEMEvent),
	}
}

func (m *mockStore) CreatePlaybook(_ context.Context, p *models.Playbook) error {
	for _, existing := range m.playbooks {
		if existing.TenantID == p.TenantID && existing.Name == p.Name {
			return apperr.Conflict("playbook already exists")
		}
	}
	m.playbooks[p.ID] = p
	return nil
}

func (m *mockStore) UpdatePlaybook(_ context.Context, p *models.Playbook) error {
	if _, ok := m.playbooks[p.ID]; !ok {
		return apperr.NotFound("playbook")
	}
	m.playbooks[p.ID] = p
	return nil
}

func (m *mockStore) GetPlaybook(_ context.Context, tenantID, id uuid.UUID) (*models.Playbook, error) {
	p, ok := m.playbooks[id]
	if !ok || p.TenantID != tenantID {
		return nil, apperr.NotFound("playbook")
	}
	return p, nil
}

func (m *mockStore) ListPlaybooks(_ context.Context, tenantID uuid.UUID, enabledOnly bool) ([]*models.Playbook, error) {
	var out []*models.Playbook
	for _, p := range m.playbooks {
		if p.TenantID == tenantID && (!enabledOnly || p.IsEnabled) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) DeletePlaybook(_ context.Context, tenantID, id uuid.UUID) error {
	if _, err := m.GetPlaybook(context.Background(), tenantID, id); err != nil {
		return err
	}
	delete(m.playbooks, id)
	return nil
}

func (m *mockStore) CreatePlaybookRun(_ context.Context, r *models.PlaybookRun) error {
	m.runs[r.ID] = r
	return nil
}

func (m *mockStore) UpdatePlaybookRun(_ context.Context, r *models.PlaybookRun) error {
	m.updates++
	m.runs[r.ID] = r
	return nil
}

func (m *mockStore) GetPlaybookRun(_ context.Context, tenantID, id uuid.UUID) (*models.PlaybookRun, error) {
	r, ok := m.runs[id]
	if !ok || r.TenantID != tenantID {
		return nil, apperr.NotFound("playbook run")
	}
	return r, nil
}

func (m *mockStore) GetSIEMEvent(_ context.Context, tenantID, id uuid.UUID) (*models.SIEMEvent, error) {
	e, ok := m.events[id]
	if !ok || e.TenantID != tenantID {
		return nil, apperr.NotFound("siem event")
	}
	return e, nil
}

func (m *mockStore) Open(_ context.Context, i *models.SecurityIncident, source string) error {
	m.incidents = append(m.incidents, i)
	m.sources = append(m.sources, source)
	return nil
}

func testEvent(tenantID uuid.UUID) *models.SIEMEvent {
	return &models.SIEMEvent{
		ID:       uuid.New(),
		TenantID: tenantID,
		Vendor:   "generic",
		Severity: models.SeverityCritical,
		SourceIP: "203.0.113.9",
		Hostname: "db-1",
		Message:  "ransomware detected",
	}
}

func newTestService(store *mockStore, pub *mockPublisher) *Service {
	registry := NewDefaultRegistry(store, pub, zerolog.Nop())
	return NewService(store, registry, nil, zerolog.Nop())
}

func TestOrchestrator_AllStepsSucceed(t *testing.T) {
	store := newMockStore()
	pub := &mockPublisher{}
	o := NewOrchestrator(NewDefaultRegistry(store, pub, zerolog.Nop()), zerolog.Nop())

	tenantID := uuid.New()
	event := testEvent(tenantID)
	pb := models.NewPlaybook(tenantID, "contain", []models.PlaybookStep{
		{Name: "log", Action: ActionLog},
		{Name: "block", Action: ActionBlockIP},
		{Name: "isolate", Action: ActionIsolateHost},
		{Name: "ticket", Action: ActionCreateTicket},
		{Name: "enrich", Action: ActionEnrichIP},
		{Name: "notify", Action: ActionNotify, Params: map[string]any{"channel": "soc"}},
		{Name: "incident", Action: ActionCreateIncident},
	})
	run := models.NewPlaybookRun(tenantID, pb.ID, &event.ID)

	o.Execute(context.Background(), pb, event, run)

	if run.Status != models.PlaybookRunCompleted {
		t.Fatalf("Status = %q, want completed", run.Status)
	}
	if len(run.StepResults) != 7 {
		t.Fatalf("expected 7 step results, got %d", len(run.StepResults))
	}
	for _, r := range run.StepResults {
		if r.Status != models.StepStatusSucceeded {
			t.Errorf("step %s status = %q", r.Name, r.Status)
		}
	}
	if got := run.StepResults[1].Output["simulated"]; got != true {
		t.Errorf("block_ip should be simulated, got %v", got)
	}
	if got := run.StepResults[1].Output["ip"]; got != "203.0.113.9" {
		t.Errorf("block_ip ip = %v", got)
	}
	if len(pub.keys) != 1 || pub.keys[0] != "soar.notify" {
		t.Errorf("published = %v", pub.keys)
	}
	if len(store.incidents) != 1 || store.incidents[0].Severity != models.SeverityCritical {
		t.Errorf("expected one critical incident, got %+v", store.incidents)
	}
	if len(store.sources) != 1 || store.sources[0] != IncidentSourcePlaybook {
		t.Errorf("incident source = %v, want %q", store.sources, IncidentSourcePlaybook)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}

func TestOrchestrator_StopPolicyHalts(t *testing.T) {
	store := newMockStore()
	o := NewOrchestrator(NewDefaultRegistry(store, &mockPublisher{}, zerolog.Nop()), zerolog.Nop())

	tenantID := uuid.New()
	pb := models.NewPlaybook(tenantID, "halt", []models.PlaybookStep{
		{Name: "first", Action: ActionLog},
		{Name: "bad", Action: "launch_missiles"},
		{Name: "never", Action: ActionCreateIncident},
	})
	run := models.NewPlaybookRun(tenantID, pb.ID, nil)

	o.Execute(context.Background(), pb, nil, run)

	if run.Status != models.PlaybookRunFailed {
		t.Fatalf("Status = %q, want failed", run.Status)
	}
	want := []models.StepStatus{models.StepStatusSucceeded, models.StepStatusFailed, models.StepStatusSkipped}
	for i, w := range want {
		if run.StepResults[i].Status != w {
			t.Errorf("step %d status = %q, want %q", i, run.StepResults[i].Status, w)
		}
	}
	if run.StepResults[1].Error == "" {
		t.Error("failed step should carry an error")
	}
	if len(store.incidents) != 0 {
		t.Error("steps after a stop failure must not run")
	}
}

func TestOrchestrator_ContinuePolicyIsPartial(t *testing.T) {
	store := newMockStore()
	o := NewOrchestrator(NewDefaultRegistry(store, &mockPublisher{}, zerolog.Nop()), zerolog.Nop())

	tenantID := uuid.New()
	pb := models.NewPlaybook(tenantID, "partial", []models.PlaybookStep{
		// No event and no ip parameter, so block_ip fails.
		{Name: "block", Action: ActionBlockIP, OnFailure: models.FailurePolicyContinue},
		{Name: "incident", Action: ActionCreateIncident, Params: map[string]any{"title": "manual", "severity": "low"}},
	})
	run := models.NewPlaybookRun(tenantID, pb.ID, nil)

	o.Execute(context.Background(), pb, nil, run)

	if run.Status != models.PlaybookRunPartial {
		t.Fatalf("Status = %q, want partial", run.Status)
	}
	if len(store.incidents) != 1 {
		t.Fatal("step after a continue failure should run")
	}
	if store.incidents[0].Title != "manual" || store.incidents[0].Severity != models.SeverityLow {
		t.Errorf("unexpected incident: %+v", store.incidents[0])
	}
}

func TestOrchestrator_ActionError(t *testing.T) {
	registry := NewRegistry()
	registry.Register("boom", func(context.Context, ActionInput) (map[string]any, error) {
		return nil, errors.New("exploded")
	})
	o := NewOrchestrator(registry, zerolog.Nop())

	pb := models.NewPlaybook(uuid.New(), "boom", []models.PlaybookStep{{Action: "boom"}})
	run := models.NewPlaybookRun(pb.TenantID, pb.ID, nil)
	o.Execute(context.Background(), pb, nil, run)

	if run.Status != models.PlaybookRunFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
	if run.StepResults[0].Name != "step-1" || run.StepResults[0].Error != "exploded" {
		t.Errorf("unexpected result: %+v", run.StepResults[0])
	}
}

func TestService_Validate(t *testing.T) {
	s := newTestService(newMockStore(), &mockPublisher{})
	tenantID := uuid.New()

	tests := []struct {
		name    string
		pb      *models.Playbook
		wantErr bool
	}{
		{"valid", models.NewPlaybook(tenantID, "ok", []models.PlaybookStep{{Action: ActionLog}}), false},
		{"no name", models.NewPlaybook(tenantID, "  ", []models.PlaybookStep{{Action: ActionLog}}), true},
		{"no steps", models.NewPlaybook(tenantID, "empty", nil), true},
		{"unknown action", models.NewPlaybook(tenantID, "bad", []models.PlaybookStep{{Action: "nope"}}), true},
		{"bad policy", models.NewPlaybook(tenantID, "bad", []models.PlaybookStep{{Action: ActionLog, OnFailure: "retry"}}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.pb)
			if tt.wantErr && !errors.Is(err, apperr.ErrBadRequest) {
				t.Errorf("expected bad request, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	pb := models.NewPlaybook(tenantID, "sev", []models.PlaybookStep{{Action: ActionLog}})
	pb.TriggerSeverity = "extreme"
	if err := s.Validate(pb); err == nil {
		t.Error("expected error for invalid trigger severity")
	}
}

func TestService_RunPersists(t *testing.T) {
	store := newMockStore()
	s := newTestService(store, &mockPublisher{})
	tenantID := uuid.New()

	pb := models.NewPlaybook(tenantID, "persist", []models.PlaybookStep{{Action: ActionLog}})
	if err := s.Create(context.Background(), pb); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	event := testEvent(tenantID)
	store.events[event.ID] = event

	run, err := s.RunByID(context.Background(), tenantID, pb.ID, &event.ID)
	if err != nil {
		t.Fatalf("RunByID() error = %v", err)
	}
	if run.Status != models.PlaybookRunCompleted || store.updates != 1 {
		t.Errorf("status = %q, updates = %d", run.Status, store.updates)
	}
	if run.EventID == nil || *run.EventID != event.ID {
		t.Error("run should reference the event")
	}

	got, err := s.GetRun(context.Background(), tenantID, run.ID)
	if err != nil || got.ID != run.ID {
		t.Errorf("GetRun() = %v, %v", got, err)
	}

	if _, err := s.RunByID(context.Background(), uuid.New(), pb.ID, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("other tenant should get not found, got %v", err)
	}
	missing := uuid.New()
	if _, err := s.RunByID(context.Background(), tenantID, pb.ID, &missing); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing event should be not found, got %v", err)
	}
}

func TestService_Import(t *testing.T) {
	store := newMockStore()
	s := newTestService(store, &mockPublisher{})
	tenantID := uuid.New()

	doc := []byte(`
name: Phishing triage
trigger_severity: Critical
enabled: false
steps:
  - action: enrich_ip
    on_failure: continue
  - action: create_ticket
`)
	pb, err := s.Import(context.Background(), tenantID, doc)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if pb.Name != "Phishing triage" || pb.TriggerSeverity != models.SeverityCritical || pb.IsEnabled {
		t.Errorf("unexpected playbook: %+v", pb)
	}
	if len(pb.Steps) != 2 || pb.Steps[0].Policy() != models.FailurePolicyContinue || pb.Steps[1].Policy() != models.FailurePolicyStop {
		t.Errorf("unexpected steps: %+v", pb.Steps)
	}

	if _, err := s.Import(context.Background(), tenantID, doc); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate import should conflict, got %v", err)
	}
	if _, err := s.Import(context.Background(), tenantID, []byte("steps: [")); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("bad yaml should be bad request, got %v", err)
	}
	if _, err := s.Import(context.Background(), tenantID, nil); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("empty doc should be bad request, got %v", err)
	}
}

func TestLoadBuiltInTemplates(t *testing.T) {
	templates, err := LoadBuiltInTemplates()
	if err != nil {
		t.Fatalf("LoadBuiltInTemplates() error = %v", err)
	}
	if len(templates) < 3 {
		t.Fatalf("expected at least 3 templates, got %d", len(templates))
	}

	s := newTestService(newMockStore(), &mockPublisher{})
	for _, tpl := range templates {
		if tpl.Playbook.ID != templateID(tpl.Slug) {
			t.Errorf("template %s has a non-deterministic id", tpl.Slug)
		}
		if err := s.Validate(tpl.Playbook); err != nil {
			t.Errorf("template %s is invalid: %v", tpl.Slug, err)
		}
	}
}

func TestCreateIncidentAction_LongTitleKeepsValidUTF8(t *testing.T) {
	store := newMockStore()
	o := NewOrchestrator(NewDefaultRegistry(store, &mockPublisher{}, zerolog.Nop()), zerolog.Nop())

	tenantID := uuid.New()
	event := testEvent(tenantID)
	event.Message = strings.Repeat("a", models.MaxTitleLen-1) + "é and more"
	pb := models.NewPlaybook(tenantID, "long", []models.PlaybookStep{{Name: "incident", Action: ActionCreateIncident}})
	run := models.NewPlaybookRun(tenantID, pb.ID, &event.ID)

	o.Execute(context.Background(), pb, event, run)

	if run.Status != models.PlaybookRunCompleted || len(store.incidents) != 1 {
		t.Fatalf("status = %q, incidents = %d", run.Status, len(store.incidents))
	}
	title := store.incidents[0].Title
	if !utf8.ValidString(title) || utf8.RuneCountInString(title) != models.MaxTitleLen {
		t.Errorf("title runes = %d valid = %v", utf8.RuneCountInString(title), utf8.ValidString(title))
	}
}
