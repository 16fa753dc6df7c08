package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/soar"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockPlaybookService struct {
	playbooks map[uuid.UUID]*models.Playbook
	runs      map[uuid.UUID]*models.PlaybookRun
	lastEvent *uuid.UUID
	imported  []byte
}

func newMockPlaybookService() *mockPlaybookService {
	return &mockPlaybookService{
		playbooks: make(map[uuid.UUID]*models.Playbook),
		runs:      make(map[uuid.UUID]*models.PlaybookRun),
	}
}

func (m *mockPlaybookService) validate(p *models.Playbook) error {
	for i, s := range p.Steps {
		if s.Action != "log" && s.Action != "notify" {
			return apperr.BadRequest("step %d: unknown action %q", i+1, s.Action)
		}
	}
	return nil
}

func (m *mockPlaybookService) Create(_ context.Context, p *models.Playbook) error {
	if err := m.validate(p); err != nil {
		return err
	}
	m.playbooks[p.ID] = p
	return nil
}

func (m *mockPlaybookService) Update(_ context.Context, p *models.Playbook) error {
	if err := m.validate(p); err != nil {
		return err
	}
	m.playbooks[p.ID] = p
	return nil
}

func (m *mockPlaybookService) Get(_ context.Context, tenantID, id uuid.UUID) (*models.Playbook, error) {
	p, ok := m.playbooks[id]
	if !ok || p.TenantID != tenantID {
		return nil, apperr.NotFound("playbook")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPlaybookService) List(_ context.Context, tenantID uuid.UUID) ([]*models.Playbook, error) {
	var out []*models.Playbook
	for _, p := range m.playbooks {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPlaybookService) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	if _, err := m.Get(context.Background(), tenantID, id); err != nil {
		return err
	}
	delete(m.playbooks, id)
	return nil
}

func (m *mockPlaybookService) GetRun(_ context.Context, _, id uuid.UUID) (*models.PlaybookRun, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, apperr.NotFound("playbook run")
	}
	return run, nil
}

func (m *mockPlaybookService) RunByID(ctx context.Context, tenantID, playbookID uuid.UUID, eventID *uuid.UUID) (*models.PlaybookRun, error) {
	if _, err := m.Get(ctx, tenantID, playbookID); err != nil {
		return nil, err
	}
	m.lastEvent = eventID
	run := models.NewPlaybookRun(tenantID, playbookID, eventID)
	run.Finish(models.PlaybookRunCompleted)
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockPlaybookService) Import(ctx context.Context, tenantID uuid.UUID, data []byte) (*models.Playbook, error) {
	m.imported = data
	p := models.NewPlaybook(tenantID, "imported", []models.PlaybookStep{{Action: "log"}})
	return p, m.Create(ctx, p)
}

func TestPlaybooksHandler_CRUD(t *testing.T) {
	admin := testIdentity(auth.RoleAdmin)
	svc := newMockPlaybookService()
	r := setupTestRouter(NewPlaybooksHandler(svc, nil, zerolog.Nop()), admin)

	w := doRequest(r, http.MethodPost, "/api/v1/playbooks", `{"name":"Contain host","trigger_severity":"critical","steps":[{"action":"log"},{"action":"notify","on_failure":"continue"}]}`)
	expectStatus(t, w, http.StatusCreated)
	var pb models.Playbook
	decodeJSON(t, w, &pb)
	if pb.TriggerSeverity != models.SeverityCritical || len(pb.Steps) != 2 || !pb.IsEnabled {
		t.Fatalf("unexpected playbook %+v", pb)
	}

	w = doRequest(r, http.MethodPost, "/api/v1/playbooks", `{"name":"Bad","steps":[{"action":"format_disk"}]}`)
	expectStatus(t, w, http.StatusBadRequest)
	expectErrorCode(t, w, apperr.CodeBadRequest)

	w = doRequest(r, http.MethodPut, "/api/v1/playbooks/"+pb.ID.String(), `{"name":"Contain host v2","steps":[{"action":"log"}],"is_enabled":false}`)
	expectStatus(t, w, http.StatusOK)
	if got := svc.playbooks[pb.ID]; got.Name != "Contain host v2" || got.IsEnabled {
		t.Errorf("update not applied: %+v", got)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/playbooks", "")
	expectStatus(t, w, http.StatusOK)

	w = doRequest(r, http.MethodDelete, "/api/v1/playbooks/"+pb.ID.String(), "")
	expectStatus(t, w, http.StatusNoContent)

	w = doRequest(r, http.MethodGet, "/api/v1/playbooks/"+pb.ID.String(), "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestPlaybooksHandler_Run(t *testing.T) {
	analyst := testIdentity(auth.RoleAnalyst)
	svc := newMockPlaybookService()
	pb := models.NewPlaybook(analyst.TenantID, "Notify", []models.PlaybookStep{{Action: "notify"}})
	pb.IsEnabled = false
	svc.playbooks[pb.ID] = pb
	r := setupTestRouter(NewPlaybooksHandler(svc, nil, zerolog.Nop()), analyst)

	w := doRequest(r, http.MethodPost, "/api/v1/playbooks/"+pb.ID.String()+"/run", "")
	expectStatus(t, w, http.StatusOK)
	var run models.PlaybookRun
	decodeJSON(t, w, &run)
	if run.Status != models.PlaybookRunCompleted {
		t.Errorf("expected completed run, got %q", run.Status)
	}
	if svc.lastEvent != nil {
		t.Errorf("expected no event, got %v", svc.lastEvent)
	}

	eventID := uuid.New()
	w = doRequest(r, http.MethodPost, "/api/v1/playbooks/"+pb.ID.String()+"/run", `{"event_id":"`+eventID.String()+`"}`)
	expectStatus(t, w, http.StatusOK)
	if svc.lastEvent == nil || *svc.lastEvent != eventID {
		t.Errorf("expected event %s, got %v", eventID, svc.lastEvent)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/playbook-runs/"+run.ID.String(), "")
	expectStatus(t, w, http.StatusOK)

	w = doRequest(r, http.MethodPut, "/api/v1/playbooks/"+pb.ID.String(), `{"name":"x","steps":[{"action":"log"}]}`)
	expectStatus(t, w, http.StatusForbidden)
}

func TestPlaybooksHandler_ImportAndTemplates(t *testing.T) {
	admin := testIdentity(auth.RoleAdmin)
	svc := newMockPlaybookService()
	templates := []soar.Template{{Slug: "critical-alert", YAML: "name: x\n"}}
	r := setupTestRouter(NewPlaybooksHandler(svc, templates, zerolog.Nop()), admin)

	w := doRequest(r, http.MethodGet, "/api/v1/playbooks/templates", "")
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "critical-alert") {
		t.Errorf("expected template in body: %s", w.Body.String())
	}

	doc := "name: imported\nsteps:\n  - action: log\n"
	w = doRequest(r, http.MethodPost, "/api/v1/playbooks/import", doc)
	expectStatus(t, w, http.StatusCreated)
	if string(svc.imported) != doc {
		t.Errorf("expected raw document to reach the service, got %q", svc.imported)
	}

	w = doRequest(r, http.MethodPost, "/api/v1/playbooks/import", strings.Repeat("a", soar.MaxImportBytes+1))
	expectStatus(t, w, http.StatusRequestEntityTooLarge)
	expectErrorCode(t, w, apperr.CodeTooLarge)
}
