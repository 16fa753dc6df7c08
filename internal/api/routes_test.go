package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MacJediWizard/aegis/internal/advisory"
	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/config"
	"github.com/MacJediWizard/aegis/internal/incidents"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/reports"
	"github.com/MacJediWizard/aegis/internal/siem"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type stubVerifier struct{ identity *auth.Identity }

func (s stubVerifier) Verify(raw string) (*auth.Identity, error) {
	if raw != "good" {
		return nil, auth.ErrInvalidToken
	}
	return s.identity, nil
}

type stubDB struct{}

func (stubDB) Ping(context.Context) error { return nil }
func (stubDB) Health() map[string]any     { return nil }

type stubSettings struct{}

func (stubSettings) Get(context.Context, uuid.UUID, string) (*models.TenantSetting, error) {
	return nil, apperr.NotFound("setting")
}
func (stubSettings) List(context.Context, uuid.UUID) ([]*models.TenantSetting, error) {
	return nil, nil
}
func (stubSettings) Set(context.Context, uuid.UUID, string, json.RawMessage, *uuid.UUID) (*models.TenantSetting, error) {
	return nil, nil
}
func (stubSettings) Delete(context.Context, uuid.UUID, string) error { return nil }

type stubBackups struct{}

func (stubBackups) ListBackupSchedules(context.Context, uuid.UUID) ([]*models.BackupSchedule, error) {
	return nil, nil
}
func (stubBackups) GetBackupSchedule(context.Context, uuid.UUID, uuid.UUID) (*models.BackupSchedule, error) {
	return nil, apperr.NotFound("backup schedule")
}
func (stubBackups) CreateBackupSchedule(context.Context, *models.BackupSchedule) error { return nil }
func (stubBackups) UpdateBackupSchedule(context.Context, *models.BackupSchedule) error { return nil }
func (stubBackups) DeleteBackupSchedule(context.Context, uuid.UUID, uuid.UUID) error   { return nil }
func (stubBackups) ListBackupJobs(context.Context, uuid.UUID, int) ([]*models.BackupJob, error) {
	return nil, nil
}
func (stubBackups) GetBackupJob(context.Context, uuid.UUID, uuid.UUID) (*models.BackupJob, error) {
	return nil, apperr.NotFound("backup job")
}
func (stubBackups) TriggerManual(context.Context, uuid.UUID, uuid.UUID) (*models.BackupJob, error) {
	return nil, apperr.NotFound("backup schedule")
}
func (stubBackups) Check(context.Context, uuid.UUID, uuid.UUID) (*models.DependencyStatus, error) {
	return &models.DependencyStatus{Ready: true}, nil
}
func (stubBackups) AddDependency(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error { return nil }

type stubExporter struct{}

func (stubExporter) Export(context.Context, uuid.UUID, reports.ExportRequest) (*reports.ExportResult, error) {
	return nil, apperr.BadRequest("unsupported")
}
func (stubExporter) Status(context.Context, uuid.UUID, uuid.UUID) (*models.ReportExport, error) {
	return nil, apperr.NotFound("report export")
}
func (stubExporter) Download(context.Context, uuid.UUID, uuid.UUID) (*reports.ExportResult, error) {
	return nil, apperr.NotFound("report export")
}

type stubIncidents struct{}

func (stubIncidents) Create(context.Context, uuid.UUID, incidents.CreateRequest) (*models.SecurityIncident, error) {
	return nil, nil
}
func (stubIncidents) Get(context.Context, uuid.UUID, uuid.UUID) (*models.SecurityIncident, error) {
	return nil, apperr.NotFound("incident")
}
func (stubIncidents) List(context.Context, uuid.UUID, string, int) ([]*models.SecurityIncident, error) {
	return nil, nil
}
func (stubIncidents) UpdateStatus(context.Context, uuid.UUID, uuid.UUID, models.IncidentStatus) (*models.SecurityIncident, error) {
	return nil, nil
}
func (stubIncidents) Detect(context.Context, uuid.UUID) (*incidents.DetectionResult, error) {
	return &incidents.DetectionResult{}, nil
}

type stubAlerts struct{}

func (stubAlerts) CreateSecurityAlert(context.Context, *models.SecurityAlert) error { return nil }
func (stubAlerts) ListSecurityAlerts(context.Context, uuid.UUID, int) ([]*models.SecurityAlert, error) {
	return nil, nil
}
func (stubAlerts) MarkAlertProcessed(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID) error {
	return nil
}

type stubAdvisory struct{}

func (stubAdvisory) Generate(context.Context, uuid.UUID, advisory.GenerateRequest) ([]*models.AiRecommendation, error) {
	return nil, nil
}
func (stubAdvisory) Get(context.Context, uuid.UUID, uuid.UUID) (*models.AiRecommendation, error) {
	return nil, apperr.NotFound("recommendation")
}
func (stubAdvisory) List(context.Context, uuid.UUID, string) ([]*models.AiRecommendation, error) {
	return nil, nil
}
func (stubAdvisory) Feedback(context.Context, uuid.UUID, uuid.UUID, models.RecommendationStatus, string) (*models.AiRecommendation, error) {
	return nil, nil
}

type stubPlaybooks struct{}

func (stubPlaybooks) Create(context.Context, *models.Playbook) error { return nil }
func (stubPlaybooks) Update(context.Context, *models.Playbook) error { return nil }
func (stubPlaybooks) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Playbook, error) {
	return nil, apperr.NotFound("playbook")
}
func (stubPlaybooks) List(context.Context, uuid.UUID) ([]*models.Playbook, error) { return nil, nil }
func (stubPlaybooks) Delete(context.Context, uuid.UUID, uuid.UUID) error        { return nil }
func (stubPlaybooks) GetRun(context.Context, uuid.UUID, uuid.UUID) (*models.PlaybookRun, error) {
	return nil, apperr.NotFound("playbook run")
}
func (stubPlaybooks) RunByID(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID) (*models.PlaybookRun, error) {
	return nil, apperr.NotFound("playbook")
}
func (stubPlaybooks) Import(context.Context, uuid.UUID, []byte) (*models.Playbook, error) {
	return nil, nil
}

type stubSIEM struct{}

func (stubSIEM) Authenticate(_ context.Context, _ uuid.UUID, token string) error {
	if token != "hook-secret" {
		return apperr.New(apperr.CodeUnauthorized, "invalid webhook token")
	}
	return nil
}
func (stubSIEM) Process(context.Context, uuid.UUID, map[string]any) (*siem.Result, error) {
	return &siem.Result{EventID: uuid.New()}, nil
}

func testDependencies(identity *auth.Identity) Dependencies {
	return Dependencies{
		Verifier:      stubVerifier{identity: identity},
		Database:      stubDB{},
		Gatherer:      prometheus.NewRegistry(),
		Settings:      stubSettings{},
		Backups:       stubBackups{},
		BackupTrigger: stubBackups{},
		Dependencies:  stubBackups{},
		Exporter:      stubExporter{},
		Incidents:     stubIncidents{},
		Detector:      stubIncidents{},
		Alerts:        stubAlerts{},
		Advisory:      stubAdvisory{},
		Playbooks:     stubPlaybooks{},
		SIEM:          stubSIEM{},
	}
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	identity := &auth.Identity{UserID: uuid.New(), TenantID: uuid.New(), Role: auth.RoleViewer}
	router, err := NewRouter(DefaultConfig(), testDependencies(identity), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		header map[string]string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", nil, http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", nil, http.StatusOK},
		{"api requires token", http.MethodGet, "/api/v1/settings", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/settings", "bad", nil, http.StatusUnauthorized},
		{"viewer can read", http.MethodGet, "/api/v1/backup-schedules", "good", nil, http.StatusOK},
		{"viewer cannot detect", http.MethodPost, "/api/v1/incidents/detect", "good", nil, http.StatusForbidden},
		{"webhook skips jwt", http.MethodPost, "/webhooks/siem/" + identity.TenantID.String(), "", map[string]string{"X-Aegis-Webhook-Token": "hook-secret"}, http.StatusCreated},
		{"webhook without secret", http.MethodPost, "/webhooks/siem/" + identity.TenantID.String(), "good", nil, http.StatusUnauthorized},
		{"webhook not under api prefix", http.MethodPost, "/api/v1/webhooks/siem/" + identity.TenantID.String(), "", map[string]string{"X-Aegis-Webhook-Token": "hook-secret"}, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/nope", "good", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.method == http.MethodPost {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"event":"x"}`))
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.Engine.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestNewRouter_Validation(t *testing.T) {
	deps := testDependencies(nil)
	deps.Verifier = nil
	if _, err := NewRouter(DefaultConfig(), deps, zerolog.Nop()); err == nil {
		t.Error("expected error without a verifier")
	}

	cfg := DefaultConfig()
	cfg.Environment = config.EnvProduction
	if _, err := NewRouter(cfg, testDependencies(nil), zerolog.Nop()); err == nil {
		t.Error("expected error for production without CORS origins")
	}

	cfg = DefaultConfig()
	cfg.RateLimitPeriod = "often"
	if _, err := NewRouter(cfg, testDependencies(nil), zerolog.Nop()); err == nil {
		t.Error("expected error for an invalid rate limit period")
	}
}
