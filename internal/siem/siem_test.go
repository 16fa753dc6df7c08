package siem

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return m
}

func TestDetectVendor(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"splunk result", `{"result":{"_raw":"x"}}`, VendorSplunk},
		{"splunk search", `{"search_name":"Brute Force"}`, VendorSplunk},
		{"qradar offense", `{"offense_id":42}`, VendorQRadar},
		{"qradar magnitude", `{"magnitude":7,"description":"x"}`, VendorQRadar},
		{"guardduty detail", `{"detail":{"type":"Recon:EC2/PortProbe","severity":5}}`, VendorGuardDuty},
		{"guardduty source", `{"source":"aws.guardduty","detail":{}}`, VendorGuardDuty},
		{"azure properties", `{"properties":{"severity":"High"}}`, VendorAzure},
		{"azure display name", `{"alertDisplayName":"Suspicious login"}`, VendorAzure},
		{"elk timestamp", `{"@timestamp":"2024-01-01T00:00:00Z","message":"x"}`, VendorELK},
		{"elk source", `{"_source":{"message":"x"}}`, VendorELK},
		{"generic", `{"message":"hello"}`, VendorGeneric},
		{"elk timestamp without message", `{"@timestamp":"2024-01-01T00:00:00Z"}`, VendorGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectVendor(decode(t, tt.payload)); got != tt.want {
				t.Errorf("DetectVendor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize_Vendors(t *testing.T) {
	tenantID := uuid.New()

	t.Run("splunk", func(t *testing.T) {
		e, err := Normalize(tenantID, decode(t, `{
			"search_name":"Excessive Failed Logins",
			"result":{"_raw":"failed login for admin","src":"10.0.0.5","dest":"10.0.0.9","host":"web-1","user":"admin","severity":"4","_time":"1700000000"}
		}`))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if e.Vendor != VendorSplunk || e.SourceIP != "10.0.0.5" || e.DestinationIP != "10.0.0.9" {
			t.Errorf("unexpected mapping: %+v", e)
		}
		if e.EventType != "Excessive Failed Logins" || e.Username != "admin" || e.Hostname != "web-1" {
			t.Errorf("unexpected mapping: %+v", e)
		}
		if !e.OccurredAt.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("OccurredAt = %v", e.OccurredAt)
		}
		if e.TenantID != tenantID {
			t.Error("tenant not set")
		}
	})

	t.Run("qradar", func(t *testing.T) {
		e, err := Normalize(tenantID, decode(t, `{"offense_id":7,"offense_type":"Source IP","description":"Multiple exploit attempts","offense_source":"192.168.1.20","magnitude":8,"start_time":1700000000000}`))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if e.SourceIP != "192.168.1.20" || e.NativeSeverity != "8" {
			t.Errorf("unexpected mapping: %+v", e)
		}
		if !e.OccurredAt.Equal(time.UnixMilli(1700000000000)) {
			t.Errorf("OccurredAt = %v", e.OccurredAt)
		}
	})

	t.Run("guardduty", func(t *testing.T) {
		e, err := Normalize(tenantID, decode(t, `{
			"source":"aws.guardduty",
			"time":"2024-03-01T10:00:00Z",
			"detail":{
				"type":"UnauthorizedAccess:EC2/SSHBruteForce",
				"title":"SSH brute force against i-123",
				"severity":8,
				"resource":{"instanceDetails":{"instanceId":"i-123"}},
				"service":{"action":{"networkConnectionAction":{"remoteIpDetails":{"ipAddressV4":"203.0.113.4"}}}}
			}
		}`))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if e.SourceIP != "203.0.113.4" || e.Hostname != "i-123" || e.NativeSeverity != "8" {
			t.Errorf("unexpected mapping: %+v", e)
		}
		if e.OccurredAt.Year() != 2024 {
			t.Errorf("OccurredAt = %v", e.OccurredAt)
		}
	})

	t.Run("azure", func(t *testing.T) {
		e, err := Normalize(tenantID, decode(t, `{"properties":{"alertDisplayName":"Suspicious PowerShell","description":"Encoded command","severity":"Medium","compromisedEntity":"DESKTOP-1","timeGenerated":"2024-03-01T10:00:00Z"}}`))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if e.Vendor != VendorAzure || e.Message != "Encoded command" || e.Hostname != "DESKTOP-1" || e.NativeSeverity != "Medium" {
			t.Errorf("unexpected mapping: %+v", e)
		}
	})

	t.Run("elk source", func(t *testing.T) {
		e, err := Normalize(tenantID, decode(t, `{"_source":{"@timestamp":"2024-03-01T10:00:00Z","message":"port scan","source":{"ip":"198.51.100.7"},"host":{"name":"fw-1"},"event":{"severity":"warning"}}}`))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if e.SourceIP != "198.51.100.7" || e.Hostname != "fw-1" || e.NativeSeverity != "warning" {
			t.Errorf("unexpected mapping: %+v", e)
		}
	})

	t.Run("generic defaults time to now", func(t *testing.T) {
		before := time.Now().Add(-time.Second)
		e, err := Normalize(tenantID, decode(t, `{"message":"hello","source_ip":"10.1.1.1"}`))
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		if e.OccurredAt.Before(before) {
			t.Errorf("OccurredAt = %v, want about now", e.OccurredAt)
		}
		if len(e.Raw) == 0 {
			t.Error("raw payload should be kept")
		}
	})
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", `{}`},
		{"missing message", `{"source_ip":"10.0.0.1"}`},
		{"invalid ip", `{"message":"x","source_ip":"not-an-ip"}`},
		{"oversized message", `{"message":"` + strings.Repeat("a", MaxMessageBytes+1) + `"}`},
		{"oversized splunk search name", `{"search_name":"` + strings.Repeat("a", 300) + `","result":{"_raw":"x"}}`},
		{"oversized native severity", `{"message":"x","severity":"` + strings.Repeat("h", 51) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(uuid.New(), decode(t, tt.payload))
			if !errors.Is(err, apperr.ErrBadRequest) {
				t.Errorf("expected bad request, got %v", err)
			}
		})
	}
}

func TestKeywordSeverity(t *testing.T) {
	tests := []struct {
		text string
		want models.Severity
	}{
		{"Ransomware detected on host", models.SeverityCritical},
		{"possible data exfiltration", models.SeverityCritical},
		{"Privilege Escalation attempt", models.SeverityCritical},
		{"malware quarantined", models.SeverityHigh},
		{"SSH brute force", models.SeverityHigh},
		{"brute-force against vpn", models.SeverityHigh},
		{"suspicious process", models.SeverityMedium},
		{"failed login for bob", models.SeverityMedium},
		{"highway traffic", models.SeverityLow},
		{"user logged in", models.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := KeywordSeverity(tt.text); got != tt.want {
				t.Errorf("KeywordSeverity(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestNativeSeverity(t *testing.T) {
	tests := []struct {
		vendor string
		value  string
		want   models.Severity
		ok     bool
	}{
		{VendorAzure, "High", models.SeverityHigh, true},
		{VendorAzure, "Informational", models.SeverityLow, true},
		{VendorELK, "warning", models.SeverityMedium, true},
		{VendorQRadar, "9", models.SeverityCritical, true},
		{VendorQRadar, "6", models.SeverityMedium, true},
		{VendorGuardDuty, "7.5", models.SeverityHigh, true},
		{VendorGuardDuty, "2", models.SeverityLow, true},
		{VendorSplunk, "5", models.SeverityCritical, true},
		{VendorSplunk, "3", models.SeverityMedium, true},
		{VendorGeneric, "", "", false},
		{VendorGeneric, "bogus", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.vendor+"/"+tt.value, func(t *testing.T) {
			got, ok := NativeSeverity(tt.vendor, tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NativeSeverity() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDetectSeverity_MaxOfNativeAndKeyword(t *testing.T) {
	e := &models.SIEMEvent{Vendor: VendorAzure, NativeSeverity: "Low", Message: "ransomware note dropped"}
	if got := DetectSeverity(e); got != models.SeverityCritical {
		t.Errorf("DetectSeverity() = %q, want critical from keyword", got)
	}

	e = &models.SIEMEvent{Vendor: VendorQRadar, NativeSeverity: "8", Message: "login"}
	if got := DetectSeverity(e); got != models.SeverityHigh {
		t.Errorf("DetectSeverity() = %q, want high from native", got)
	}

	e = &models.SIEMEvent{Vendor: VendorGeneric, Message: "login"}
	if got := DetectSeverity(e); got != models.SeverityLow {
		t.Errorf("DetectSeverity() = %q, want low", got)
	}
}

// mockStore implements Store for testing.
type mockStore struct {
	related      []*models.SIEMEvent
	relatedErr   error
	events       []*models.SIEMEvent
	alerts       []*models.SecurityAlert
	playbooks    []*models.Playbook
	settings     map[string]json.RawMessage
	createErr    error
	lastSince    time.Time
	lastUntil    time.Time
	correlatedIP string
}

func (m *mockStore) FindCorrelatedEvents(_ context.Context, _ uuid.UUID, sourceIP string, since, until time.Time) ([]*models.SIEMEvent, error) {
	m.correlatedIP = sourceIP
	m.lastSince = since
	m.lastUntil = until
	return m.related, m.relatedErr
}

func (m *mockStore) CreateSIEMEvent(_ context.Context, e *models.SIEMEvent) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockStore) CreateSecurityAlert(_ context.Context, a *models.SecurityAlert) error {
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *mockStore) ListPlaybooks(_ context.Context, _ uuid.UUID, _ bool) ([]*models.Playbook, error) {
	return m.playbooks, nil
}

func (m *mockStore) GetTenantSetting(_ context.Context, tenantID uuid.UUID, key string) (*models.TenantSetting, error) {
	v, ok := m.settings[key]
	if !ok {
		return nil, apperr.NotFound("setting")
	}
	return &models.TenantSetting{TenantID: tenantID, Key: key, Value: v}, nil
}

type mockRunner struct {
	ran []uuid.UUID
}

func (m *mockRunner) Run(_ context.Context, pb *models.Playbook, e *models.SIEMEvent) (*models.PlaybookRun, error) {
	m.ran = append(m.ran, pb.ID)
	run := models.NewPlaybookRun(pb.TenantID, pb.ID, &e.ID)
	run.Finish(models.PlaybookRunCompleted)
	return run, nil
}

func TestCorrelator(t *testing.T) {
	tenantID := uuid.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("reuses existing correlation id", func(t *testing.T) {
		existing := uuid.New()
		store := &mockStore{related: []*models.SIEMEvent{{CorrelationID: &existing}, {}}}
		c := NewCorrelator(store, 0)

		e := &models.SIEMEvent{TenantID: tenantID, SourceIP: "10.0.0.1", OccurredAt: now}
		n, err := c.Correlate(context.Background(), e)
		if err != nil {
			t.Fatalf("Correlate() error = %v", err)
		}
		if n != 2 {
			t.Errorf("related = %d, want 2", n)
		}
		if e.CorrelationID == nil || *e.CorrelationID != existing {
			t.Errorf("CorrelationID = %v, want %v", e.CorrelationID, existing)
		}
		if !store.lastSince.Equal(now.Add(-DefaultCorrelationWindow)) || !store.lastUntil.Equal(now) {
			t.Errorf("window = [%v, %v]", store.lastSince, store.lastUntil)
		}
	})

	t.Run("mints new id when nothing related", func(t *testing.T) {
		store := &mockStore{}
		c := NewCorrelator(store, 5*time.Minute)

		e := &models.SIEMEvent{TenantID: tenantID, SourceIP: "10.0.0.1", OccurredAt: now}
		n, err := c.Correlate(context.Background(), e)
		if err != nil {
			t.Fatalf("Correlate() error = %v", err)
		}
		if n != 0 || e.CorrelationID == nil {
			t.Errorf("related = %d, id = %v", n, e.CorrelationID)
		}
		if !store.lastSince.Equal(now.Add(-5 * time.Minute)) {
			t.Errorf("since = %v", store.lastSince)
		}
	})

	t.Run("no source ip skips lookup", func(t *testing.T) {
		store := &mockStore{}
		c := NewCorrelator(store, 0)

		e := &models.SIEMEvent{TenantID: tenantID, OccurredAt: now}
		if _, err := c.Correlate(context.Background(), e); err != nil {
			t.Fatalf("Correlate() error = %v", err)
		}
		if store.correlatedIP != "" || e.CorrelationID == nil {
			t.Error("expected new id without a lookup")
		}
	})

	t.Run("store error", func(t *testing.T) {
		c := NewCorrelator(&mockStore{relatedErr: errors.New("db down")}, 0)
		e := &models.SIEMEvent{TenantID: tenantID, SourceIP: "10.0.0.1", OccurredAt: now}
		if _, err := c.Correlate(context.Background(), e); err == nil {
			t.Error("expected error")
		}
	})
}

func newTestProcessor(store *mockStore, runner *mockRunner) *Processor {
	return NewProcessor(store, NewCorrelator(store, 0), runner, events.NewNoopPublisher(zerolog.Nop()), nil, zerolog.Nop())
}

func TestProcessor_LowSeverityStoresOnly(t *testing.T) {
	store := &mockStore{}
	runner := &mockRunner{}
	p := newTestProcessor(store, runner)

	res, err := p.Process(context.Background(), uuid.New(), decode(t, `{"message":"user logged in","source_ip":"10.0.0.1"}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Severity != models.SeverityLow || res.Vendor != VendorGeneric {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(store.events) != 1 || len(store.alerts) != 0 || len(runner.ran) != 0 {
		t.Errorf("events=%d alerts=%d runs=%d", len(store.events), len(store.alerts), len(runner.ran))
	}
	if res.AlertID != nil {
		t.Error("low severity should not raise an alert")
	}
	if res.Runs == nil {
		t.Error("Runs should be an empty slice")
	}
}

func TestProcessor_HighSeverityTriggersPlaybooks(t *testing.T) {
	tenantID := uuid.New()
	critical := models.NewPlaybook(tenantID, "critical only", nil)
	critical.TriggerSeverity = models.SeverityCritical
	high := models.NewPlaybook(tenantID, "high and up", nil)
	high.TriggerSeverity = models.SeverityHigh
	low := models.NewPlaybook(tenantID, "everything", nil)
	low.TriggerSeverity = models.SeverityLow

	store := &mockStore{playbooks: []*models.Playbook{critical, high, low}}
	runner := &mockRunner{}
	p := newTestProcessor(store, runner)

	res, err := p.Process(context.Background(), tenantID, decode(t, `{"message":"malware beacon","source_ip":"10.0.0.1"}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Severity != models.SeverityHigh {
		t.Fatalf("Severity = %q, want high", res.Severity)
	}
	if res.AlertID == nil || len(store.alerts) != 1 {
		t.Fatal("expected alert to be raised")
	}
	if store.alerts[0].Source != "siem:generic" || store.alerts[0].SourceIP != "10.0.0.1" {
		t.Errorf("unexpected alert: %+v", store.alerts[0])
	}
	if len(runner.ran) != 2 {
		t.Fatalf("expected 2 playbooks to run, got %d", len(runner.ran))
	}
	for _, id := range runner.ran {
		if id == critical.ID {
			t.Error("critical-only playbook should not run for a high event")
		}
	}
	if len(res.Runs) != 2 {
		t.Errorf("Runs = %d, want 2", len(res.Runs))
	}
}

func TestProcessor_NormalizeErrorIsBadRequest(t *testing.T) {
	store := &mockStore{}
	p := newTestProcessor(store, &mockRunner{})

	_, err := p.Process(context.Background(), uuid.New(), decode(t, `{"source_ip":"10.0.0.1"}`))
	if !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("expected bad request, got %v", err)
	}
	if len(store.events) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestProcessor_Authenticate(t *testing.T) {
	tenantID := uuid.New()
	store := &mockStore{settings: map[string]json.RawMessage{
		WebhookTokenSetting: json.RawMessage(`"s3cr3t-token-value"`),
	}}
	p := newTestProcessor(store, &mockRunner{})

	if err := p.Authenticate(context.Background(), tenantID, "s3cr3t-token-value"); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
	for _, tok := range []string{"", "wrong"} {
		if err := p.Authenticate(context.Background(), tenantID, tok); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("token %q: expected unauthorized, got %v", tok, err)
		}
	}

	unset := newTestProcessor(&mockStore{}, &mockRunner{})
	if err := unset.Authenticate(context.Background(), tenantID, "anything"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized without configured token, got %v", err)
	}
}

func TestAlertFromEvent_TitleKeepsValidUTF8(t *testing.T) {
	e := &models.SIEMEvent{
		TenantID:  uuid.New(),
		Vendor:    VendorSplunk,
		EventType: strings.Repeat("a", 199) + "é ransomware",
		Severity:  models.SeverityCritical,
		Message:   "encrypted files detected",
	}
	a := alertFromEvent(e)
	if !utf8.ValidString(a.Title) {
		t.Fatal("alert title is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(a.Title); n != models.MaxAlertTitleLen {
		t.Errorf("title runes = %d, want %d", n, models.MaxAlertTitleLen)
	}
	if a.Severity != models.SeverityCritical || a.Source != "siem:splunk" {
		t.Errorf("alert = %+v", a)
	}
}
