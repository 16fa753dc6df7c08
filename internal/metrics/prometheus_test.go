package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}
	return m, reg
}

func TestRecordBackup(t *testing.T) {
	m, _ := newTestMetrics(t)

	for range 3 {
		m.RecordBackup("completed")
	}
	m.RecordBackup("failed")
	m.RecordBackup("skipped")

	tests := map[string]float64{"completed": 3, "failed": 1, "skipped": 1}
	for status, want := range tests {
		if got := testutil.ToFloat64(m.BackupCounter.WithLabelValues(status)); got != want {
			t.Errorf("backups{status=%q} = %v, want %v", status, got, want)
		}
	}
	if n := testutil.CollectAndCount(m.BackupCounter); n != 3 {
		t.Errorf("series = %d, want 3", n)
	}
}

func TestRecordBackupDuration(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackupDuration("database", 120.5)
	m.RecordBackupDuration("database", 60)
	m.RecordBackupDuration("files", 2)

	var out dto.Metric
	if err := m.BackupDuration.WithLabelValues("database").(prometheus.Metric).Write(&out); err != nil {
		t.Fatalf("write: %v", err)
	}
	h := out.GetHistogram()
	if h.GetSampleCount() != 2 || h.GetSampleSum() != 180.5 {
		t.Errorf("database histogram count=%d sum=%v", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestDomainCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSIEMEvent("splunk", "high")
	m.RecordSIEMEvent("splunk", "high")
	m.RecordSIEMEvent("elk", "low")
	m.RecordIncident("detector")
	m.RecordExport("async")
	m.RecordPlaybookRun("partial")

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"siem splunk/high", m.SIEMEventCounter.WithLabelValues("splunk", "high"), 2},
		{"siem elk/low", m.SIEMEventCounter.WithLabelValues("elk", "low"), 1},
		{"incident detector", m.IncidentCounter.WithLabelValues("detector"), 1},
		{"export async", m.ExportCounter.WithLabelValues("async"), 1},
		{"export sync", m.ExportCounter.WithLabelValues("sync"), 0},
		{"playbook partial", m.PlaybookRunCounter.WithLabelValues("partial"), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *PrometheusMetrics
	m.RecordBackup("completed")
	m.RecordBackupDuration("database", 1)
	m.RecordSIEMEvent("elk", "low")
	m.RecordIncident("manual")
	m.RecordExport("sync")
	m.RecordPlaybookRun("completed")
}

func TestNewPrometheusMetrics_DuplicateRegistration(t *testing.T) {
	_, reg := newTestMetrics(t)
	if _, err := NewPrometheusMetrics(reg); err == nil {
		t.Fatal("second registration on the same registry should fail")
	}
}

func TestHandler(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordExport("sync")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if body := rec.Body.String(); !strings.Contains(body, `aegis_report_exports_total{mode="sync"} 1`) {
		t.Errorf("scrape missing export counter:\n%s", body)
	}
}
