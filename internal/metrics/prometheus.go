// Package metrics exposes Prometheus metrics for Aegis.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aegis"

// PrometheusMetrics holds the service's collectors. A nil *PrometheusMetrics
// is valid and records nothing.
type PrometheusMetrics struct {
	BackupCounter      *prometheus.CounterVec
	BackupDuration     *prometheus.HistogramVec
	SIEMEventCounter   *prometheus.CounterVec
	IncidentCounter    *prometheus.CounterVec
	ExportCounter      *prometheus.CounterVec
	PlaybookRunCounter *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		BackupCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_jobs_total",
			Help:      "Backup jobs finished, by status.",
		}, []string{"status"}),
		BackupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Backup job duration in seconds, by job type.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job_type"}),
		SIEMEventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "siem_events_total",
			Help:      "SIEM events ingested, by vendor and severity.",
		}, []string{"vendor", "severity"}),
		IncidentCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incidents created, by source.",
		}, []string{"source"}),
		ExportCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_exports_total",
			Help:      "Report exports, by mode (sync or async).",
		}, []string{"mode"}),
		PlaybookRunCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbook_runs_total",
			Help:      "Playbook runs finished, by status.",
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{
		m.BackupCounter, m.BackupDuration, m.SIEMEventCounter,
		m.IncidentCounter, m.ExportCounter, m.PlaybookRunCounter,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// RecordBackup counts a finished backup job.
func (m *PrometheusMetrics) RecordBackup(status string) {
	if m == nil {
		return
	}
	m.BackupCounter.WithLabelValues(status).Inc()
}

// RecordBackupDuration observes a backup job's duration.
func (m *PrometheusMetrics) RecordBackupDuration(jobType string, seconds float64) {
	if m == nil {
		return
	}
	m.BackupDuration.WithLabelValues(jobType).Observe(seconds)
}

// RecordSIEMEvent counts an ingested event.
func (m *PrometheusMetrics) RecordSIEMEvent(vendor, severity string) {
	if m == nil {
		return
	}
	m.SIEMEventCounter.WithLabelValues(vendor, severity).Inc()
}

// RecordIncident counts a created incident.
func (m *PrometheusMetrics) RecordIncident(source string) {
	if m == nil {
		return
	}
	m.IncidentCounter.WithLabelValues(source).Inc()
}

// RecordExport counts an export request.
func (m *PrometheusMetrics) RecordExport(mode string) {
	if m == nil {
		return
	}
	m.ExportCounter.WithLabelValues(mode).Inc()
}

// RecordPlaybookRun counts a finished playbook run.
func (m *PrometheusMetrics) RecordPlaybookRun(status string) {
	if m == nil {
		return
	}
	m.PlaybookRunCounter.WithLabelValues(status).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
