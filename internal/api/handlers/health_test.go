package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type mockDB struct {
	err error
}

func (m mockDB) Ping(context.Context) error { return m.err }

func (m mockDB) Health() map[string]any { return map[string]any{"total_conns": 1} }

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(context.Context) error { return m.err }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		db      DatabaseHealthChecker
		storage StoragePinger
		path    string
		want    int
	}{
		{"healthy", mockDB{}, mockPinger{}, "/health", http.StatusOK},
		{"memory storage", mockDB{}, nil, "/health", http.StatusOK},
		{"db down", mockDB{err: errors.New("refused")}, mockPinger{}, "/health", http.StatusServiceUnavailable},
		{"storage down", mockDB{}, mockPinger{err: errors.New("timeout")}, "/health", http.StatusServiceUnavailable},
		{"db endpoint", mockDB{}, nil, "/health/db", http.StatusOK},
		{"db endpoint down", mockDB{err: errors.New("refused")}, nil, "/health/db", http.StatusServiceUnavailable},
		{"no db", nil, nil, "/health/db", http.StatusServiceUnavailable},
		{"ready", mockDB{}, mockPinger{}, "/ready", http.StatusOK},
		{"not ready", mockDB{}, mockPinger{err: errors.New("timeout")}, "/ready", http.StatusServiceUnavailable},
		{"live ignores deps", mockDB{err: errors.New("refused")}, nil, "/live", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			NewHealthHandler(tt.db, tt.storage, zerolog.Nop()).RegisterPublicRoutes(r)
			w := doRequest(r, http.MethodGet, tt.path, "")
			expectStatus(t, w, tt.want)
		})
	}
}

func TestHealthHandler_Report(t *testing.T) {
	r := gin.New()
	NewHealthHandler(mockDB{}, mockPinger{err: errors.New("timeout")}, zerolog.Nop()).RegisterPublicRoutes(r)
	w := doRequest(r, http.MethodGet, "/health", "")
	expectStatus(t, w, http.StatusServiceUnavailable)

	var report ReadinessReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Ready {
		t.Error("ready = true with storage down")
	}
	if got := report.Probes["database"]; got == nil || got.Status != ProbeUp || got.Details["total_conns"] == nil {
		t.Errorf("database probe = %+v", got)
	}
	if got := report.Probes["storage"]; got == nil || got.Status != ProbeDown || got.Error != "storage unreachable" {
		t.Errorf("storage probe = %+v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}
	m.RecordExport("sync")

	r := gin.New()
	NewMetricsHandler(reg).RegisterPublicRoutes(r)
	w := doRequest(r, http.MethodGet, "/metrics", "")
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "aegis_report_exports_total") {
		t.Errorf("expected export counter in scrape output")
	}
}
