// Package reports exports tenant datasets as CSV or JSON. Small exports are
// rendered inline; large ones are queued and rendered by the batch worker.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/metrics"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultAsyncThreshold is the largest row estimate rendered inline.
const DefaultAsyncThreshold int64 = 250_000

// PageSize is the number of rows fetched per query while rendering.
const PageSize = 5000

// ThresholdSettingKey lets a tenant lower or raise its inline threshold.
const ThresholdSettingKey = "export.async_threshold"

// Export modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

var sources = map[models.ReportType]models.ReportSource{
	models.ReportTypeIncidents: {
		Table:          "security_incidents",
		Columns:        []string{"id", "title", "severity", "status", "category", "confidence", "source_alert_id", "created_at", "resolved_at", "closed_at"},
		TimeColumn:     "created_at",
		SeverityColumn: "severity",
		StatusColumn:   "status",
	},
	models.ReportTypeAlerts: {
		Table:          "security_alerts",
		Columns:        []string{"id", "source", "severity", "title", "source_ip", "incident_id", "processed_at", "created_at"},
		TimeColumn:     "created_at",
		SeverityColumn: "severity",
	},
	models.ReportTypeSIEMEvents: {
		Table:          "siem_events",
		Columns:        []string{"id", "vendor", "event_type", "severity", "source_ip", "destination_ip", "hostname", "username", "message", "occurred_at", "correlation_id", "created_at"},
		TimeColumn:     "created_at",
		SeverityColumn: "severity",
	},
	models.ReportTypeBackupJobs: {
		Table:        "backup_jobs",
		Columns:      []string{"id", "schedule_id", "job_type", "status", "trigger", "size_bytes", "row_count", "error_message", "started_at", "completed_at"},
		TimeColumn:   "started_at",
		StatusColumn: "status",
	},
	models.ReportTypeRecommendations: {
		Table:        "ai_recommendations",
		Columns:      []string{"id", "context_type", "context_id", "title", "summary", "confidence", "status", "created_at"},
		TimeColumn:   "created_at",
		StatusColumn: "status",
	},
	models.ReportTypeCampaigns: {
		Table:            "campaigns",
		Columns:          []string{"id", "name", "status", "created_at"},
		TimeColumn:       "created_at",
		StatusColumn:     "status",
		SoftDeleteColumn: "archived_at",
	},
}

// Source returns the definition of a report type.
func Source(t models.ReportType) (models.ReportSource, bool) {
	src, ok := sources[t]
	return src, ok
}

// Store is the persistence the exporter needs.
type Store interface {
	CountReportRows(ctx context.Context, tenantID uuid.UUID, src models.ReportSource, f models.ReportFilters) (int64, error)
	FetchReportRows(ctx context.Context, tenantID uuid.UUID, src models.ReportSource, f models.ReportFilters, limit, offset int) ([][]*string, error)
	CreateReportExport(ctx context.Context, e *models.ReportExport) error
	GetReportExport(ctx context.Context, tenantID, id uuid.UUID) (*models.ReportExport, error)
}

// ThresholdSource reads per-tenant numeric settings.
type ThresholdSource interface {
	Int64(ctx context.Context, tenantID uuid.UUID, key string, def int64) int64
}

// ExportRequest is the body of an export request.
type ExportRequest struct {
	ReportType models.ReportType    `json:"report_type" binding:"required"`
	Format     models.ReportFormat  `json:"format" binding:"required"`
	Filters    models.ReportFilters `json:"filters"`
}

// ExportResult is either inline content or an async batch reference.
type ExportResult struct {
	Mode          string     `json:"mode"`
	EstimatedRows int64      `json:"estimated_rows"`
	ContentType   string     `json:"content_type,omitempty"`
	Filename      string     `json:"filename,omitempty"`
	Content       []byte     `json:"-"`
	BatchID       *uuid.UUID `json:"batch_id,omitempty"`
}

// Exporter decides between inline and queued exports.
type Exporter struct {
	store      Store
	artifacts  storage.ArtifactStore
	thresholds ThresholdSource
	threshold  int64
	metrics    *metrics.PrometheusMetrics
	logger     zerolog.Logger
}

// NewExporter creates an Exporter. thresholds may be nil, in which case every
// tenant uses threshold.
func NewExporter(store Store, artifacts storage.ArtifactStore, thresholds ThresholdSource, threshold int64, m *metrics.PrometheusMetrics, logger zerolog.Logger) *Exporter {
	if threshold <= 0 {
		threshold = DefaultAsyncThreshold
	}
	return &Exporter{
		store:      store,
		artifacts:  artifacts,
		thresholds: thresholds,
		threshold:  threshold,
		metrics:    m,
		logger:     logger.With().Str("component", "report_exporter").Logger(),
	}
}

// Validate checks the report type, format and filters.
func Validate(req ExportRequest) (models.ReportSource, error) {
	src, ok := sources[req.ReportType]
	if !ok {
		return src, apperr.BadRequest("unknown report_type %q", req.ReportType)
	}
	if req.Format != models.ReportFormatCSV && req.Format != models.ReportFormatJSON {
		return src, apperr.BadRequest("unknown format %q", req.Format)
	}
	f := req.Filters
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return src, apperr.BadRequest("filters.from is after filters.to")
	}
	if f.Severity != "" {
		if src.SeverityColumn == "" {
			return src, apperr.BadRequest("%s cannot be filtered by severity", req.ReportType)
		}
		if _, ok := models.ParseSeverity(f.Severity); !ok {
			return src, apperr.BadRequest("invalid severity filter %q", f.Severity)
		}
	}
	if f.Status != "" && src.StatusColumn == "" {
		return src, apperr.BadRequest("%s cannot be filtered by status", req.ReportType)
	}
	return src, nil
}

// Export renders the report inline when the row estimate is at or below the
// threshold, and otherwise queues a pending batch.
func (e *Exporter) Export(ctx context.Context, tenantID uuid.UUID, req ExportRequest) (*ExportResult, error) {
	if sev, ok := models.ParseSeverity(req.Filters.Severity); ok {
		req.Filters.Severity = string(sev)
	}
	src, err := Validate(req)
	if err != nil {
		return nil, err
	}

	estimated, err := e.store.CountReportRows(ctx, tenantID, src, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("estimate export size: %w", err)
	}

	threshold := e.threshold
	if e.thresholds != nil {
		threshold = e.thresholds.Int64(ctx, tenantID, ThresholdSettingKey, e.threshold)
	}

	logger := e.logger.With().
		Str("tenant_id", tenantID.String()).
		Str("report_type", string(req.ReportType)).
		Int64("estimated_rows", estimated).
		Logger()

	if estimated <= threshold {
		var buf bytes.Buffer
		if _, err := Render(ctx, &buf, req.Format, src, pager(e.store, tenantID, src, req.Filters)); err != nil {
			return nil, fmt.Errorf("render export: %w", err)
		}
		e.metrics.RecordExport(ModeSync)
		logger.Debug().Msg("export rendered inline")
		return &ExportResult{
			Mode:          ModeSync,
			EstimatedRows: estimated,
			ContentType:   ContentType(req.Format),
			Filename:      Filename(req.ReportType, req.Format, time.Now()),
			Content:       buf.Bytes(),
		}, nil
	}

	batch := models.NewReportExport(tenantID, req.ReportType, req.Format, req.Filters, estimated)
	if err := e.store.CreateReportExport(ctx, batch); err != nil {
		return nil, fmt.Errorf("queue export: %w", err)
	}
	e.metrics.RecordExport(ModeAsync)
	logger.Info().Str("batch_id", batch.ID.String()).Msg("export queued")
	return &ExportResult{Mode: ModeAsync, EstimatedRows: estimated, BatchID: &batch.ID}, nil
}

// Status returns an export batch.
func (e *Exporter) Status(ctx context.Context, tenantID, batchID uuid.UUID) (*models.ReportExport, error) {
	return e.store.GetReportExport(ctx, tenantID, batchID)
}

// Download returns the rendered file of a completed batch.
func (e *Exporter) Download(ctx context.Context, tenantID, batchID uuid.UUID) (*ExportResult, error) {
	batch, err := e.store.GetReportExport(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.ExportStatusCompleted {
		return nil, apperr.Conflict("export %s is %s", batchID, batch.Status)
	}
	body, err := e.artifacts.Get(ctx, batch.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("read export artifact: %w", err)
	}
	return &ExportResult{
		Mode:          ModeAsync,
		EstimatedRows: batch.EstimatedRows,
		ContentType:   ContentType(batch.Format),
		Filename:      Filename(batch.ReportType, batch.Format, batch.CreatedAt),
		Content:       body,
		BatchID:       &batch.ID,
	}, nil
}

// ContentType returns the MIME type of a format.
func ContentType(f models.ReportFormat) string {
	if f == models.ReportFormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Filename builds the download name of an export.
func Filename(t models.ReportType, f models.ReportFormat, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", t, at.UTC().Format("20060102-150405"), f)
}

// PageFunc returns the rows at offset, at most limit of them.
type PageFunc func(ctx context.Context, limit, offset int) ([][]*string, error)

func pager(store Store, tenantID uuid.UUID, src models.ReportSource, f models.ReportFilters) PageFunc {
	return func(ctx context.Context, limit, offset int) ([][]*string, error) {
		return store.FetchReportRows(ctx, tenantID, src, f, limit, offset)
	}
}

// Render writes every row from fetch to w and returns the row count.
func Render(ctx context.Context, w io.Writer, format models.ReportFormat, src models.ReportSource, fetch PageFunc) (int64, error) {
	var rw rowWriter
	switch format {
	case models.ReportFormatCSV:
		rw = newCSVWriter(w, src.Columns)
	case models.ReportFormatJSON:
		rw = newJSONWriter(w, src.Columns)
	default:
		return 0, apperr.BadRequest("unknown format %q", format)
	}

	if err := rw.begin(); err != nil {
		return 0, err
	}
	var total int64
	for offset := 0; ; offset += PageSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows, err := fetch(ctx, PageSize, offset)
		if err != nil {
			return total, err
		}
		for _, row := range rows {
			if err := rw.write(row); err != nil {
				return total, err
			}
			total++
		}
		if len(rows) < PageSize {
			break
		}
	}
	return total, rw.end()
}

type rowWriter interface {
	begin() error
	write(row []*string) error
	end() error
}

type csvWriter struct {
	w       *csv.Writer
	columns []string
	record  []string
}

func newCSVWriter(w io.Writer, columns []string) *csvWriter {
	return &csvWriter{w: csv.NewWriter(w), columns: columns, record: make([]string, len(columns))}
}

func (c *csvWriter) begin() error {
	return c.w.Write(c.columns)
}

func (c *csvWriter) write(row []*string) error {
	for i := range c.record {
		c.record[i] = ""
		if i < len(row) && row[i] != nil {
			c.record[i] = *row[i]
		}
	}
	return c.w.Write(c.record)
}

func (c *csvWriter) end() error {
	c.w.Flush()
	return c.w.Error()
}

type jsonWriter struct {
	w       io.Writer
	columns []string
	keys    [][]byte
	n       int
}

func newJSONWriter(w io.Writer, columns []string) *jsonWriter {
	keys := make([][]byte, len(columns))
	for i, c := range columns {
		keys[i], _ = json.Marshal(c)
	}
	return &jsonWriter{w: w, columns: columns, keys: keys}
}

func (j *jsonWriter) begin() error {
	_, err := io.WriteString(j.w, "[")
	return err
}

// write emits one object with columns in declared order.
func (j *jsonWriter) write(row []*string) error {
	var buf bytes.Buffer
	if j.n > 0 {
		buf.WriteByte(',')
	}
	buf.WriteByte('{')
	for i, key := range j.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		if i >= len(row) || row[i] == nil {
			buf.WriteString("null")
			continue
		}
		v, err := json.Marshal(*row[i])
		if err != nil {
			return err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	j.n++
	_, err := j.w.Write(buf.Bytes())
	return err
}

func (j *jsonWriter) end() error {
	_, err := io.WriteString(j.w, "]")
	return err
}
