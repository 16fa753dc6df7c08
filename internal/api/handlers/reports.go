package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/auth"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/reports"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReportExporter runs exports and serves queued batches.
type ReportExporter interface {
	Export(ctx context.Context, tenantID uuid.UUID, req reports.ExportRequest) (*reports.ExportResult, error)
	Status(ctx context.Context, tenantID, batchID uuid.UUID) (*models.ReportExport, error)
	Download(ctx context.Context, tenantID, batchID uuid.UUID) (*reports.ExportResult, error)
}

// ReportsHandler handles report export endpoints.
type ReportsHandler struct {
	exporter ReportExporter
	logger   zerolog.Logger
}

// NewReportsHandler creates a new ReportsHandler.
func NewReportsHandler(exporter ReportExporter, logger zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		exporter: exporter,
		logger:   logger.With().Str("component", "reports_handler").Logger(),
	}
}

// RegisterRoutes registers report routes on the given router group.
func (h *ReportsHandler) RegisterRoutes(r *gin.RouterGroup) {
	exports := r.Group("/reports/export", perm(auth.PermReportExport))
	{
		exports.POST("", h.Export)
		exports.GET("/:id", h.Status)
		exports.GET("/:id/download", h.Download)
	}
}

// AsyncExportResponse is returned when an export is queued.
type AsyncExportResponse struct {
	BatchID       uuid.UUID           `json:"batch_id"`
	Status        models.ExportStatus `json:"status"`
	EstimatedRows int64               `json:"estimated_rows"`
}

// Export renders a report inline, or queues it and answers 202 with a batch_id.
// POST /api/v1/reports/export
func (h *ReportsHandler) Export(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	var req reports.ExportRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.exporter.Export(c.Request.Context(), id.TenantID, req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if res.Mode == reports.ModeAsync {
		c.JSON(http.StatusAccepted, AsyncExportResponse{
			BatchID:       *res.BatchID,
			Status:        models.ExportStatusPending,
			EstimatedRows: res.EstimatedRows,
		})
		return
	}
	writeAttachment(c, res)
}

// Status returns the state of a queued export.
// GET /api/v1/reports/export/:id
func (h *ReportsHandler) Status(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	batchID, ok := parseID(c, "id")
	if !ok {
		return
	}
	batch, err := h.exporter.Status(c.Request.Context(), id.TenantID, batchID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// Download returns the file of a completed export.
// GET /api/v1/reports/export/:id/download
func (h *ReportsHandler) Download(c *gin.Context) {
	id := caller(c)
	if id == nil {
		return
	}
	batchID, ok := parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.exporter.Download(c.Request.Context(), id.TenantID, batchID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	writeAttachment(c, res)
}

func writeAttachment(c *gin.Context, res *reports.ExportResult) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Header("X-Estimated-Rows", fmt.Sprint(res.EstimatedRows))
	c.Data(http.StatusOK, res.ContentType, res.Content)
}
