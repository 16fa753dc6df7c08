package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportType names an exportable dataset.
type ReportType string

const (
	ReportTypeIncidents       ReportType = "incidents"
	ReportTypeAlerts          ReportType = "alerts"
	ReportTypeSIEMEvents      ReportType = "siem_events"
	ReportTypeBackupJobs      ReportType = "backup_jobs"
	ReportTypeRecommendations ReportType = "recommendations"
	ReportTypeCampaigns       ReportType = "campaigns"
)

// ReportFormat is the serialization of an export.
type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatJSON ReportFormat = "json"
)

// ReportFilters narrows an export.
type ReportFilters struct {
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Severity string     `json:"severity,omitempty"`
	Status   string     `json:"status,omitempty"`
}

// ExportStatus is the state of an asynchronous export batch.
type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusCompleted  ExportStatus = "completed"
	ExportStatusFailed     ExportStatus = "failed"
)

// ReportExport is the placeholder record for an asynchronous export. Its ID is the batch_id.
type ReportExport struct {
	ID            uuid.UUID     `json:"id"`
	TenantID      uuid.UUID     `json:"tenant_id"`
	ReportType    ReportType    `json:"report_type"`
	Format        ReportFormat  `json:"format"`
	Filters       ReportFilters `json:"filters"`
	EstimatedRows int64         `json:"estimated_rows"`
	Status        ExportStatus  `json:"status"`
	StorageKey    string        `json:"storage_key,omitempty"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	ClaimedAt     *time.Time    `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// NewReportExport creates a pending export batch.
func NewReportExport(tenantID uuid.UUID, reportType ReportType, format ReportFormat, filters ReportFilters, estimated int64) *ReportExport {
	return &ReportExport{
		ID:            uuid.New(),
		TenantID:      tenantID,
		ReportType:    reportType,
		Format:        format,
		Filters:       filters,
		EstimatedRows: estimated,
		Status:        ExportStatusPending,
		CreatedAt:     time.Now(),
	}
}

// MarkCompleted finalizes a successful export.
func (e *ReportExport) MarkCompleted(storageKey string) {
	now := time.Now()
	e.Status = ExportStatusCompleted
	e.StorageKey = storageKey
	e.CompletedAt = &now
}

// MarkFailed finalizes a failed export.
func (e *ReportExport) MarkFailed(msg string) {
	now := time.Now()
	e.Status = ExportStatusFailed
	e.Error = msg
	e.CompletedAt = &now
}

// ReportSource describes the table and columns an export reads from.
type ReportSource struct {
	Table          string
	Columns        []string
	TimeColumn     string
	SeverityColumn string
	StatusColumn   string
	// SoftDeleteColumn, when set, excludes rows where the column is not null.
	SoftDeleteColumn string
}
