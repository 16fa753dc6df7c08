package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// reportWhere builds the tenant-scoped WHERE clause for a report source.
func reportWhere(src models.ReportSource, tenantID uuid.UUID, f models.ReportFilters) (string, []any) {
	clauses := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if src.TimeColumn != "" {
		col := pgx.Identifier{src.TimeColumn}.Sanitize()
		if f.From != nil {
			add(col+" >= $%d", *f.From)
		}
		if f.To != nil {
			add(col+" <= $%d", *f.To)
		}
	}
	if src.SeverityColumn != "" && f.Severity != "" {
		add(pgx.Identifier{src.SeverityColumn}.Sanitize()+" = $%d", f.Severity)
	}
	if src.StatusColumn != "" && f.Status != "" {
		add(pgx.Identifier{src.StatusColumn}.Sanitize()+" = $%d", f.Status)
	}
	if src.SoftDeleteColumn != "" {
		clauses = append(clauses, pgx.Identifier{src.SoftDeleteColumn}.Sanitize()+" IS NULL")
	}
	return strings.Join(clauses, " AND "), args
}

// CountReportRows returns the number of rows an export would produce.
func (db *DB) CountReportRows(ctx context.Context, tenantID uuid.UUID, src models.ReportSource, f models.ReportFilters) (int64, error) {
	where, args := reportWhere(src, tenantID, f)
	var n int64
	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM "+pgx.Identifier{src.Table}.Sanitize()+" WHERE "+where, args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count report rows: %w", err)
	}
	return n, nil
}

// FetchReportRows returns one page of report rows with every column rendered as text.
// Null values are returned as nil.
func (db *DB) FetchReportRows(ctx context.Context, tenantID uuid.UUID, src models.ReportSource, f models.ReportFilters, limit, offset int) ([][]*string, error) {
	where, args := reportWhere(src, tenantID, f)
	cols := make([]string, len(src.Columns))
	for i, c := range src.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize() + "::text"
	}
	order := "id"
	if src.TimeColumn != "" {
		order = pgx.Identifier{src.TimeColumn}.Sanitize() + ", id"
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		strings.Join(cols, ", "), pgx.Identifier{src.Table}.Sanitize(), where, order, len(args)-1, len(args))

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch report rows: %w", err)
	}
	defer rows.Close()

	var out [][]*string
	for rows.Next() {
		vals := make([]*string, len(src.Columns))
		dest := make([]any, len(vals))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// Report export methods

const reportExportColumns = `id, tenant_id, report_type, format, filters, estimated_rows, status,
	storage_key, error, created_at, claimed_at, completed_at`

func scanReportExport(row rowScanner) (*models.ReportExport, error) {
	var e models.ReportExport
	var reportType, format, status string
	var filters []byte
	var storageKey, errMsg *string
	err := row.Scan(&e.ID, &e.TenantID, &reportType, &format, &filters, &e.EstimatedRows, &status,
		&storageKey, &errMsg, &e.CreatedAt, &e.ClaimedAt, &e.CompletedAt)
	if err != nil {
		return nil, err
	}
	e.ReportType = models.ReportType(reportType)
	e.Format = models.ReportFormat(format)
	e.Status = models.ExportStatus(status)
	e.StorageKey = derefString(storageKey)
	e.Error = derefString(errMsg)
	if err := json.Unmarshal(filters, &e.Filters); err != nil {
		return nil, fmt.Errorf("parse export filters: %w", err)
	}
	return &e, nil
}

// CreateReportExport inserts a pending export batch.
func (db *DB) CreateReportExport(ctx context.Context, e *models.ReportExport) error {
	filters, err := json.Marshal(e.Filters)
	if err != nil {
		return fmt.Errorf("marshal export filters: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO report_exports (id, tenant_id, report_type, format, filters, estimated_rows, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.TenantID, string(e.ReportType), string(e.Format), filters, e.EstimatedRows, string(e.Status), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create report export: %w", err)
	}
	return nil
}

// GetReportExport returns an export batch owned by the tenant.
func (db *DB) GetReportExport(ctx context.Context, tenantID, id uuid.UUID) (*models.ReportExport, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+reportExportColumns+` FROM report_exports WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	e, err := scanReportExport(row)
	if err != nil {
		return nil, fmt.Errorf("get report export: %w", apperr.FromDB("export", err))
	}
	return e, nil
}

// ClaimPendingReportExports moves up to limit pending exports to processing and returns them.
// Concurrent workers never claim the same export. An export whose claim is
// older than staleAfter is treated as abandoned and claimed again.
func (db *DB) ClaimPendingReportExports(ctx context.Context, limit int, staleAfter time.Duration) ([]*models.ReportExport, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE report_exports SET status = 'processing', claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM report_exports
			WHERE status = 'pending'
			   OR (status = 'processing' AND claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reportExportColumns, limit, staleAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim report exports: %w", err)
	}
	defer rows.Close()

	var exports []*models.ReportExport
	for rows.Next() {
		e, err := scanReportExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report export: %w", err)
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// FinishReportExport persists the terminal state of an export. It returns
// apperr.ErrConflict when the claim held by e has since been taken over.
func (db *DB) FinishReportExport(ctx context.Context, e *models.ReportExport) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE report_exports SET status = $2, storage_key = $3, error = $4, completed_at = $5
		WHERE id = $1 AND status = 'processing' AND claimed_at IS NOT DISTINCT FROM $6
	`, e.ID, string(e.Status), nullString(e.StorageKey), nullString(e.Error), e.CompletedAt, e.ClaimedAt)
	if err != nil {
		return fmt.Errorf("finish report export: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("export %s was reclaimed by another worker", e.ID)
	}
	return nil
}
