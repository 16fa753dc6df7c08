package db

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Security alert methods

const securityAlertColumns = `id, tenant_id, source, severity, title, description, source_ip, raw,
	processed_at, incident_id, created_at`

func scanSecurityAlert(row rowScanner) (*models.SecurityAlert, error) {
	var a models.SecurityAlert
	var severity string
	var description, sourceIP *string
	var raw []byte
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Source, &severity, &a.Title, &description, &sourceIP, &raw,
		&a.ProcessedAt, &a.IncidentID, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Severity = models.Severity(severity)
	a.Description = derefString(description)
	a.SourceIP = derefString(sourceIP)
	a.Raw = raw
	return &a, nil
}

// CreateSecurityAlert inserts an alert.
func (db *DB) CreateSecurityAlert(ctx context.Context, a *models.SecurityAlert) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO security_alerts (id, tenant_id, source, severity, title, description, source_ip, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.TenantID, a.Source, string(a.Severity), a.Title, nullString(a.Description),
		nullString(a.SourceIP), nullJSON(a.Raw), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create security alert: %w", err)
	}
	return nil
}

// ListSecurityAlerts returns a tenant's most recent alerts.
func (db *DB) ListSecurityAlerts(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.SecurityAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+securityAlertColumns+`
		FROM security_alerts
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list security alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListUnprocessedAlerts returns alerts at the given severity not yet turned into incidents.
func (db *DB) ListUnprocessedAlerts(ctx context.Context, tenantID uuid.UUID, severity models.Severity) ([]*models.SecurityAlert, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+securityAlertColumns+`
		FROM security_alerts
		WHERE tenant_id = $1 AND severity = $2 AND processed_at IS NULL
		ORDER BY created_at
	`, tenantID, string(severity))
	if err != nil {
		return nil, fmt.Errorf("list unprocessed alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func collectAlerts(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*models.SecurityAlert, error) {
	var alerts []*models.SecurityAlert
	for rows.Next() {
		a, err := scanSecurityAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan security alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// MarkAlertProcessed links an alert to the incident created from it.
func (db *DB) MarkAlertProcessed(ctx context.Context, tenantID, alertID uuid.UUID, incidentID *uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE security_alerts SET processed_at = $3, incident_id = $4
		WHERE tenant_id = $1 AND id = $2 AND processed_at IS NULL
	`, tenantID, alertID, time.Now(), incidentID)
	if err != nil {
		return fmt.Errorf("mark alert processed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM security_alerts WHERE tenant_id = $1 AND id = $2)`,
		tenantID, alertID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check alert: %w", err)
	}
	if !exists {
		return apperr.NotFound("alert")
	}
	return apperr.Conflict("alert %s is already processed", alertID)
}

// Security incident methods

const securityIncidentColumns = `id, tenant_id, title, description, severity, status, category,
	source_alert_id, confidence, created_at, updated_at, resolved_at, closed_at`

func scanSecurityIncident(row rowScanner) (*models.SecurityIncident, error) {
	var i models.SecurityIncident
	var severity, status string
	var description, category *string
	err := row.Scan(
		&i.ID, &i.TenantID, &i.Title, &description, &severity, &status, &category,
		&i.SourceAlertID, &i.Confidence, &i.CreatedAt, &i.UpdatedAt, &i.ResolvedAt, &i.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Severity = models.Severity(severity)
	i.Status = models.IncidentStatus(status)
	i.Description = derefString(description)
	i.Category = derefString(category)
	return &i, nil
}

// CreateSecurityIncident inserts an incident.
func (db *DB) CreateSecurityIncident(ctx context.Context, i *models.SecurityIncident) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO security_incidents (id, tenant_id, title, description, severity, status, category,
		                                source_alert_id, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, i.ID, i.TenantID, i.Title, nullString(i.Description), string(i.Severity), string(i.Status),
		nullString(i.Category), i.SourceAlertID, i.Confidence, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create security incident: %w", err)
	}
	return nil
}

// CreateIncidentFromAlert inserts i and marks the alert processed in one
// transaction. It returns a conflict if another pass already processed the alert.
func (db *DB) CreateIncidentFromAlert(ctx context.Context, i *models.SecurityIncident, alertID uuid.UUID) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO security_incidents (id, tenant_id, title, description, severity, status, category,
			                                source_alert_id, confidence, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, i.ID, i.TenantID, i.Title, nullString(i.Description), string(i.Severity), string(i.Status),
			nullString(i.Category), i.SourceAlertID, i.Confidence, i.CreatedAt, i.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create security incident: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE security_alerts SET processed_at = $3, incident_id = $4
			WHERE tenant_id = $1 AND id = $2 AND processed_at IS NULL
		`, i.TenantID, alertID, time.Now(), i.ID)
		if err != nil {
			return fmt.Errorf("claim alert: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("alert %s already processed", alertID)
		}
		return nil
	})
}

// GetSecurityIncident returns an incident owned by the tenant.
func (db *DB) GetSecurityIncident(ctx context.Context, tenantID, id uuid.UUID) (*models.SecurityIncident, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+securityIncidentColumns+`
		FROM security_incidents
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	i, err := scanSecurityIncident(row)
	if err != nil {
		return nil, fmt.Errorf("get security incident: %w", apperr.FromDB("incident", err))
	}
	return i, nil
}

// ListSecurityIncidents returns a tenant's incidents, optionally filtered by status.
func (db *DB) ListSecurityIncidents(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]*models.SecurityIncident, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+securityIncidentColumns+`
		FROM security_incidents
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list security incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.SecurityIncident
	for rows.Next() {
		i, err := scanSecurityIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan security incident: %w", err)
		}
		incidents = append(incidents, i)
	}
	return incidents, rows.Err()
}

// UpdateSecurityIncidentStatus persists a lifecycle transition. The row is
// only written while its status is still from; a concurrent change in
// between is a conflict.
func (db *DB) UpdateSecurityIncidentStatus(ctx context.Context, i *models.SecurityIncident, from models.IncidentStatus) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE security_incidents
		SET status = $3, updated_at = $4, resolved_at = $5, closed_at = $6
		WHERE tenant_id = $1 AND id = $2 AND status = $7
	`, i.TenantID, i.ID, string(i.Status), i.UpdatedAt, i.ResolvedAt, i.ClosedAt, string(from))
	if err != nil {
		return fmt.Errorf("update security incident: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM security_incidents WHERE tenant_id = $1 AND id = $2)
	`, i.TenantID, i.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check security incident: %w", err)
	}
	if !exists {
		return apperr.NotFound("incident")
	}
	return apperr.Conflict("incident %s is no longer %s", i.ID, from)
}

// SIEM event methods

const siemEventColumns = `id, tenant_id, vendor, event_type, severity, native_severity, source_ip,
	destination_ip, hostname, username, message, occurred_at, raw, correlation_id, created_at`

func scanSIEMEvent(row rowScanner) (*models.SIEMEvent, error) {
	var e models.SIEMEvent
	var severity string
	var eventType, nativeSeverity, sourceIP, destIP, hostname, username *string
	var raw []byte
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Vendor, &eventType, &severity, &nativeSeverity, &sourceIP,
		&destIP, &hostname, &username, &e.Message, &e.OccurredAt, &raw, &e.CorrelationID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Severity = models.Severity(severity)
	e.EventType = derefString(eventType)
	e.NativeSeverity = derefString(nativeSeverity)
	e.SourceIP = derefString(sourceIP)
	e.DestinationIP = derefString(destIP)
	e.Hostname = derefString(hostname)
	e.Username = derefString(username)
	e.Raw = raw
	return &e, nil
}

// CreateSIEMEvent inserts a normalized event.
func (db *DB) CreateSIEMEvent(ctx context.Context, e *models.SIEMEvent) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO siem_events (id, tenant_id, vendor, event_type, severity, native_severity, source_ip,
		                         destination_ip, hostname, username, message, occurred_at, raw,
		                         correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, e.TenantID, e.Vendor, nullString(e.EventType), string(e.Severity), nullString(e.NativeSeverity),
		nullString(e.SourceIP), nullString(e.DestinationIP), nullString(e.Hostname), nullString(e.Username),
		e.Message, e.OccurredAt, nullJSON(e.Raw), e.CorrelationID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create siem event: %w", err)
	}
	return nil
}

// GetSIEMEvent returns an event owned by the tenant.
func (db *DB) GetSIEMEvent(ctx context.Context, tenantID, id uuid.UUID) (*models.SIEMEvent, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+siemEventColumns+`
		FROM siem_events
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	e, err := scanSIEMEvent(row)
	if err != nil {
		return nil, fmt.Errorf("get siem event: %w", apperr.FromDB("siem event", err))
	}
	return e, nil
}

// FindCorrelatedEvents returns events from the same source IP in [since, until], newest first.
func (db *DB) FindCorrelatedEvents(ctx context.Context, tenantID uuid.UUID, sourceIP string, since, until time.Time) ([]*models.SIEMEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+siemEventColumns+`
		FROM siem_events
		WHERE tenant_id = $1 AND source_ip = $2 AND occurred_at >= $3 AND occurred_at <= $4
		ORDER BY occurred_at DESC
		LIMIT 500
	`, tenantID, sourceIP, since, until)
	if err != nil {
		return nil, fmt.Errorf("find correlated events: %w", err)
	}
	defer rows.Close()

	var events []*models.SIEMEvent
	for rows.Next() {
		e, err := scanSIEMEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan siem event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
