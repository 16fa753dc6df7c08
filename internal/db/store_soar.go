package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
)

// Playbook methods

const playbookColumns = `id, tenant_id, name, description, trigger_severity, steps, is_enabled, created_at, updated_at`

func scanPlaybook(row rowScanner) (*models.Playbook, error) {
	var p models.Playbook
	var description *string
	var severity string
	var steps []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &description, &severity, &steps, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = derefString(description)
	p.TriggerSeverity = models.Severity(severity)
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("parse playbook steps: %w", err)
	}
	return &p, nil
}

// CreatePlaybook inserts a playbook.
func (db *DB) CreatePlaybook(ctx context.Context, p *models.Playbook) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("marshal playbook steps: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO playbooks (id, tenant_id, name, description, trigger_severity, steps, is_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.TenantID, p.Name, nullString(p.Description), string(p.TriggerSeverity), steps,
		p.IsEnabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create playbook: %w", apperr.FromDB("playbook", err))
	}
	return nil
}

// UpdatePlaybook replaces a playbook's definition.
func (db *DB) UpdatePlaybook(ctx context.Context, p *models.Playbook) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("marshal playbook steps: %w", err)
	}
	p.UpdatedAt = time.Now()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE playbooks
		SET name = $3, description = $4, trigger_severity = $5, steps = $6, is_enabled = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
	`, p.TenantID, p.ID, p.Name, nullString(p.Description), string(p.TriggerSeverity), steps, p.IsEnabled, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update playbook: %w", apperr.FromDB("playbook", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("playbook")
	}
	return nil
}

// GetPlaybook returns a playbook owned by the tenant.
func (db *DB) GetPlaybook(ctx context.Context, tenantID, id uuid.UUID) (*models.Playbook, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+playbookColumns+` FROM playbooks WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	p, err := scanPlaybook(row)
	if err != nil {
		return nil, fmt.Errorf("get playbook: %w", apperr.FromDB("playbook", err))
	}
	return p, nil
}

// ListPlaybooks returns a tenant's playbooks. With enabledOnly, disabled playbooks are skipped.
func (db *DB) ListPlaybooks(ctx context.Context, tenantID uuid.UUID, enabledOnly bool) ([]*models.Playbook, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+playbookColumns+`
		FROM playbooks
		WHERE tenant_id = $1 AND (NOT $2 OR is_enabled)
		ORDER BY name
	`, tenantID, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	defer rows.Close()

	var playbooks []*models.Playbook
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan playbook: %w", err)
		}
		playbooks = append(playbooks, p)
	}
	return playbooks, rows.Err()
}

// DeletePlaybook removes a playbook and its runs.
func (db *DB) DeletePlaybook(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM playbooks WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete playbook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("playbook")
	}
	return nil
}

// Playbook run methods

// CreatePlaybookRun inserts a run record.
func (db *DB) CreatePlaybookRun(ctx context.Context, r *models.PlaybookRun) error {
	results, err := r.StepResultsJSON()
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO playbook_runs (id, tenant_id, playbook_id, event_id, status, step_results, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.TenantID, r.PlaybookID, r.EventID, string(r.Status), results, r.StartedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("create playbook run: %w", err)
	}
	return nil
}

// UpdatePlaybookRun persists a run's status and step results.
func (db *DB) UpdatePlaybookRun(ctx context.Context, r *models.PlaybookRun) error {
	results, err := r.StepResultsJSON()
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		UPDATE playbook_runs SET status = $2, step_results = $3, completed_at = $4 WHERE id = $1
	`, r.ID, string(r.Status), results, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("update playbook run: %w", err)
	}
	return nil
}

// GetPlaybookRun returns a run owned by the tenant.
func (db *DB) GetPlaybookRun(ctx context.Context, tenantID, id uuid.UUID) (*models.PlaybookRun, error) {
	var r models.PlaybookRun
	var status string
	var results []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, playbook_id, event_id, status, step_results, started_at, completed_at
		FROM playbook_runs
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&r.ID, &r.TenantID, &r.PlaybookID, &r.EventID, &status, &results, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get playbook run: %w", apperr.FromDB("playbook run", err))
	}
	r.Status = models.PlaybookRunStatus(status)
	if err := json.Unmarshal(results, &r.StepResults); err != nil {
		return nil, fmt.Errorf("parse step results: %w", err)
	}
	return &r, nil
}
