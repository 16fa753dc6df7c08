package db

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
)

// Tenant methods

// CreateTenant inserts a new tenant.
func (db *DB) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO tenants (id, name, slug, created_at)
		VALUES ($1, $2, $3, $4)
	`, tenant.ID, tenant.Name, tenant.Slug, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("create tenant: %w", apperr.FromDB("tenant", err))
	}
	return nil
}

// GetTenantByID returns a tenant by ID.
func (db *DB) GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, slug, created_at FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", apperr.FromDB("tenant", err))
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by name.
func (db *DB) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id, name, slug, created_at FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// Tenant setting methods

// GetTenantSetting returns a single setting.
func (db *DB) GetTenantSetting(ctx context.Context, tenantID uuid.UUID, key string) (*models.TenantSetting, error) {
	var s models.TenantSetting
	err := db.Pool.QueryRow(ctx, `
		SELECT tenant_id, key, value, updated_by, updated_at
		FROM tenant_settings
		WHERE tenant_id = $1 AND key = $2
	`, tenantID, key).Scan(&s.TenantID, &s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get tenant setting: %w", apperr.FromDB("setting", err))
	}
	return &s, nil
}

// ListTenantSettings returns every setting for a tenant ordered by key.
func (db *DB) ListTenantSettings(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantSetting, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT tenant_id, key, value, updated_by, updated_at
		FROM tenant_settings
		WHERE tenant_id = $1
		ORDER BY key
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant settings: %w", err)
	}
	defer rows.Close()

	var settings []*models.TenantSetting
	for rows.Next() {
		var s models.TenantSetting
		if err := rows.Scan(&s.TenantID, &s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant setting: %w", err)
		}
		settings = append(settings, &s)
	}
	return settings, rows.Err()
}

// UpsertTenantSetting inserts or replaces a setting.
func (db *DB) UpsertTenantSetting(ctx context.Context, s *models.TenantSetting) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
	`, s.TenantID, s.Key, s.Value, s.UpdatedBy, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert tenant setting: %w", err)
	}
	return nil
}

// DeleteTenantSetting removes a setting.
func (db *DB) DeleteTenantSetting(ctx context.Context, tenantID uuid.UUID, key string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM tenant_settings WHERE tenant_id = $1 AND key = $2`, tenantID, key)
	if err != nil {
		return fmt.Errorf("delete tenant setting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("setting")
	}
	return nil
}
