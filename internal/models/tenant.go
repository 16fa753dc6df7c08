// Package models defines the domain types persisted by Aegis.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant is a customer organization. All other records are scoped to one tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTenant creates a new Tenant.
func NewTenant(name, slug string) *Tenant {
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		CreatedAt: time.Now(),
	}
}

// TenantSetting is a single key-value configuration entry for a tenant.
type TenantSetting struct {
	TenantID  uuid.UUID       `json:"tenant_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedBy *uuid.UUID      `json:"updated_by,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Campaign is a security-awareness campaign. Archived campaigns are soft deleted.
type Campaign struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
