package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is shared by alerts, incidents and SIEM events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity normalizes s into a Severity. Unknown values return false.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRank[sev]
	return sev, ok
}

// Rank returns the ordinal of the severity, 0 for unknown values.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SecurityAlert is a raw alert raised by a detection source.
type SecurityAlert struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	Source      string          `json:"source"`
	Severity    Severity        `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	SourceIP    string          `json:"source_ip,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	IncidentID  *uuid.UUID      `json:"incident_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewSecurityAlert creates an unprocessed alert.
func NewSecurityAlert(tenantID uuid.UUID, source string, severity Severity, title string) *SecurityAlert {
	return &SecurityAlert{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Source:    source,
		Severity:  severity,
		Title:     title,
		CreatedAt: time.Now(),
	}
}

// IncidentStatus is a step in the incident response lifecycle.
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
)

var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:          {IncidentStatusInvestigating, IncidentStatusClosed},
	IncidentStatusInvestigating: {IncidentStatusResolved, IncidentStatusClosed},
	IncidentStatusResolved:      {IncidentStatusClosed, IncidentStatusInvestigating},
}

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// SecurityIncident is an incident under human response.
type SecurityIncident struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Severity      Severity       `json:"severity"`
	Status        IncidentStatus `json:"status"`
	Category      string         `json:"category,omitempty"`
	SourceAlertID *uuid.UUID     `json:"source_alert_id,omitempty"`
	Confidence    float64        `json:"confidence"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
}

// NewSecurityIncident creates an open incident.
func NewSecurityIncident(tenantID uuid.UUID, title string, severity Severity) *SecurityIncident {
	now := time.Now()
	return &SecurityIncident{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Title:     title,
		Severity:  severity,
		Status:    IncidentStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransition reports whether the incident may move to next.
func (i *SecurityIncident) CanTransition(next IncidentStatus) bool {
	for _, allowed := range incidentTransitions[i.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the incident to next and stamps the lifecycle timestamps.
func (i *SecurityIncident) Transition(next IncidentStatus) error {
	if !i.CanTransition(next) {
		return ErrInvalidTransition
	}
	now := time.Now()
	switch next {
	case IncidentStatusResolved:
		i.ResolvedAt = &now
	case IncidentStatusClosed:
		i.ClosedAt = &now
	case IncidentStatusInvestigating:
		i.ResolvedAt = nil
	}
	i.Status = next
	i.UpdatedAt = now
	return nil
}

// SIEMEvent is a vendor event normalized into a common shape.
type SIEMEvent struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id" validate:"required"`
	Vendor         string          `json:"vendor" validate:"required"`
	EventType      string          `json:"event_type,omitempty" validate:"max=255"`
	Severity       Severity        `json:"severity"`
	NativeSeverity string          `json:"native_severity,omitempty" validate:"max=50"`
	SourceIP       string          `json:"source_ip,omitempty" validate:"omitempty,ip"`
	DestinationIP  string          `json:"destination_ip,omitempty" validate:"omitempty,ip"`
	Hostname       string          `json:"hostname,omitempty" validate:"max=255"`
	Username       string          `json:"username,omitempty" validate:"max=255"`
	Message        string          `json:"message" validate:"required,maxbytes"`
	OccurredAt     time.Time       `json:"occurred_at" validate:"required"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	CorrelationID  *uuid.UUID      `json:"correlation_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
