package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FailurePolicy controls what a playbook does after a failed step.
type FailurePolicy string

const (
	FailurePolicyStop     FailurePolicy = "stop"
	FailurePolicyContinue FailurePolicy = "continue"
)

// PlaybookStep is one action in a playbook.
type PlaybookStep struct {
	Name      string         `json:"name" yaml:"name"`
	Action    string         `json:"action" yaml:"action" binding:"required"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	OnFailure FailurePolicy  `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// Policy returns the step's failure policy, defaulting to stop.
func (s PlaybookStep) Policy() FailurePolicy {
	if s.OnFailure == FailurePolicyContinue {
		return FailurePolicyContinue
	}
	return FailurePolicyStop
}

// Playbook is an ordered list of response steps.
type Playbook struct {
	ID              uuid.UUID      `json:"id"`
	TenantID        uuid.UUID      `json:"tenant_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	TriggerSeverity Severity       `json:"trigger_severity"`
	Steps           []PlaybookStep `json:"steps"`
	IsEnabled       bool           `json:"is_enabled"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewPlaybook creates an enabled playbook triggered at high severity.
func NewPlaybook(tenantID uuid.UUID, name string, steps []PlaybookStep) *Playbook {
	now := time.Now()
	return &Playbook{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Name:            name,
		TriggerSeverity: SeverityHigh,
		Steps:           steps,
		IsEnabled:       true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// PlaybookRunStatus is the outcome of a playbook execution.
type PlaybookRunStatus string

const (
	PlaybookRunRunning   PlaybookRunStatus = "running"
	PlaybookRunCompleted PlaybookRunStatus = "completed"
	PlaybookRunFailed    PlaybookRunStatus = "failed"
	PlaybookRunPartial   PlaybookRunStatus = "partial"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult records what one step did.
type StepResult struct {
	Name       string         `json:"name"`
	Action     string         `json:"action"`
	Status     StepStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// PlaybookRun is one execution of a playbook.
type PlaybookRun struct {
	ID          uuid.UUID         `json:"id"`
	TenantID    uuid.UUID         `json:"tenant_id"`
	PlaybookID  uuid.UUID         `json:"playbook_id"`
	EventID     *uuid.UUID        `json:"event_id,omitempty"`
	Status      PlaybookRunStatus `json:"status"`
	StepResults []StepResult      `json:"step_results"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// NewPlaybookRun creates a running execution record.
func NewPlaybookRun(tenantID, playbookID uuid.UUID, eventID *uuid.UUID) *PlaybookRun {
	return &PlaybookRun{
		ID:          uuid.New(),
		TenantID:    tenantID,
		PlaybookID:  playbookID,
		EventID:     eventID,
		Status:      PlaybookRunRunning,
		StepResults: []StepResult{},
		StartedAt:   time.Now(),
	}
}

// Finish sets the terminal status.
func (r *PlaybookRun) Finish(status PlaybookRunStatus) {
	now := time.Now()
	r.Status = status
	r.CompletedAt = &now
}

// StepResultsJSON encodes step results for storage.
func (r *PlaybookRun) StepResultsJSON() ([]byte, error) {
	return json.Marshal(r.StepResults)
}
