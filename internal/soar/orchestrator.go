// Package soar runs response playbooks: ordered steps executed one after
// another, with a per-step policy deciding whether a failure halts the run.
package soar

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/rs/zerolog"
)

// Orchestrator executes playbooks against the action registry.
type Orchestrator struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(registry *Registry, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		logger:   logger.With().Str("component", "soar").Logger(),
	}
}

// Execute runs the steps of pb in order and records the outcome on run.
// Step failures never return an error; they are recorded in the step results.
func (o *Orchestrator) Execute(ctx context.Context, pb *models.Playbook, event *models.SIEMEvent, run *models.PlaybookRun) {
	logger := o.logger.With().
		Str("tenant_id", pb.TenantID.String()).
		Str("playbook_id", pb.ID.String()).
		Str("run_id", run.ID.String()).
		Logger()

	anyFailed := false
	halted := false
	for i, step := range pb.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}

		if halted {
			now := time.Now()
			run.StepResults = append(run.StepResults, models.StepResult{
				Name: name, Action: step.Action, Status: models.StepStatusSkipped,
				StartedAt: now, FinishedAt: now,
			})
			continue
		}

		res := o.runStep(ctx, pb, step, event)
		res.Name = name
		run.StepResults = append(run.StepResults, res)

		if res.Status != models.StepStatusFailed {
			continue
		}
		anyFailed = true
		logger.Warn().
			Str("step", name).
			Str("action", step.Action).
			Str("error", res.Error).
			Msg("playbook step failed")
		if step.Policy() == models.FailurePolicyStop {
			halted = true
		}
	}

	switch {
	case halted:
		run.Finish(models.PlaybookRunFailed)
	case anyFailed:
		run.Finish(models.PlaybookRunPartial)
	default:
		run.Finish(models.PlaybookRunCompleted)
	}

	logger.Info().
		Str("status", string(run.Status)).
		Int("steps", len(run.StepResults)).
		Msg("playbook run finished")
}

func (o *Orchestrator) runStep(ctx context.Context, pb *models.Playbook, step models.PlaybookStep, event *models.SIEMEvent) models.StepResult {
	res := models.StepResult{Action: step.Action, StartedAt: time.Now()}

	fail := func(err error) models.StepResult {
		res.Status = models.StepStatusFailed
		res.Error = err.Error()
		res.FinishedAt = time.Now()
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	action, ok := o.registry.Lookup(step.Action)
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrUnknownAction, step.Action))
	}

	out, err := action(ctx, ActionInput{TenantID: pb.TenantID, Playbook: pb, Step: step, Event: event})
	if err != nil {
		return fail(err)
	}
	res.Status = models.StepStatusSucceeded
	res.Output = out
	res.FinishedAt = time.Now()
	return res
}
