package backup

import (
	"context"
	"fmt"
	"sort"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
)

// DependencyStore persists job dependency edges.
type DependencyStore interface {
	GetBackupJob(ctx context.Context, tenantID, id uuid.UUID) (*models.BackupJob, error)
	ListJobDependencies(ctx context.Context, tenantID uuid.UUID) ([]models.JobDependency, error)
	GetBackupJobStatuses(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]models.BackupJobStatus, error)
	AddJobDependency(ctx context.Context, tenantID uuid.UUID, dep models.JobDependency) error
}

// DependencyChecker decides whether a job's prerequisites have finished.
type DependencyChecker struct {
	store DependencyStore
}

// NewDependencyChecker creates a DependencyChecker.
func NewDependencyChecker(store DependencyStore) *DependencyChecker {
	return &DependencyChecker{store: store}
}

// Check returns the dependency status of a job.
func (c *DependencyChecker) Check(ctx context.Context, tenantID, jobID uuid.UUID) (*models.DependencyStatus, error) {
	if _, err := c.store.GetBackupJob(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	edges, err := c.store.ListJobDependencies(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	deps := directDependencies(edges, jobID)
	statuses, err := c.store.GetBackupJobStatuses(ctx, tenantID, deps)
	if err != nil {
		return nil, fmt.Errorf("get dependency statuses: %w", err)
	}
	status := EvaluateDependencies(jobID, edges, statuses)
	return &status, nil
}

// AddDependency records that jobID depends on dependsOn. Edges that would
// form a cycle are rejected with a conflict.
func (c *DependencyChecker) AddDependency(ctx context.Context, tenantID, jobID, dependsOn uuid.UUID) error {
	if jobID == dependsOn {
		return apperr.BadRequest("a job cannot depend on itself")
	}
	for _, id := range []uuid.UUID{jobID, dependsOn} {
		if _, err := c.store.GetBackupJob(ctx, tenantID, id); err != nil {
			return err
		}
	}
	edges, err := c.store.ListJobDependencies(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list dependencies: %w", err)
	}
	if WouldCreateCycle(edges, jobID, dependsOn) {
		return apperr.Conflict("dependency would create a cycle")
	}
	return c.store.AddJobDependency(ctx, tenantID, models.JobDependency{JobID: jobID, DependsOnJobID: dependsOn})
}

func directDependencies(edges []models.JobDependency, jobID uuid.UUID) []uuid.UUID {
	var deps []uuid.UUID
	for _, e := range edges {
		if e.JobID == jobID {
			deps = append(deps, e.DependsOnJobID)
		}
	}
	return deps
}

// EvaluateDependencies classifies each direct dependency of jobID. Completed
// dependencies are satisfied, failed ones are reported as failed and anything
// else, including a missing job, is blocking.
func EvaluateDependencies(jobID uuid.UUID, edges []models.JobDependency, statuses map[uuid.UUID]models.BackupJobStatus) models.DependencyStatus {
	result := models.DependencyStatus{
		JobID:    jobID,
		Blocking: []uuid.UUID{},
		Failed:   []uuid.UUID{},
	}
	for _, dep := range directDependencies(edges, jobID) {
		switch statuses[dep] {
		case models.BackupJobStatusCompleted:
		case models.BackupJobStatusFailed:
			result.Failed = append(result.Failed, dep)
		default:
			result.Blocking = append(result.Blocking, dep)
		}
	}
	sortIDs(result.Blocking)
	sortIDs(result.Failed)
	result.Ready = len(result.Blocking) == 0 && len(result.Failed) == 0
	return result
}

// WouldCreateCycle reports whether adding the edge from -> to closes a cycle,
// that is whether from is already reachable from to.
func WouldCreateCycle(edges []models.JobDependency, from, to uuid.UUID) bool {
	if from == to {
		return true
	}
	adj := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range edges {
		adj[e.JobID] = append(adj[e.JobID], e.DependsOnJobID)
	}

	seen := map[uuid.UUID]bool{to: true}
	queue := []uuid.UUID{to}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if next == from {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
