package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
)

// mockDependencyStore implements DependencyStore for testing.
type mockDependencyStore struct {
	jobs  map[uuid.UUID]*models.BackupJob
	edges []models.JobDependency
}

func newMockDependencyStore(jobs ...*models.BackupJob) *mockDependencyStore {
	m := &mockDependencyStore{jobs: make(map[uuid.UUID]*models.BackupJob)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *mockDependencyStore) GetBackupJob(_ context.Context, tenantID, id uuid.UUID) (*models.BackupJob, error) {
	j, ok := m.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, apperr.NotFound("backup job")
	}
	return j, nil
}

func (m *mockDependencyStore) ListJobDependencies(_ context.Context, _ uuid.UUID) ([]models.JobDependency, error) {
	return m.edges, nil
}

func (m *mockDependencyStore) GetBackupJobStatuses(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]models.BackupJobStatus, error) {
	out := make(map[uuid.UUID]models.BackupJobStatus)
	for _, id := range ids {
		if j, ok := m.jobs[id]; ok && j.TenantID == tenantID {
			out[id] = j.Status
		}
	}
	return out, nil
}

func (m *mockDependencyStore) AddJobDependency(_ context.Context, _ uuid.UUID, dep models.JobDependency) error {
	m.edges = append(m.edges, dep)
	return nil
}

func jobWithStatus(tenantID uuid.UUID, status models.BackupJobStatus) *models.BackupJob {
	j := models.NewBackupJob(tenantID, nil, models.BackupJobTypeFull, models.BackupTriggerManual)
	j.Status = status
	return j
}

func TestDependencyChecker_Check(t *testing.T) {
	tenant := uuid.New()
	target := jobWithStatus(tenant, models.BackupJobStatusRunning)
	done := jobWithStatus(tenant, models.BackupJobStatusCompleted)
	running := jobWithStatus(tenant, models.BackupJobStatusRunning)
	failed := jobWithStatus(tenant, models.BackupJobStatusFailed)

	store := newMockDependencyStore(target, done, running, failed)
	c := NewDependencyChecker(store)
	ctx := context.Background()

	t.Run("no dependencies is ready", func(t *testing.T) {
		status, err := c.Check(ctx, tenant, target.ID)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !status.Ready || len(status.Blocking) != 0 || len(status.Failed) != 0 {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("mixed dependencies", func(t *testing.T) {
		for _, dep := range []*models.BackupJob{done, running, failed} {
			if err := c.AddDependency(ctx, tenant, target.ID, dep.ID); err != nil {
				t.Fatalf("AddDependency: %v", err)
			}
		}
		status, err := c.Check(ctx, tenant, target.ID)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if status.Ready {
			t.Error("should not be ready")
		}
		if len(status.Blocking) != 1 || status.Blocking[0] != running.ID {
			t.Errorf("Blocking = %v", status.Blocking)
		}
		if len(status.Failed) != 1 || status.Failed[0] != failed.ID {
			t.Errorf("Failed = %v", status.Failed)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		if _, err := c.Check(ctx, tenant, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("other tenant", func(t *testing.T) {
		if _, err := c.Check(ctx, uuid.New(), target.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestDependencyChecker_AddDependency(t *testing.T) {
	tenant := uuid.New()
	a := jobWithStatus(tenant, models.BackupJobStatusRunning)
	b := jobWithStatus(tenant, models.BackupJobStatusRunning)
	cJob := jobWithStatus(tenant, models.BackupJobStatusRunning)
	foreign := jobWithStatus(uuid.New(), models.BackupJobStatusCompleted)

	store := newMockDependencyStore(a, b, cJob, foreign)
	checker := NewDependencyChecker(store)
	ctx := context.Background()

	if err := checker.AddDependency(ctx, tenant, a.ID, a.ID); !errors.Is(err, apperr.ErrBadRequest) {
		t.Errorf("self edge: expected bad request, got %v", err)
	}
	if err := checker.AddDependency(ctx, tenant, a.ID, foreign.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cross-tenant edge: expected not found, got %v", err)
	}
	if err := checker.AddDependency(ctx, tenant, a.ID, b.ID); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := checker.AddDependency(ctx, tenant, b.ID, cJob.ID); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	if err := checker.AddDependency(ctx, tenant, cJob.ID, a.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("c->a closes a cycle, expected conflict, got %v", err)
	}
	if len(store.edges) != 2 {
		t.Errorf("expected 2 edges, got %d", len(store.edges))
	}
}

func TestWouldCreateCycle(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	edges := []models.JobDependency{
		{JobID: a, DependsOnJobID: b},
		{JobID: b, DependsOnJobID: c},
	}

	tests := []struct {
		name     string
		from, to uuid.UUID
		want     bool
	}{
		{"self", a, a, true},
		{"direct back edge", b, a, true},
		{"transitive back edge", c, a, true},
		{"forward shortcut", a, c, false},
		{"unrelated", d, a, false},
		{"into unrelated", a, d, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WouldCreateCycle(edges, tt.from, tt.to); got != tt.want {
				t.Errorf("WouldCreateCycle = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateDependencies_MissingJobBlocks(t *testing.T) {
	job, gone := uuid.New(), uuid.New()
	status := EvaluateDependencies(job, []models.JobDependency{{JobID: job, DependsOnJobID: gone}}, nil)
	if status.Ready || len(status.Blocking) != 1 {
		t.Errorf("missing dependency should block, got %+v", status)
	}
}
