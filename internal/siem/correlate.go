package siem

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/google/uuid"
)

// DefaultCorrelationWindow is how far back events from the same source IP are linked.
const DefaultCorrelationWindow = 15 * time.Minute

// CorrelationStore looks up earlier events from the same source.
type CorrelationStore interface {
	FindCorrelatedEvents(ctx context.Context, tenantID uuid.UUID, sourceIP string, since, until time.Time) ([]*models.SIEMEvent, error)
}

// Correlator assigns correlation IDs by source IP within a time window.
type Correlator struct {
	store  CorrelationStore
	window time.Duration
}

// NewCorrelator creates a Correlator. A non-positive window uses DefaultCorrelationWindow.
func NewCorrelator(store CorrelationStore, window time.Duration) *Correlator {
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	return &Correlator{store: store, window: window}
}

// Correlate sets e.CorrelationID and returns the number of related events found.
// An existing correlation ID from the window is reused, otherwise a new one is minted.
func (c *Correlator) Correlate(ctx context.Context, e *models.SIEMEvent) (int, error) {
	if e.SourceIP == "" {
		id := uuid.New()
		e.CorrelationID = &id
		return 0, nil
	}

	related, err := c.store.FindCorrelatedEvents(ctx, e.TenantID, e.SourceIP, e.OccurredAt.Add(-c.window), e.OccurredAt)
	if err != nil {
		return 0, fmt.Errorf("find correlated events: %w", err)
	}

	for _, r := range related {
		if r.CorrelationID != nil {
			id := *r.CorrelationID
			e.CorrelationID = &id
			return len(related), nil
		}
	}
	id := uuid.New()
	e.CorrelationID = &id
	return len(related), nil
}
