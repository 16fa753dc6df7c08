// Package events publishes domain events to the message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Routing keys.
const (
	IncidentCreated       = "incident.created"
	IncidentStatusChanged = "incident.status_changed"
	AlertRaised           = "alert.raised"
	BackupCompleted       = "backup.completed"
	BackupFailed          = "backup.failed"
	ExportCompleted       = "export.completed"
	SOARNotify            = "soar.notify"
)

// Envelope wraps every published payload.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	RoutingKey string    `json:"routing_key"`
	TenantID   uuid.UUID `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// NewEnvelope creates an envelope for payload.
func NewEnvelope(tenantID uuid.UUID, routingKey string, payload any) Envelope {
	return Envelope{
		ID:         uuid.New(),
		RoutingKey: routingKey,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Encode marshals the envelope to JSON.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.RoutingKey, err)
	}
	return b, nil
}

// Publisher sends events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, routingKey string, payload any) error
}

// NoopPublisher discards events, logging them at debug level.
type NoopPublisher struct {
	logger zerolog.Logger
}

// NewNoopPublisher creates a NoopPublisher.
func NewNoopPublisher(logger zerolog.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger.With().Str("component", "events").Logger()}
}

// Publish logs the event and returns nil.
func (p *NoopPublisher) Publish(_ context.Context, tenantID uuid.UUID, routingKey string, _ any) error {
	p.logger.Debug().
		Str("tenant_id", tenantID.String()).
		Str("routing_key", routingKey).
		Msg("event dropped, no broker configured")
	return nil
}
