package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestEnvelope_Encode(t *testing.T) {
	tenantID := uuid.New()
	env := NewEnvelope(tenantID, IncidentCreated, map[string]string{"title": "x"})

	b, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["routing_key"] != IncidentCreated {
		t.Errorf("routing_key = %v", decoded["routing_key"])
	}
	if decoded["tenant_id"] != tenantID.String() {
		t.Errorf("tenant_id = %v", decoded["tenant_id"])
	}
	payload, ok := decoded["payload"].(map[string]any)
	if !ok || payload["title"] != "x" {
		t.Errorf("payload = %v", decoded["payload"])
	}
}

func TestEnvelope_EncodeError(t *testing.T) {
	env := NewEnvelope(uuid.New(), SOARNotify, make(chan int))
	if _, err := env.Encode(); err == nil {
		t.Error("expected error for unencodable payload")
	}
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoopPublisher(zerolog.Nop())
	if err := p.Publish(context.Background(), uuid.New(), BackupCompleted, nil); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestNewAMQPPublisher_BadURL(t *testing.T) {
	if _, err := NewAMQPPublisher("amqp://127.0.0.1:1/", zerolog.Nop()); err == nil {
		t.Error("expected dial error")
	}
}
