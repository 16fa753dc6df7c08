package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// ExchangeName is the durable topic exchange all events go to.
const ExchangeName = "aegis.events"

// AMQPPublisher publishes events to a RabbitMQ topic exchange. A closed
// channel or connection is reopened on the next publish.
type AMQPPublisher struct {
	url    string
	logger zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials url and declares the exchange.
func NewAMQPPublisher(url string, logger zerolog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:    url,
		logger: logger.With().Str("component", "amqp_publisher").Logger(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		ExchangeName,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.ch = ch
	p.logger.Info().Str("exchange", ExchangeName).Msg("connected to message broker")
	return nil
}

// Publish sends payload wrapped in an Envelope with the given routing key.
func (p *AMQPPublisher) Publish(_ context.Context, tenantID uuid.UUID, routingKey string, payload any) error {
	env := NewEnvelope(tenantID, routingKey, payload)
	body, err := env.Encode()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID.String(),
		Timestamp:    env.OccurredAt,
		Body:         body,
	}
	err = p.ch.Publish(ExchangeName, routingKey, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn().Msg("channel closed, reconnecting")
		if err := p.connectLocked(); err != nil {
			return err
		}
		err = p.ch.Publish(ExchangeName, routingKey, false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
