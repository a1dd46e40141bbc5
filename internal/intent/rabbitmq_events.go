package intent

import (
	"context"
	"encoding/json"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "IntentMCP/internal/errors"
)

// RabbitMQPublisherConfig describes the AMQP connection for lifecycle events.
type RabbitMQPublisherConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

// RabbitMQPublisher publishes lifecycle events to an AMQP queue.
type RabbitMQPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the event queue.
func NewRabbitMQPublisher(cfg RabbitMQPublisherConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL must not be empty")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "intentmcp.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open RabbitMQ channel")
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "declare RabbitMQ queue")
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish serialises the event and publishes it to the queue.
func (p *RabbitMQPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ publisher not initialised")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "encode lifecycle event")
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	}); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "publish lifecycle event to RabbitMQ")
	}
	return nil
}

// Close shuts the channel and connection down.
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ Publisher = (*RabbitMQPublisher)(nil)
