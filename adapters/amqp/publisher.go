// Package amqp publishes committed events to a RabbitMQ queue for other
// services.
package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/codewandler/identity-go/core/es"
)

const (
	ProjectionName = "identity.amqp_publisher"
	contentType    = "application/json"
	appID          = "identity"
)

var ErrNacked = errors.New("amqp: broker did not confirm the message")

type Config struct {
	URL   string
	Queue string
	Log   *slog.Logger
	// PublishReplays also publishes events delivered by a rebuild.
	PublishReplays bool
}

// Publisher is a projection that publishes every envelope it receives as a
// persistent JSON message. The message id is the envelope id, so consumers
// can drop redeliveries.
type Publisher struct {
	mu             sync.Mutex
	conn           *amqp.Connection
	ch             *amqp.Channel
	queue          string
	log            *slog.Logger
	publishReplays bool
}

// Dial connects, declares the durable queue and enables publisher confirms.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.Queue == "" {
		return nil, errors.New("amqp: queue is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &Publisher{
		conn:           conn,
		ch:             ch,
		queue:          cfg.Queue,
		log:            log.With(slog.String("component", "amqp_publisher"), slog.String("queue", cfg.Queue)),
		publishReplays: cfg.PublishReplays,
	}, nil
}

func (p *Publisher) Close() error {
	return errors.Join(p.ch.Close(), p.conn.Close())
}

func (p *Publisher) Name() string { return ProjectionName }

func (p *Publisher) Handle(msgCtx es.MsgCtx) error {
	if msgCtx.Replay() && !p.publishReplays {
		return nil
	}
	msg, err := newPublishing(msgCtx.Envelope())
	if err != nil {
		return err
	}

	ctx := msgCtx.Context()
	p.mu.Lock()
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		msg,
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.MessageId, err)
	}

	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNacked, msg.MessageId)
	}
	p.log.Debug("published", slog.String("message_id", msg.MessageId), slog.String("type", msg.Type))
	return nil
}

func newPublishing(env es.Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Type,
		AppId:        appID,
		Timestamp:    env.OccurredAt,
		Headers: amqp.Table{
			"aggregate_type": env.AggregateType,
			"aggregate_id":   env.AggregateID,
			"version":        int64(env.Version),
		},
		Body: body,
	}, nil
}

var _ es.Projection = (*Publisher)(nil)
