// Package notify publishes reservation status changes to RabbitMQ so that
// mailers and other downstream consumers can react to them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kirinyoku/reservo/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultQueue = "reservation.status_changed"

type Config struct {
	URL   string
	Queue string
}

// Publisher owns one connection and one channel. amqp channels are not safe
// for concurrent publishing, so sends are serialized.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(cfg Config) (*Publisher, error) {
	const op = "notify.NewPublisher"

	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: channel: %w", op, err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: declare %s: %w", op, queue, err)
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) StatusChanged(ctx context.Context, c domain.StatusChange) error {
	const op = "notify.Publisher.StatusChanged"

	msg, err := Message(c)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	chErr := p.ch.Close()
	if err := p.conn.Close(); err != nil {
		return err
	}
	return chErr
}

// Message encodes c as a persistent JSON delivery. The reservation id is the
// message id so consumers can deduplicate redeliveries per transition.
func Message(c domain.StatusChange) (amqp.Publishing, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return amqp.Publishing{}, err
	}

	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    c.ReservationID + ":" + string(c.To),
		Type:         "reservation.status_changed",
		Timestamp:    at.UTC(),
		Body:         body,
	}, nil
}

// Nop discards notifications. Used when no broker is configured.
type Nop struct{}

func (Nop) StatusChanged(context.Context, domain.StatusChange) error { return nil }
