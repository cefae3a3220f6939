package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobEvent announces a job lifecycle change to downstream consumers.
type JobEvent struct {
	JobID      string    `json:"jobId"`
	OwnerID    string    `json:"ownerId"`
	DocumentID string    `json:"documentId"`
	Status     string    `json:"status"`
	IsDegraded bool      `json:"isDegraded"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers job events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

type RabbitPublisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	mu         sync.Mutex // amqp channels are not safe for concurrent publishes
}

func NewRabbitPublisher(url, exchange, routingKey string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	return &RabbitPublisher{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, event JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey+"."+event.Status,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			MessageId:    event.JobID + ":" + event.Status,
			Body:         body,
		},
	)
}

func (p *RabbitPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Noop drops events.
type Noop struct{}

func (Noop) Publish(context.Context, JobEvent) error { return nil }
func (Noop) Close() error { return nil }

// Recorder keeps published events in memory. Used in tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	events []JobEvent
}

func (r *Recorder) Publish(_ context.Context, event JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobEvent, len(r.events))
	copy(out, r.events)
	return out
}
