package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"wellness/internal/obs"
)

const (
	DefaultDialTimeout = 2 * time.Second

	publishBuffer    = 256
	publishTimeout   = 5 * time.Second
	reconnectBackoff = 5 * time.Second
)

var (
	ErrPublishQueueFull = errors.New("audit publish queue full")
	ErrPublisherClosed  = errors.New("audit publisher closed")
)

// AMQPPublisher publishes audit events to a durable RabbitMQ queue through the
// default exchange. Publish only enqueues; a single goroutine owns the
// connection, reconnects after failures and drops events while the broker is
// unreachable.
type AMQPPublisher struct {
	url         string
	queue       string
	dialTimeout time.Duration

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by the run goroutine once started
	conn        *amqp.Connection
	ch          *amqp.Channel
	lastAttempt time.Time
}

// NewAMQPPublisher dials the broker, declares the queue and starts the
// delivery goroutine. A non-positive dialTimeout uses DefaultDialTimeout.
func NewAMQPPublisher(url, queue string, dialTimeout time.Duration) (*AMQPPublisher, error) {
	p, err := newAMQPPublisher(url, queue, dialTimeout, publishBuffer)
	if err != nil {
		return nil, err
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	p.start()
	return p, nil
}

func newAMQPPublisher(url, queue string, dialTimeout time.Duration, buffer int) (*AMQPPublisher, error) {
	if url == "" || queue == "" {
		return nil, errors.New("amqp url and queue are required")
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &AMQPPublisher{
		url:         url,
		queue:       queue,
		dialTimeout: dialTimeout,
		events:      make(chan Event, buffer),
		done:        make(chan struct{}),
	}, nil
}

func (p *AMQPPublisher) start() {
	p.wg.Add(1)
	go p.run()
}

func (p *AMQPPublisher) connect() error {
	p.lastAttempt = time.Now()
	// DefaultDial bounds both the TCP connect and the AMQP handshake.
	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(p.dialTimeout)})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish enqueues the event without waiting for the broker. It fails only
// when the buffer is full or the publisher is closed.
func (p *AMQPPublisher) Publish(_ context.Context, event Event) error {
	select {
	case <-p.done:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.events <- event:
		return nil
	default:
		return ErrPublishQueueFull
	}
}

func (p *AMQPPublisher) run() {
	defer p.wg.Done()
	defer p.disconnect()
	for {
		select {
		case <-p.done:
			return
		case event := <-p.events:
			if err := p.deliver(event); err != nil {
				obs.AuditFailures.WithLabelValues("publish").Inc()
				logrus.WithError(err).WithField("action", event.Action).Warn("failed to publish audit event")
			}
		}
	}
}

func (p *AMQPPublisher) deliver(event Event) error {
	if p.ch == nil || p.ch.IsClosed() {
		p.disconnect()
		if time.Since(p.lastAttempt) < reconnectBackoff {
			return errors.New("rabbitmq unavailable, event dropped")
		}
		if err := p.connect(); err != nil {
			return err
		}
		logrus.WithField("queue", p.queue).Info("rabbitmq audit publisher reconnected")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Action),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// Close stops the delivery goroutine and releases the connection. Events
// still buffered are dropped.
func (p *AMQPPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *AMQPPublisher) disconnect() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
