// internal/events/publisher.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ExchangeName = "library.events"
	exchangeType = "topic"

	EventTypeLoanCreated  = "loan.created"
	EventTypeLoanReturned = "loan.returned"
	EventTypeLoanOverdue  = "loan.overdue"
	EventTypeLoanUpdated  = "loan.updated"
	EventTypeLoanDeleted  = "loan.deleted"

	eventVersion = "1.0.0"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second
)

// Publisher announces committed state changes to other systems.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
	Close() error
}

// HealthChecker is implemented by publishers that hold a broker connection.
type HealthChecker interface {
	IsHealthy() bool
}

// Envelope is the wire format of every published message.
type Envelope struct {
	EventID       string              `json:"event_id"`
	EventType     string              `json:"event_type"`
	EventVersion  string              `json:"event_version"`
	Timestamp     string              `json:"timestamp"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Payload       jsoniter.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload, taking the correlation id from the request id on ctx.
func NewEnvelope(ctx context.Context, eventType string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: middleware.GetReqID(ctx),
		Payload:       body,
	}, nil
}

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// AMQPPublisher publishes to a durable topic exchange with publisher confirms.
// A lost connection is re-established in the background, and lazily by the
// next Publish if that happens first.
type AMQPPublisher struct {
	url string
	log *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
}

func NewAMQPPublisher(url string, log *zap.Logger) (*AMQPPublisher, error) {
	p := newAMQPPublisher(url, log)

	p.mu.Lock()
	err := p.connectLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Info("Connected to RabbitMQ", zap.String("exchange", ExchangeName))
	return p, nil
}

func newAMQPPublisher(url string, log *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, log: log, done: make(chan struct{})}
}

// connectLocked dials the broker and opens a confirming channel. p.mu must be held.
func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := openChannel(conn)
	if err != nil {
		conn.Close()
		return err
	}

	p.conn, p.channel = conn, channel
	go p.watch(conn, conn.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

func openChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		ExchangeName,
		exchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return channel, nil
}

// watch waits for conn to drop and, unless the publisher is closing or has
// already moved to another connection, reconnects in the background.
func (p *AMQPPublisher) watch(conn *amqp.Connection, closed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case <-p.done:
		return
	case reason = <-closed:
	}

	p.mu.Lock()
	current := p.conn == conn
	if current {
		p.conn, p.channel = nil, nil
	}
	p.mu.Unlock()
	if !current || p.closing() {
		return
	}

	if reason != nil {
		p.log.Warn("RabbitMQ connection lost", zap.Error(reason))
	} else {
		p.log.Warn("RabbitMQ connection lost")
	}
	p.reconnect()
}

func (p *AMQPPublisher) reconnect() {
	for attempt := 1; ; attempt++ {
		select {
		case <-p.done:
			return
		case <-time.After(retryDelay(attempt)):
		}

		p.mu.Lock()
		if p.conn != nil {
			p.mu.Unlock()
			return
		}
		err := p.connectLocked()
		p.mu.Unlock()

		if err == nil {
			p.log.Info("Reconnected to RabbitMQ", zap.Int("attempt", attempt))
			return
		}
		p.log.Warn("Failed to reconnect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (p *AMQPPublisher) closing() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// acquire returns an open channel, reopening the channel or the whole
// connection when needed. The lock is released before publishing.
func (p *AMQPPublisher) acquire() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing() {
		return nil, ErrPublisherClosed
	}
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	if p.conn != nil && !p.conn.IsClosed() {
		channel, err := openChannel(p.conn)
		if err == nil {
			p.channel = channel
			return channel, nil
		}
		p.log.Warn("Failed to reopen channel, reconnecting", zap.Error(err))
		p.conn.Close()
	}
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p.channel, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	envelope, err := NewEnvelope(ctx, eventType, payload)
	if err != nil {
		return err
	}
	return p.publishWithRetry(ctx, eventType, envelope)
}

func (p *AMQPPublisher) publishWithRetry(ctx context.Context, routingKey string, envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return ErrPublisherClosed
			case <-time.After(retryDelay(attempt)):
			}
		}

		channel, err := p.acquire()
		if errors.Is(err, ErrPublisherClosed) {
			return err
		}
		if err == nil {
			err = p.publishOnce(ctx, channel, routingKey, envelope, body)
		}
		if err == nil {
			p.log.Debug("Event published",
				zap.String("event_id", envelope.EventID),
				zap.String("routing_key", routingKey),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		p.log.Warn("Failed to publish event, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, lastErr)
}

// publishOnce sends one message and waits for the broker's confirm of that
// delivery tag.
func (p *AMQPPublisher) publishOnce(ctx context.Context, channel *amqp.Channel, routingKey string, envelope Envelope, body []byte) error {
	confirm, err := channel.PublishWithDeferredConfirmWithContext(ctx, ExchangeName, routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    envelope.EventID,
			Body:         body,
			Headers: amqp.Table{
				"event_type":    envelope.EventType,
				"event_version": envelope.EventVersion,
			},
		},
	)
	if err != nil {
		return err
	}
	if confirm == nil {
		return errors.New("channel is not in confirm mode")
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("confirmation timeout for delivery %d", confirm.DeliveryTag)
	}
	if !acked {
		return fmt.Errorf("delivery %d not acknowledged", confirm.DeliveryTag)
	}
	return nil
}

// retryDelay is the exponential backoff before the given attempt.
func retryDelay(attempt int) time.Duration {
	backoff := initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// IsHealthy reports whether the broker connection is open.
func (p *AMQPPublisher) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *AMQPPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Error("Failed to close channel", zap.Error(err))
		}
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		if err != nil {
			return err
		}
	}
	p.log.Info("Publisher closed")
	return nil
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                               { return nil }

// MemoryPublisher keeps published envelopes in memory.
type MemoryPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (m *MemoryPublisher) Publish(ctx context.Context, eventType string, payload any) error {
	envelope, err := NewEnvelope(ctx, eventType, payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.envelopes = append(m.envelopes, envelope)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Published returns the envelopes of the given type, or all when eventType is empty.
func (m *MemoryPublisher) Published(eventType string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Envelope
	for _, e := range m.envelopes {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// New picks the AMQP publisher when a broker URL is configured.
func New(url string, log *zap.Logger) (Publisher, error) {
	if url == "" {
		log.Info("RABBITMQ_URL not set, loan events will not be published")
		return NoopPublisher{}, nil
	}
	return NewAMQPPublisher(url, log)
}
