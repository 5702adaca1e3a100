package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dialTimeout    = 2 * time.Second
	publishTimeout = 5 * time.Second
	bufferSize     = 256
)

var (
	// ErrBufferFull means the broker is behind or unreachable and the
	// event was dropped.
	ErrBufferFull = errors.New("audit event buffer full")
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("audit publisher closed")
)

// Publisher publishes AuthEvents to RabbitMQ. Publish only enqueues onto a
// bounded buffer; a single goroutine owns the connection, dials lazily and
// retries with backoff while the broker is unreachable. Callers are never
// blocked by the broker.
type Publisher struct {
	url    string
	logger *zap.Logger
	events chan AuthEvent

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}

	// owned by run
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string, logger *zap.Logger) *Publisher {
	return newPublisher(url, logger, bufferSize)
}

func newPublisher(url string, logger *zap.Logger, size int) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	p := &Publisher{
		url:    url,
		logger: logger.Named("audit-publisher"),
		events: make(chan AuthEvent, size),
		ctx:    ctx,
		stop:   stop,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues ev for delivery. It never waits on the broker.
func (p *Publisher) Publish(_ context.Context, ev AuthEvent) error {
	if p.ctx.Err() != nil {
		return ErrPublisherClosed
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops delivery and releases the broker connection. Events still
// buffered are dropped.
func (p *Publisher) Close() error {
	p.stop()
	<-p.done
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)
	defer p.reset()

	backoff := time.Second
	for {
		var ev AuthEvent
		select {
		case <-p.ctx.Done():
			if n := len(p.events); n > 0 {
				p.logger.Warn("dropping undelivered events", zap.Int("count", n))
			}
			return
		case ev = <-p.events:
		}

		for {
			err := p.send(ev)
			if err == nil {
				backoff = time.Second
				break
			}
			p.logger.Warn("publish failed", zap.String("event", string(ev.Type)),
				zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(p.ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
		}
	}
}

func (p *Publisher) send(ev AuthEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		// not retryable; drop it
		p.logger.Error("marshal event", zap.String("event", string(ev.Type)), zap.Error(err))
		return nil
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(p.ctx, publishTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx,
		"",              // default exchange
		AuthEventsQueue, // routing key = queue name
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         string(ev.Type),
			Body:         body,
		})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// channel returns an open channel, dialing when needed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.logger.Info("connected", zap.String("queue", AuthEventsQueue))
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AuthEvent) error { return nil }
