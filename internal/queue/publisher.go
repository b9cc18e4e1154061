package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-credentials/internal/metrics"
)

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, io.Closer, error)

func dialAMQP(url string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, conn, nil
}

// Publisher sends messages to RabbitMQ.  Notify is fire-and-forget: the
// message goes into a bounded buffer drained by a background worker and
// is dropped with a warning when the buffer is full.  Publish is the
// synchronous path used when the caller wants the delivery result.
//
// The connection is opened lazily and re-opened after any publish
// failure, so a broker outage never blocks or fails the caller of
// Notify.
type Publisher struct {
	url     string
	logger  *slog.Logger
	metrics *metrics.Metrics
	buf     chan Message
	dial    dialFunc

	mu       sync.Mutex
	ch       channel
	conn     io.Closer
	declared map[string]bool

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewPublisher returns a publisher for the broker at url with room for
// buffer pending notifications.
func NewPublisher(url string, buffer int, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:      url,
		logger:   logger,
		metrics:  m,
		buf:      make(chan Message, buffer),
		dial:     dialAMQP,
		declared: map[string]bool{},
		done:     make(chan struct{}),
	}
}

// Start launches the delivery worker.  It stops when ctx is cancelled or
// Close is called; Close first drains what is already buffered.  Messages
// still buffered after a cancellation are counted as dropped.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				p.dropBuffered("publisher stopped")
				return
			case <-p.done:
				p.drain(ctx)
				return
			case msg := <-p.buf:
				p.deliver(ctx, msg)
			}
		}
	}()
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		select {
		case msg := <-p.buf:
			p.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) dropBuffered(reason string) {
	for {
		select {
		case msg := <-p.buf:
			p.logger.Warn("notification dropped: "+reason, "queue", msg.RoutingKey())
			p.metrics.Notification("dropped")
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, msg); err != nil {
		p.logger.Warn("notification publish failed", "queue", msg.RoutingKey(), "err", err)
		p.metrics.Notification("failed")
		return
	}
	p.metrics.Notification("sent")
}

// Notify enqueues msg without blocking.
func (p *Publisher) Notify(msg Message) {
	select {
	case <-p.done:
		p.logger.Warn("notification dropped: publisher closed", "queue", msg.RoutingKey())
		p.metrics.Notification("dropped")
		return
	default:
	}
	select {
	case p.buf <- msg:
	default:
		p.logger.Warn("notification dropped: buffer full", "queue", msg.RoutingKey())
		p.metrics.Notification("dropped")
	}
}

// Publish marshals msg to JSON and publishes it as a persistent message
// to its durable queue on the default exchange.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.RoutingKey(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	key := msg.RoutingKey()
	if !p.declared[key] {
		if _, err := ch.QueueDeclare(key, true, false, false, false, nil); err != nil {
			p.resetLocked()
			return fmt.Errorf("queue declare %s: %w", key, err)
		}
		p.declared[key] = true
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", key, false, false, pub); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) channelLocked() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, conn, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}
	p.ch, p.conn = ch, conn
	p.declared = map[string]bool{}
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close stops the worker after draining buffered messages and closes the
// broker connection.  Anything left in the buffer once the worker is gone
// is counted as dropped.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.dropBuffered("publisher closed")
		p.mu.Lock()
		p.resetLocked()
		p.mu.Unlock()
	})
}
