package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ActivityLog appends one human-readable line per notification to
// <Dir>/activity.log.  Tokens are never written.
type ActivityLog struct {
	Dir string
	mu  sync.Mutex
}

// Consumer listens on every notification queue and writes each message
// to an ActivityLog.
type Consumer struct {
	url    string
	log    *ActivityLog
	logger *slog.Logger
}

// NewConsumer returns a Consumer that appends to the activity log under dir.
func NewConsumer(url, dir string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{url: url, log: &ActivityLog{Dir: dir}, logger: logger}
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff (capped at 30s) whenever the
// connection or the delivery channel is lost.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("activity-consumer: dial failed", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("activity-consumer: consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type delivery struct {
	queue string
	d     amqp.Delivery
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("activity-consumer: set QoS failed", "err", err)
	}

	merged := make(chan delivery)
	stop := make(chan struct{})
	defer close(stop)
	var wg sync.WaitGroup
	for _, name := range Queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		wg.Add(1)
		go func(name string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range msgs {
				select {
				case merged <- delivery{queue: name, d: d}:
				case <-stop:
					return
				}
			}
		}(name, msgs)
	}
	go func() { wg.Wait(); close(merged) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-merged:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.log.Write(m.queue, m.d.Body, time.Now()); err != nil {
				c.logger.Warn("activity-consumer: handle message failed", "queue", m.queue, "err", err)
				_ = m.d.Nack(false, false)
				continue
			}
			_ = m.d.Ack(false)
		}
	}
}

// Write formats body according to queue and appends it to the log file.
func (l *ActivityLog) Write(queue string, body []byte, now time.Time) error {
	line, err := formatLine(queue, body, now)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(l.Dir, "activity.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(queue string, body []byte, now time.Time) (string, error) {
	stamp := now.UTC().Format(time.RFC3339)
	switch queue {
	case QueueCheckedIn:
		var ev CheckedInEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Checked in | event_id=%d | attendee_id=%d | email=%s | location=%q | staff=%q | assurance=%s\n",
			stamp, ev.EventID, ev.AttendeeID, ev.Email, ev.Location, ev.StaffID, ev.Assurance), nil
	case QueueResourceClaimed:
		var ev ResourceClaimedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Resource claimed | event_id=%d | attendee_id=%d | resource=%s | remaining=%d/%d | location=%q | staff=%q\n",
			stamp, ev.EventID, ev.AttendeeID, ev.Resource, ev.Remaining, ev.Total, ev.Location, ev.StaffID), nil
	case QueueLowStock:
		var ev LowStockEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Low stock | event_id=%d | resource=%s | remaining=%d/%d | threshold=%d\n",
			stamp, ev.EventID, ev.Resource, ev.Remaining, ev.Total, ev.LowThreshold), nil
	case QueueCredentialIssued:
		var ev CredentialIssuedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Credential issued | event_id=%d | attendee_id=%d | email=%s | expires_at=%s\n",
			stamp, ev.EventID, ev.AttendeeID, ev.Email, ev.ExpiresAt.UTC().Format(time.RFC3339)), nil
	default:
		return "", fmt.Errorf("unknown queue %q", queue)
	}
}
