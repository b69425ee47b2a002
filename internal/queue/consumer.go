package queue

import (
	"context"       // stops the consume loop on shutdown
	"encoding/json" // decoding event bodies
	"errors"        // sentinel errors for bad payloads
	"fmt"           // error wrapping and log line formatting
	"os"            // appending to the audit log file
	"path/filepath" // building the log file path
	"time"          // reconnect backoff and timestamps

	amqp "github.com/rabbitmq/amqp091-go" // AMQP 0-9-1 client for RabbitMQ
	"github.com/sirupsen/logrus"          // structured logging
)

// AuditConsumer drains auth.events and appends one line per event to
// <Dir>/auth.log. Dir defaults to "logs". Messages are acknowledged only
// after the line has been written, so an event is not lost when the
// process dies mid-write; it is redelivered instead.
type AuditConsumer struct {
	URL string
	Dir string
	Log logrus.FieldLogger
}

// Run connects, consumes and reconnects with exponential backoff until ctx
// is cancelled. Malformed messages are rejected without requeue so a bad
// payload cannot spin the loop.
func (c *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := dial(c.URL, DefaultDialTimeout)
		if err != nil {
			c.Log.WithError(err).Warnf("audit-consumer: dial failed; retrying in %s", backoff)
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
		c.Log.WithError(err).Warn("audit-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

// consume opens a channel on conn, declares the queue and handles
// deliveries until the channel closes or ctx is cancelled. Prefetch is
// capped so a backlog does not pile up in memory.
func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.WithError(err).Warn("audit-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, AuthEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.HandleMessage(d.Body); err != nil {
			c.Log.WithError(err).Error("audit-consumer: handle message failed")
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// HandleMessage decodes one delivery body and appends it to the audit log.
// Bodies that are not JSON, or that lack a type or user id, are rejected
// and nothing is written.
func (c *AuditConsumer) HandleMessage(body []byte) error {
	var ev AuthEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.UserID == "" {
		return errors.New("event without type or user id")
	}

	dir := c.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "auth.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// formatLine renders one audit line. The username is quoted because it is
// user-chosen text.
func formatLine(ev AuthEvent) string {
	return fmt.Sprintf("[%s] %s | user_id=%s | username=%q | ip=%s\n",
		ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type, ev.UserID, ev.Username, ev.RemoteIP)
}

// sleep waits for d and reports false if ctx ended first.
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
