package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go" // AMQP 0-9-1 client for RabbitMQ
	"github.com/sirupsen/logrus"          // structured logging for delivery failures
)

const (
	// DefaultDialTimeout bounds the TCP connect and the AMQP handshake. The
	// library default is 30s, which is far longer than any request should
	// ever wait on the broker.
	DefaultDialTimeout = 3 * time.Second

	// DefaultBuffer is how many events may wait for delivery before Publish
	// starts dropping them.
	DefaultBuffer = 256

	sendTimeout = 5 * time.Second
)

// ErrBufferFull is returned by Publish when the delivery goroutine has
// fallen behind and the event was dropped.
var ErrBufferFull = errors.New("auth event buffer full")

// Publisher sends AuthEvents to the auth.events queue.
//
// Publish never touches the network: it hands the event to a buffered
// channel and returns. Run drains that channel in its own goroutine and
// does the actual delivery, so a slow or unreachable broker delays only
// the events themselves and never the request that produced them. The
// connection is opened lazily and re-dialled after any failure, so an
// outage only costs the events published while it lasts.
type Publisher struct {
	URL         string
	Queue       string
	DialTimeout time.Duration
	Log         logrus.FieldLogger

	events chan AuthEvent

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for url with the default buffer and dial
// timeout. Nothing is dialled until Run delivers the first event.
func NewPublisher(url string) *Publisher {
	return &Publisher{
		URL:         url,
		Queue:       AuthEventsQueue,
		DialTimeout: DefaultDialTimeout,
		events:      make(chan AuthEvent, DefaultBuffer),
	}
}

// Publish queues ev for delivery and returns at once. A context that is
// already done is reported without queueing anything. When the buffer is
// full the event is dropped and ErrBufferFull is returned; callers treat
// events as best effort, so blocking the request instead would be wrong.
func (p *Publisher) Publish(ctx context.Context, ev AuthEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run delivers queued events until ctx is cancelled. Delivery failures are
// logged and the event is dropped; the next event dials again.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			if err := p.Send(ctx, ev); err != nil {
				p.log().WithError(err).WithField("event", ev.Type).Warn("auth event dropped")
			}
		}
	}
}

// Send publishes ev synchronously as a persistent JSON message. The dial is
// bounded by DialTimeout and the publish itself by a short per-message
// deadline, so Send returns promptly even against a broker that accepts the
// TCP connection and then says nothing.
func (p *Publisher) Send(ctx context.Context, ev AuthEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.Queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		msg,
	); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection. Events still buffered are
// discarded.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

// channel returns an open channel with the queue declared. Callers hold mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := dial(p.URL, p.DialTimeout)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func (p *Publisher) log() logrus.FieldLogger {
	if p.Log != nil {
		return p.Log
	}
	return logrus.StandardLogger()
}

// dial opens an AMQP connection whose connect and handshake share one
// deadline. amqp.Dial would wait up to 30s on a silent peer.
func dial(url string, timeout time.Duration) (*amqp.Connection, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:   amqp.DefaultDial(timeout),
		Locale: "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	return conn, nil
}

// encodeEvent renders ev as the wire message. The body is the JSON form of
// AuthEvent; the event type is copied into the AMQP type property so
// consumers can route on it without decoding.
func encodeEvent(ev AuthEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	}, nil
}
