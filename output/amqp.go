// Package output delivers encoded definition sets to RabbitMQ.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dcshock/defsync/pipeline"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers set on every published message.
const (
	HeaderVersion = "x-definition-version"
	HeaderDigest  = "x-definition-digest"
)

var errNotConnected = errors.New("not connected")

// Config addresses the broker and the destination queue.
type Config struct {
	URI   string
	Queue string
	// AppID is set on every message; defaults to "defsync".
	AppID       string
	DialTimeout time.Duration
}

// session is one open connection and confirm-mode channel.
type session interface {
	declare(queue string) error
	publish(ctx context.Context, queue string, p amqp.Publishing) error
	closed() bool
	close() error
}

type dialFunc func(cfg Config) (session, error)

// AMQP implements pipeline.Publisher. The queue is declared as a durable
// RabbitMQ stream and messages are published on the default exchange with
// the queue name as routing key, waiting for the broker's confirm.
type AMQP struct {
	cfg    Config
	logger *slog.Logger
	dial   dialFunc
	now    func() time.Time

	mu   sync.Mutex
	sess session
}

var _ pipeline.Publisher = (*AMQP)(nil)

// New returns an unconnected publisher.
func New(cfg Config, logger *slog.Logger) *AMQP {
	if cfg.AppID == "" {
		cfg.AppID = "defsync"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQP{cfg: cfg, logger: logger, dial: dialBroker, now: time.Now}
}

// Connect opens a fresh session and declares the queue, replacing any
// previous session.
func (a *AMQP) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != nil {
		_ = a.sess.close()
		a.sess = nil
	}

	sess, err := a.dial(a.cfg)
	if err != nil {
		return pipeline.RetryableErr(fmt.Errorf("amqp connect: %w", err))
	}
	if err := sess.declare(a.cfg.Queue); err != nil {
		_ = sess.close()
		return pipeline.RetryableErr(fmt.Errorf("amqp declare queue %q: %w", a.cfg.Queue, err))
	}
	a.sess = sess
	a.logger.Debug("amqp session open", "queue", a.cfg.Queue)
	return nil
}

// Publish sends msg and waits for the broker to confirm it.
func (a *AMQP) Publish(ctx context.Context, msg pipeline.Message) error {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil || sess.closed() {
		return pipeline.RetryableErr(fmt.Errorf("amqp publish: %w", errNotConnected))
	}
	if err := sess.publish(ctx, a.cfg.Queue, a.publishing(msg)); err != nil {
		return pipeline.RetryableErr(fmt.Errorf("amqp publish %s: %w", msg.ID, err))
	}
	return nil
}

// IsConnected reports whether the session is open.
func (a *AMQP) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess != nil && !a.sess.closed()
}

// Close closes the session, if any.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return nil
	}
	err := a.sess.close()
	a.sess = nil
	return err
}

func (a *AMQP) publishing(msg pipeline.Message) amqp.Publishing {
	return amqp.Publishing{
		Headers: amqp.Table{
			HeaderVersion: string(msg.Version),
			HeaderDigest:  msg.Digest,
		},
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    a.now().UTC(),
		Type:         "definition-set",
		AppId:        a.cfg.AppID,
		Body:         msg.Body,
	}
}

type brokerSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func dialBroker(cfg Config) (session, error) {
	conn, err := amqp.DialConfig(cfg.URI, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(cfg.DialTimeout),
		Properties: amqp.Table{"connection_name": cfg.AppID},
	})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &brokerSession{conn: conn, ch: ch}, nil
}

func (s *brokerSession) declare(queue string) error {
	_, err := s.ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-queue-type": "stream",
	})
	return err
}

func (s *brokerSession) publish(ctx context.Context, queue string, p amqp.Publishing) error {
	confirm, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, p)
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker nacked message")
	}
	return nil
}

func (s *brokerSession) closed() bool { return s.conn.IsClosed() || s.ch.IsClosed() }

func (s *brokerSession) close() error {
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}
