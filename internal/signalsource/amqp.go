package signalsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/model"
)

// AMQP defaults.
const (
	DefaultBatchSize = 50
	DefaultWait      = time.Second
	SourceAMQP       = "amqp"
)

// Channel is the subset of *amqp091.Channel the source uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	Close() error
}

var _ Channel = (*amqp091.Channel)(nil)

// AMQPSource consumes JSON-encoded model.SignalEvent messages from a
// durable queue. A message is acked once its event was applied, nacked
// with requeue when applying failed on a store error, and nacked without
// requeue when it can never apply (malformed JSON, unknown prospect).
type AMQPSource struct {
	ch        Channel
	queue     string
	logger    *slog.Logger
	batchSize int
	wait      time.Duration
	msgs      <-chan amqp091.Delivery
}

var _ engine.SignalSource = (*AMQPSource)(nil)

// AMQPOption configures an AMQPSource.
type AMQPOption func(*AMQPSource)

// WithBatchSize caps the deliveries returned by one Fetch. It is also the
// channel prefetch count.
func WithBatchSize(n int) AMQPOption {
	return func(s *AMQPSource) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithWait sets how long Fetch waits for the first message of a batch.
func WithWait(d time.Duration) AMQPOption {
	return func(s *AMQPSource) {
		if d > 0 {
			s.wait = d
		}
	}
}

// WithAMQPLogger sets the logger.
func WithAMQPLogger(l *slog.Logger) AMQPOption {
	return func(s *AMQPSource) { s.logger = l }
}

// NewAMQPSource declares queue on ch and starts consuming with manual
// acknowledgement.
func NewAMQPSource(ch Channel, queue string, opts ...AMQPOption) (*AMQPSource, error) {
	s := &AMQPSource{
		ch:        ch,
		queue:     queue,
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
		wait:      DefaultWait,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := ch.Qos(s.batchSize, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	s.msgs = msgs
	s.logger.Info("signal consumer started", "queue", q.Name)
	return s, nil
}

// ErrConsumerClosed is returned by Fetch once the broker closed the
// delivery stream.
var ErrConsumerClosed = errors.New("amqp consumer closed")

// Fetch waits up to the configured wait for a first message, then takes
// whatever else is already buffered, up to the batch size. Malformed
// messages are dropped here and never reach the engine.
func (s *AMQPSource) Fetch(ctx context.Context) ([]engine.Delivery, error) {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	var out []engine.Delivery
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg, ok := <-s.msgs:
		if !ok {
			return nil, ErrConsumerClosed
		}
		out = s.appendDecoded(out, msg)
	}

	for len(out) < s.batchSize {
		select {
		case msg, ok := <-s.msgs:
			if !ok {
				return out, nil
			}
			out = s.appendDecoded(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (s *AMQPSource) appendDecoded(out []engine.Delivery, msg amqp091.Delivery) []engine.Delivery {
	ev, err := decodeSignal(msg.Body)
	if err != nil {
		s.logger.Warn("dropping malformed signal", "tag", msg.DeliveryTag, "error", err)
		if nerr := msg.Nack(false, false); nerr != nil {
			s.logger.Warn("nack failed", "tag", msg.DeliveryTag, "error", nerr)
		}
		return out
	}
	return append(out, engine.Delivery{
		Event: ev,
		Ack:   func() error { return msg.Ack(false) },
		Reject: func(requeue bool) error {
			return msg.Nack(false, requeue)
		},
	})
}

func decodeSignal(body []byte) (model.SignalEvent, error) {
	var ev model.SignalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode signal: %w", err)
	}
	if ev.Source == "" {
		ev.Source = SourceAMQP
	}
	return ev, nil
}

// Close closes the channel.
func (s *AMQPSource) Close() error {
	return s.ch.Close()
}

// DialOptions configures DialWithRetry.
type DialOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// maxDialDelay caps the backoff between dial attempts.
const maxDialDelay = time.Minute

// DialWithRetry connects to the broker with exponential backoff. It
// respects context cancellation.
func DialWithRetry(ctx context.Context, cfg DialOptions) (*amqp091.Connection, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var lastErr error
	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				cfg.Logger.Info("broker connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err
		if i == cfg.RetryAttempts {
			break
		}

		sleep := min(cfg.Delay*time.Duration(math.Pow(2, float64(i-1))), maxDialDelay)
		cfg.Logger.Warn("broker dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("connect to broker after %d attempts: %w", cfg.RetryAttempts, lastErr)
}
