// Package consumer reads payment processor results from Kafka.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/segmentio/kafka-go"
)

// PaymentResultEvent is the message the payment processor publishes once a
// payment settles.
type PaymentResultEvent struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// PaymentRecorder applies a payment outcome to an order.
type PaymentRecorder interface {
	RecordPaymentResult(ctx context.Context, orderID string, outcome domain.PaymentStatus, reference string) (*domain.Order, error)
}

// MessageReader is the part of kafka.Reader the consumer needs. Offsets are
// committed explicitly, only once a message is settled.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 10 * time.Second
)

var errMalformed = errors.New("malformed payment result")

type Consumer struct {
	recorder PaymentRecorder
	reader   MessageReader
	logger   *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewConsumer(recorder PaymentRecorder, topic, groupID string, logger *slog.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(recorder, reader, logger)
}

func newConsumer(recorder PaymentRecorder, reader MessageReader, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		recorder:   recorder,
		reader:     reader,
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Run reads until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	backoff := c.minBackoff
	for ctx.Err() == nil {
		if c.processMessage(ctx) {
			backoff = c.minBackoff
			continue
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = c.nextBackoff(backoff)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error("error closing kafka reader", "error", err)
	}
}

// processMessage fetches one message and keeps applying it until it is
// settled or ctx ends. It reports false when the fetch itself failed.
func (c *Consumer) processMessage(ctx context.Context) bool {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "error fetching message", "error", err)
		}
		return false
	}

	backoff := c.minBackoff
	for {
		err := c.handle(ctx, m.Value)
		if err == nil {
			break
		}
		if permanent(err) {
			c.logger.ErrorContext(ctx, "dropping payment result",
				"partition", m.Partition, "offset", m.Offset, "error", err)
			break
		}

		c.logger.ErrorContext(ctx, "failed to apply payment result, retrying",
			"partition", m.Partition, "offset", m.Offset, "retry_in", backoff.String(), "error", err)
		if !sleep(ctx, backoff) {
			// uncommitted: the group redelivers it after a restart
			return true
		}
		backoff = c.nextBackoff(backoff)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.ErrorContext(ctx, "failed to commit offset", "partition", m.Partition, "offset", m.Offset, "error", err)
	}
	return true
}

// permanent errors never succeed on retry.
func permanent(err error) bool {
	return errors.Is(err, errMalformed) || errors.Is(err, domain.ErrNotFound)
}

func (c *Consumer) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
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

// handle applies one message. Redelivered results for an already settled
// payment are skipped.
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var event PaymentResultEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", errMalformed)
	}
	outcome, ok := domain.ParsePaymentOutcome(event.Status)
	if !ok {
		return fmt.Errorf("%w: unknown status %q", errMalformed, event.Status)
	}

	order, err := c.recorder.RecordPaymentResult(ctx, event.OrderID, outcome, event.Reference)
	if errors.Is(err, domain.ErrInvalidTransition) {
		c.logger.InfoContext(ctx, "payment result already applied, skipping", "order_id", event.OrderID, "status", outcome.String())
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "payment result applied", "order_id", order.ID, "payment_status", order.PaymentStatus.String())
	return nil
}
