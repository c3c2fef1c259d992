// Package publisher delivers storefront notifications.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event is the envelope written to the notifications topic.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// MessageWriter is the part of kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events without waiting for the broker. Write
// failures are logged and never reach the caller.
type KafkaNotifier struct {
	writer  MessageWriter
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewKafkaNotifier(topic string, logger *slog.Logger, brokers ...string) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("failed to publish notifications", "count", len(messages), "topic", topic, "error", err)
			}
		},
	}
	return newKafkaNotifier(w, logger)
}

func newKafkaNotifier(w MessageWriter, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		writer:  w,
		logger:  logger,
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event string, payload any) {
	msg, err := n.message(event, payload)
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to encode notification", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.ErrorContext(ctx, "failed to publish notification", "event", event, "error", err)
	}
}

func (n *KafkaNotifier) message(event string, payload any) (kafka.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	value, err := json.Marshal(Event{
		ID:         uuid.NewString(),
		Type:       event,
		OccurredAt: n.now(),
		Payload:    body,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(partitionKey(payload)), // order id keeps an order's events in sequence
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event)},
		},
	}, nil
}

func partitionKey(payload any) string {
	switch p := payload.(type) {
	case *domain.Order:
		return p.ID
	case *domain.RefundRequest:
		return p.OrderID
	}
	return ""
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier writes events to the log; used when Kafka is disabled.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event string, payload any) {
	n.logger.InfoContext(ctx, "notification", "event", event, "key", partitionKey(payload))
}
