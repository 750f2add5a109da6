// Package events publishes and consumes checkout events on Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "checkout-completed"

	EventTypeCheckoutCompleted = "CheckoutCompleted"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	log    *slog.Logger
}

func NewKafkaPublisher(topic string, log *slog.Logger, brokers ...string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = logger.Nop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, log: log}
}

// PublishCheckoutCompleted writes the event keyed by order id so every event of
// an order lands on the same partition.
func (p *KafkaPublisher) PublishCheckoutCompleted(ctx context.Context, event domain.CheckoutCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal checkout event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeCheckoutCompleted)},
			{Key: "session_id", Value: []byte(event.SessionID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish checkout event for order %s: %w", event.OrderID, err)
	}
	p.log.DebugContext(ctx, "checkout event published", slog.String("order_id", event.OrderID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
