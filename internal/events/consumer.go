package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/segmentio/kafka-go"
)

const readRetryDelay = time.Second

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// SessionEvictor drops a session's in-memory state so the next request
// reloads its cart from storage.
type SessionEvictor interface {
	Evict(ctx context.Context, sessionID string) bool
}

// CheckoutConsumer evicts sessions checked out on another replica, whose
// in-memory cart would otherwise still hold the purchased items.
type CheckoutConsumer struct {
	reader     messageReader
	evictor    SessionEvictor
	retryDelay time.Duration
	log        *slog.Logger
}

// NewCheckoutConsumer reads topic in consumer group groupID. Every replica
// needs its own group so each one sees every event.
func NewCheckoutConsumer(topic, groupID string, evictor SessionEvictor, log *slog.Logger, brokers ...string) *CheckoutConsumer {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = logger.Nop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MaxBytes:    10e6, // 10MB
	})
	return &CheckoutConsumer{reader: reader, evictor: evictor, retryDelay: readRetryDelay, log: log}
}

// Run consumes until ctx is cancelled.
func (c *CheckoutConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.consumeOne(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WarnContext(ctx, "checkout event skipped", slog.Any("error", err))
		}
	}
}

func (c *CheckoutConsumer) consumeOne(ctx context.Context) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
			}
		}
		return fmt.Errorf("error reading message: %w", err)
	}

	if eventType := header(m, "event_type"); eventType != "" && eventType != EventTypeCheckoutCompleted {
		return nil
	}

	var event domain.CheckoutCompleted
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("error parsing message at offset %d: %w", m.Offset, err)
	}
	if event.SessionID == "" {
		return fmt.Errorf("checkout event for order %s has no session id", event.OrderID)
	}

	if c.evictor.Evict(ctx, event.SessionID) {
		c.log.InfoContext(ctx, "session evicted after checkout",
			slog.String("session_id", event.SessionID),
			slog.String("order_id", event.OrderID))
	}
	return nil
}

func (c *CheckoutConsumer) Close() error {
	return c.reader.Close()
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
