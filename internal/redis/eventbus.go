package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/match-engine/internal/domain"
)

const eventPattern = "match:*:events"

type eventEnvelope struct {
	Origin string            `json:"origin"`
	Event  domain.MatchEvent `json:"event"`
}

// EventBus relays match events between engine instances over Redis pub/sub
type EventBus struct {
	client *redis.Client
	origin string
	logger *slog.Logger
}

// NewEventBus creates a new Redis event bus
func NewEventBus(client *redis.Client, logger *slog.Logger) *EventBus {
	return &EventBus{
		client: client,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Publish sends an event to the channel of its match
func (b *EventBus) Publish(ctx context.Context, event domain.MatchEvent) error {
	data, err := json.Marshal(eventEnvelope{Origin: b.origin, Event: event})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := b.client.Publish(ctx, eventChannel(event.MatchID), data).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Relay delivers events published by other instances to deliver until ctx is done.
// Events published by this instance are skipped since they were delivered locally.
func (b *EventBus) Relay(ctx context.Context, deliver func(domain.MatchEvent)) error {
	pubsub := b.client.PSubscribe(ctx, eventPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to match events: %w", err)
	}
	b.logger.Info("relaying match events", "pattern", eventPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env eventEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed match event", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			deliver(env.Event)
		}
	}
}
