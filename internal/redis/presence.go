package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/match-engine/internal/domain"
)

// PresenceStore replicates presence records through Redis.
// Each record is kept under a key that expires after ttl and announced on channel.
type PresenceStore struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewPresenceStore creates a new Redis presence store
func NewPresenceStore(client *redis.Client, channel string, ttl time.Duration, logger *slog.Logger) *PresenceStore {
	return &PresenceStore{
		client:  client,
		channel: channel,
		ttl:     ttl,
		logger:  logger,
	}
}

// Replicate stores rec and announces it to other instances
func (s *PresenceStore) Replicate(ctx context.Context, rec domain.PresenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling presence: %w", err)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(rec.PlayerID), data, s.ttl)
		pipe.Publish(ctx, s.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replicating presence: %w", err)
	}
	return nil
}

// Load returns the replicated record of a player, if it has not expired
func (s *PresenceStore) Load(ctx context.Context, playerID string) (*domain.PresenceRecord, error) {
	data, err := s.client.Get(ctx, presenceKey(playerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading presence: %w", err)
	}

	var rec domain.PresenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding presence: %w", err)
	}
	return &rec, nil
}

// Listen passes records announced on the presence channel to apply until ctx is done
func (s *PresenceStore) Listen(ctx context.Context, apply func(domain.PresenceRecord)) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to presence: %w", err)
	}
	s.logger.Info("listening for presence changes", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var rec domain.PresenceRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				s.logger.Warn("dropping malformed presence record", "error", err)
				continue
			}
			apply(rec)
		}
	}
}
