package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/metrics"
)

// Publisher delivers match events to observers
type Publisher interface {
	Publish(ctx context.Context, event domain.MatchEvent) error
}

// Sink is a named Publisher
type Sink struct {
	Name      string
	Publisher Publisher
}

// Broadcaster fans an event out to every sink. Delivery is best effort:
// one failing sink does not stop the others.
type Broadcaster struct {
	sinks   []Sink
	metrics metrics.MatchMetrics
	logger  *slog.Logger
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(m metrics.MatchMetrics, logger *slog.Logger, sinks ...Sink) *Broadcaster {
	return &Broadcaster{
		sinks:   sinks,
		metrics: m,
		logger:  logger,
	}
}

// Add registers another sink. It must be called before the broadcaster is in use.
func (b *Broadcaster) Add(sink Sink) {
	b.sinks = append(b.sinks, sink)
}

// Publish sends event to every sink and joins their errors
func (b *Broadcaster) Publish(ctx context.Context, event domain.MatchEvent) error {
	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Publisher.Publish(ctx, event); err != nil {
			b.metrics.BroadcastFailed(sink.Name)
			b.logger.Warn("failed to deliver match event",
				"sink", sink.Name,
				"match_id", event.MatchID,
				"type", event.Type,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}
