package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
)

const (
	handleTimeout      = 10 * time.Second
	handleRetries      = 3
	handleRetryBackoff = 200 * time.Millisecond
)

// SetRecorder records set results read from the stream
type SetRecorder interface {
	RecordSet(ctx context.Context, sub domain.SetSubmission) (*domain.MatchState, error)
}

// DeadLetterSink keeps set results that could not be recorded
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, message *sarama.ConsumerMessage, code string, cause error) error
}

// Consumer consumes set results from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	recorder      SetRecorder
	deadLetters   DeadLetterSink
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer. deadLetters may be nil, in which
// case refused set results are only logged.
func NewConsumer(cfg *config.KafkaConfig, recorder SetRecorder, deadLetters DeadLetterSink, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		recorder:      recorder,
		deadLetters:   deadLetters,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.SetsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				recorder:      c.recorder,
				deadLetters:   c.deadLetters,
				logger:        c.logger,
				ready:         c.ready,
				retryInterval: handleRetryBackoff,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.SetsTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	recorder      SetRecorder
	deadLetters   DeadLetterSink
	logger        *slog.Logger
	ready         chan bool
	retryInterval time.Duration
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim records set results one by one. Messages are keyed by match
// so results of one match arrive in order on a single partition.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.handle(session.Context(), message) {
				// session ended mid-retry, leave the offset for the next owner
				return nil
			}
			session.MarkMessage(message, "")
		}
	}
}

// handle records one message and reports whether its offset may be
// committed. Malformed and refused results are logged and dead-lettered.
// Store failures are retried a few times before giving up.
func (h *consumerGroupHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) bool {
	logger := h.logger.With("offset", message.Offset, "partition", message.Partition)

	var sub domain.SetSubmission
	if err := json.Unmarshal(message.Value, &sub); err != nil {
		err = domain.DecodeError(err)
		logger.Warn("failed to unmarshal message", "code", domain.Code(err), "error", err)
		h.deadLetter(ctx, logger, message, err)
		return true
	}
	if sub.MatchID == "" {
		logger.Warn("set result without match id", "set_number", sub.SetNumber)
		h.deadLetter(ctx, logger, message, fmt.Errorf("missing match_id: %w", domain.ErrInvalidRequest))
		return true
	}

	record := func() error {
		callCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		_, err := h.recorder.RecordSet(callCtx, sub)
		if err != nil && domain.Code(err) != "internal_error" {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = h.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, handleRetries), ctx)
	if err := backoff.Retry(record, b); err != nil {
		if ctx.Err() != nil {
			return false
		}
		logger.Warn("set result rejected",
			"match_id", sub.MatchID,
			"set_number", sub.SetNumber,
			"code", domain.Code(err),
			"error", err,
		)
		h.deadLetter(ctx, logger, message, err)
		return true
	}
	logger.Debug("set result recorded", "match_id", sub.MatchID, "set_number", sub.SetNumber)
	return true
}

func (h *consumerGroupHandler) deadLetter(ctx context.Context, logger *slog.Logger, message *sarama.ConsumerMessage, cause error) {
	if h.deadLetters == nil {
		return
	}
	if err := h.deadLetters.DeadLetter(ctx, message, domain.Code(cause), cause); err != nil {
		logger.Error("failed to dead-letter set result", "error", err)
	}
}
