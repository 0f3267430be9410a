package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
)

// EventProducer streams match events to Kafka, keyed by match ID
type EventProducer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func newAsyncProducer(brokers []string) (sarama.AsyncProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return producer, nil
}

// NewEventProducer connects an async producer to the configured brokers
func NewEventProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*EventProducer, error) {
	producer, err := newAsyncProducer(cfg.Brokers)
	if err != nil {
		return nil, err
	}
	return newEventProducer(producer, cfg.EventsTopic, logger), nil
}

func newEventProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *EventProducer {
	p := &EventProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Warn("failed to deliver match event", "topic", p.topic, "error", err.Err)
		}
	}()

	return p
}

// Publish queues an event for delivery
func (p *EventProducer) Publish(ctx context.Context, event domain.MatchEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.MatchID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending events and stops the producer
func (p *EventProducer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}

// DeadLetterProducer forwards set results that could not be recorded,
// annotated with where they came from and why they were refused
type DeadLetterProducer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewDeadLetterProducer connects a dead-letter producer to the configured brokers
func NewDeadLetterProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*DeadLetterProducer, error) {
	producer, err := newAsyncProducer(cfg.Brokers)
	if err != nil {
		return nil, err
	}
	return newDeadLetterProducer(producer, cfg.DeadLetterTopic, logger), nil
}

func newDeadLetterProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *DeadLetterProducer {
	p := &DeadLetterProducer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.logger.Error("failed to dead-letter set result", "topic", p.topic, "error", err.Err)
		}
	}()

	return p
}

// DeadLetter queues the original message with the rejection code and cause
func (p *DeadLetterProducer) DeadLetter(ctx context.Context, message *sarama.ConsumerMessage, code string, cause error) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("source_topic"), Value: []byte(message.Topic)},
			{Key: []byte("source_partition"), Value: []byte(strconv.FormatInt(int64(message.Partition), 10))},
			{Key: []byte("source_offset"), Value: []byte(strconv.FormatInt(message.Offset, 10))},
			{Key: []byte("error_code"), Value: []byte(code)},
			{Key: []byte("error"), Value: []byte(cause.Error())},
		},
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending dead letters and stops the producer
func (p *DeadLetterProducer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
