package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-engine/internal/domain"
)

type fakeRecorder struct {
	mu    sync.Mutex
	calls []domain.SetSubmission
	errs  []error
}

func (r *fakeRecorder) RecordSet(_ context.Context, sub domain.SetSubmission) (*domain.MatchState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sub)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, err
	}
	return &domain.MatchState{}, nil
}

func (r *fakeRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type deadLetter struct {
	code   string
	offset int64
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	letters []deadLetter
}

func (d *fakeDeadLetters) DeadLetter(_ context.Context, message *sarama.ConsumerMessage, code string, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.letters = append(d.letters, deadLetter{code: code, offset: message.Offset})
	return nil
}

func (d *fakeDeadLetters) codes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.letters))
	for _, l := range d.letters {
		out = append(out, l.code)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(rec SetRecorder, dead *fakeDeadLetters) *consumerGroupHandler {
	return &consumerGroupHandler{recorder: rec, deadLetters: dead, logger: testLogger(), retryInterval: time.Millisecond}
}

func message(t *testing.T, sub domain.SetSubmission) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(sub)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Value: value, Offset: 7, Partition: 1}
}

func TestHandleRecordsSet(t *testing.T) {
	rec := &fakeRecorder{}
	dead := &fakeDeadLetters{}
	sub := domain.SetSubmission{MatchID: "m-1", SetNumber: 2, ScoreA: 11, ScoreB: 9}

	assert.True(t, newHandler(rec, dead).handle(context.Background(), message(t, sub)))

	require.Equal(t, 1, rec.callCount())
	assert.Equal(t, sub, rec.calls[0])
	assert.Empty(t, dead.codes())
}

func TestHandleSkipsMalformedMessages(t *testing.T) {
	rec := &fakeRecorder{}
	dead := &fakeDeadLetters{}
	h := newHandler(rec, dead)

	assert.True(t, h.handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")}))
	assert.True(t, h.handle(context.Background(), message(t, domain.SetSubmission{SetNumber: 1, ScoreA: 11})))

	assert.Equal(t, 0, rec.callCount())
	assert.Equal(t, []string{"invalid_request", "invalid_request"}, dead.codes())
}

func TestHandleFractionalScoreIsInvalidScore(t *testing.T) {
	rec := &fakeRecorder{}
	dead := &fakeDeadLetters{}
	msg := &sarama.ConsumerMessage{
		Value:  []byte(`{"match_id":"m-1","set_number":1,"score_a":11.5,"score_b":3}`),
		Offset: 12,
	}

	assert.True(t, newHandler(rec, dead).handle(context.Background(), msg))

	assert.Equal(t, 0, rec.callCount())
	require.Len(t, dead.letters, 1)
	assert.Equal(t, deadLetter{code: "invalid_score", offset: 12}, dead.letters[0])
}

func TestHandleDoesNotRetryRejections(t *testing.T) {
	rec := &fakeRecorder{errs: []error{fmt.Errorf("recording: %w", domain.ErrInvalidSetSequence)}}
	dead := &fakeDeadLetters{}

	newHandler(rec, dead).handle(context.Background(), message(t, domain.SetSubmission{MatchID: "m-1", SetNumber: 3}))

	assert.Equal(t, 1, rec.callCount())
	assert.Equal(t, []string{"invalid_set_sequence"}, dead.codes())
}

func TestHandleRetriesStoreFailures(t *testing.T) {
	rec := &fakeRecorder{errs: []error{errors.New("connection reset"), errors.New("connection reset")}}
	dead := &fakeDeadLetters{}

	newHandler(rec, dead).handle(context.Background(), message(t, domain.SetSubmission{MatchID: "m-1", SetNumber: 1, ScoreA: 11}))

	assert.Equal(t, 3, rec.callCount())
	assert.Empty(t, dead.codes())
}

func TestHandleGivesUpAfterRetries(t *testing.T) {
	failures := make([]error, 10)
	for i := range failures {
		failures[i] = errors.New("connection reset")
	}
	rec := &fakeRecorder{errs: failures}
	dead := &fakeDeadLetters{}

	done := newHandler(rec, dead).handle(context.Background(), message(t, domain.SetSubmission{MatchID: "m-1", SetNumber: 1, ScoreA: 11}))

	assert.True(t, done)
	assert.Equal(t, handleRetries+1, rec.callCount())
	assert.Equal(t, []string{"internal_error"}, dead.codes())
}

func TestHandleLeavesOffsetWhenSessionEnds(t *testing.T) {
	rec := &fakeRecorder{errs: []error{errors.New("connection reset")}}
	dead := &fakeDeadLetters{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := newHandler(rec, dead).handle(ctx, message(t, domain.SetSubmission{MatchID: "m-1", SetNumber: 1, ScoreA: 11}))

	assert.False(t, done)
	assert.Empty(t, dead.codes())
}

func TestHandleWithoutDeadLetterSink(t *testing.T) {
	h := &consumerGroupHandler{recorder: &fakeRecorder{}, logger: testLogger(), retryInterval: time.Millisecond}
	assert.True(t, h.handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")}))
}

func TestEventProducerKeysByMatch(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	event := domain.MatchEvent{
		Type:      domain.EventSetRecorded,
		MatchID:   "m-42",
		Timestamp: time.Date(2026, 4, 20, 19, 0, 0, 0, time.UTC),
	}

	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "m-42" {
			return fmt.Errorf("unexpected key %q", key)
		}
		if msg.Topic != "match-events" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var got domain.MatchEvent
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.Type != domain.EventSetRecorded {
			return fmt.Errorf("unexpected event type %q", got.Type)
		}
		return nil
	})

	p := newEventProducer(producer, "match-events", testLogger())
	require.NoError(t, p.Publish(context.Background(), event))
	require.NoError(t, p.Close())
}

func TestEventProducerSurvivesDeliveryFailure(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := newEventProducer(producer, "match-events", testLogger())
	require.NoError(t, p.Publish(context.Background(), domain.MatchEvent{MatchID: "m-1"}))
	require.NoError(t, p.Close())
}

func TestDeadLetterProducerKeepsOrigin(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "match-set-results-dlq" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "m-7" {
			return fmt.Errorf("unexpected key %q", key)
		}
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		want := map[string]string{
			"source_topic":     "match-set-results",
			"source_partition": "2",
			"source_offset":    "41",
			"error_code":       "invalid_score",
		}
		for k, v := range want {
			if headers[k] != v {
				return fmt.Errorf("header %s = %q, want %q", k, headers[k], v)
			}
		}
		return nil
	})

	p := newDeadLetterProducer(producer, "match-set-results-dlq", testLogger())
	original := &sarama.ConsumerMessage{
		Topic:     "match-set-results",
		Partition: 2,
		Offset:    41,
		Key:       []byte("m-7"),
		Value:     []byte(`{"match_id":"m-7","score_a":11.5}`),
	}
	require.NoError(t, p.DeadLetter(context.Background(), original, "invalid_score", domain.ErrInvalidScore))
	require.NoError(t, p.Close())
}
