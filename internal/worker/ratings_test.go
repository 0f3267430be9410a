package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-engine/internal/config"
)

type fakeApplier struct {
	mu     sync.Mutex
	calls  int
	limits []int
	result int
	err    error
}

func (a *fakeApplier) ReapplyPendingRatings(_ context.Context, limit int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.limits = append(a.limits, limit)
	return a.result, a.err
}

func (a *fakeApplier) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newWorker(applier RatingApplier, interval time.Duration) *RatingWorker {
	cfg := &config.WorkerConfig{Interval: interval, BatchSize: 25, Enabled: true}
	return NewRatingWorker(applier, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunOncePassesBatchSize(t *testing.T) {
	applier := &fakeApplier{result: 3}
	w := newWorker(applier, time.Minute)

	assert.Equal(t, 3, w.RunOnce(context.Background()))
	assert.Equal(t, []int{25}, applier.limits)
}

func TestRunOnceReportsPartialProgressOnError(t *testing.T) {
	applier := &fakeApplier{result: 1, err: errors.New("store unavailable")}
	w := newWorker(applier, time.Minute)

	assert.Equal(t, 1, w.RunOnce(context.Background()))
}

func TestWorkerRunsImmediatelyAndOnTicks(t *testing.T) {
	applier := &fakeApplier{}
	w := newWorker(applier, 10*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Eventually(t, func() bool { return applier.callCount() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	calls := applier.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, applier.callCount())
}

func TestStartIsIdempotent(t *testing.T) {
	w := newWorker(&fakeApplier{}, time.Hour)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
