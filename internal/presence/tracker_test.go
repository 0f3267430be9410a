package presence

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
	"github.com/match-engine/internal/domain"
)

type recordingReplicator struct {
	mu      sync.Mutex
	records []domain.PresenceRecord
	err     error
	block   chan struct{}
}

func (r *recordingReplicator) Replicate(_ context.Context, rec domain.PresenceRecord) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func newTestTracker(replicator Replicator) (*Tracker, *time.Time) {
	cfg := &config.PresenceConfig{AwayAfter: 2 * time.Minute, OfflineAfter: 10 * time.Minute}
	tr := NewTracker(cfg, replicator, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return clock })
	return tr, &clock
}

func TestTracker_Decay(t *testing.T) {
	tr, clock := newTestTracker(nil)
	ctx := context.Background()

	assert.Equal(t, domain.PresenceOffline, tr.Status("ghost"))

	require.NoError(t, tr.Touch(ctx, "alice"))
	assert.True(t, tr.IsOnline("alice"))

	*clock = clock.Add(3 * time.Minute)
	assert.Equal(t, domain.PresenceAway, tr.Status("alice"))

	*clock = clock.Add(10 * time.Minute)
	assert.Equal(t, domain.PresenceOffline, tr.Status("alice"))

	require.NoError(t, tr.Touch(ctx, "alice"))
	assert.True(t, tr.IsOnline("alice"))
}

func TestTracker_ExplicitStatus(t *testing.T) {
	tr, _ := newTestTracker(nil)
	ctx := context.Background()

	require.NoError(t, tr.SetStatus(ctx, "bob", domain.PresenceAway))
	assert.Equal(t, domain.PresenceAway, tr.Status("bob"))

	require.NoError(t, tr.SetStatus(ctx, "bob", domain.PresenceOffline))
	assert.False(t, tr.IsOnline("bob"))

	assert.ErrorIs(t, tr.SetStatus(ctx, "bob", "busy"), domain.ErrInvalidRequest)
	assert.ErrorIs(t, tr.SetStatus(ctx, "", domain.PresenceOnline), domain.ErrInvalidRequest)
}

func TestTracker_ReplicationDoesNotBlock(t *testing.T) {
	rep := &recordingReplicator{block: make(chan struct{}), err: errors.New("redis down")}
	tr, _ := newTestTracker(rep)

	done := make(chan struct{})
	go func() {
		_ = tr.Touch(context.Background(), "carol")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Touch blocked on replication")
	}
	assert.True(t, tr.IsOnline("carol"))

	close(rep.block)
	tr.Wait()

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.Len(t, rep.records, 1)
	assert.Equal(t, "carol", rep.records[0].PlayerID)
}

func TestTracker_ApplyKeepsNewest(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Apply(domain.PresenceRecord{PlayerID: "dan", Status: domain.PresenceOnline, LastSeen: *clock})
	tr.Apply(domain.PresenceRecord{PlayerID: "dan", Status: domain.PresenceOffline, LastSeen: clock.Add(-time.Second)})
	assert.True(t, tr.IsOnline("dan"))

	tr.Apply(domain.PresenceRecord{PlayerID: "dan", Status: domain.PresenceAway, LastSeen: clock.Add(time.Second)})
	assert.Equal(t, domain.PresenceAway, tr.Status("dan"))

	tr.Apply(domain.PresenceRecord{PlayerID: "dan", Status: "bogus", LastSeen: clock.Add(time.Minute)})
	rec, ok := tr.Record("dan")
	assert.True(t, ok)
	assert.Equal(t, domain.PresenceAway, rec.Status)
}
