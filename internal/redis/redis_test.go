package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNewClient(t *testing.T) {
	mr, _ := setupRedis(t)

	cfg := config.DefaultConfig().Redis
	cfg.Addr = mr.Addr()

	client, err := NewClient(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := config.DefaultConfig().Redis
	cfg.Addr = "127.0.0.1:1"
	cfg.ConnectRetries = 1
	cfg.DialTimeout = 50 * time.Millisecond

	_, err := NewClient(context.Background(), &cfg, testLogger())
	assert.Error(t, err)
}

type collector struct {
	mu     sync.Mutex
	events []domain.MatchEvent
}

func (c *collector) deliver(ev domain.MatchEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEventBus_RelaysOtherInstances(t *testing.T) {
	mr, client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := NewEventBus(client, testLogger())
	remote := NewEventBus(client, testLogger())

	got := &collector{}
	done := make(chan error, 1)
	go func() { done <- local.Relay(ctx, got.deliver) }()

	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, local.Publish(ctx, domain.MatchEvent{Type: domain.EventSetRecorded, MatchID: "m-own"}))
	require.NoError(t, remote.Publish(ctx, domain.MatchEvent{Type: domain.EventMatchCompleted, MatchID: "m-1"}))

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 10*time.Millisecond)

	got.mu.Lock()
	assert.Equal(t, "m-1", got.events[0].MatchID)
	assert.Equal(t, domain.EventMatchCompleted, got.events[0].Type)
	got.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestPresenceStore_ReplicateAndLoad(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	store := NewPresenceStore(client, "presence", 10*time.Minute, testLogger())

	seen := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Replicate(ctx, domain.PresenceRecord{PlayerID: "alice", Status: domain.PresenceOnline, LastSeen: seen}))

	rec, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.PresenceOnline, rec.Status)
	assert.True(t, seen.Equal(rec.LastSeen))
	assert.Equal(t, 10*time.Minute, mr.TTL(presenceKey("alice")))

	mr.FastForward(11 * time.Minute)
	rec, err = store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPresenceStore_Listen(t *testing.T) {
	mr, client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewPresenceStore(client, "presence", time.Minute, testLogger())

	var mu sync.Mutex
	var received []domain.PresenceRecord
	go func() {
		_ = store.Listen(ctx, func(rec domain.PresenceRecord) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, rec)
		})
	}()
	require.Eventually(t, func() bool { return mr.PubSubNumSub("presence")["presence"] == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Replicate(ctx, domain.PresenceRecord{PlayerID: "bob", Status: domain.PresenceAway, LastSeen: time.Now()}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "bob", received[0].PlayerID)
	assert.Equal(t, domain.PresenceAway, received[0].Status)
}
