package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/metrics"
)

func TestPlayerService_UpsertAndPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.players.UpsertPlayer(ctx, domain.UpsertPlayerRequest{ID: " alice ", DisplayName: "Alice", City: "Seoul"})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.Equal(t, domain.DefaultRating, p.Rating)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, domain.PresenceOffline, p.Status)

	rec, err := h.players.SetPresence(ctx, "alice", domain.PresenceOnline)
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, rec.Status)

	p, err = h.players.GetPlayer(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, p.Status)

	_, err = h.players.SetPresence(ctx, "ghost", domain.PresenceOnline)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = h.players.UpsertPlayer(ctx, domain.UpsertPlayerRequest{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.players.UpsertPlayer(ctx, domain.UpsertPlayerRequest{ID: "x", DisplayName: "X", Location: &domain.Location{Latitude: 91}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPlayerService_FindCandidates(t *testing.T) {
	h := newHarness(t)
	h.players.SetRand(rand.New(rand.NewSource(42)))
	ctx := context.Background()

	h.addPlayer(t, "alice", 1000)
	h.addPlayer(t, "bob", 1050)
	h.addPlayer(t, "carol", 980)
	h.addPlayer(t, "dave", 1900)
	require.NoError(t, h.tracker.Touch(ctx, "carol"))

	got, err := h.players.FindCandidates(ctx, "alice", CandidateQuery{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "carol", got[0].Player.ID, "online players come first")
	assert.Equal(t, "bob", got[1].Player.ID)

	window := 10
	got, err = h.players.FindCandidates(ctx, "alice", CandidateQuery{RatingWindow: &window, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Fallback)
	assert.Equal(t, "carol", got[0].Player.ID)

	_, err = h.players.FindCandidates(ctx, "nobody", CandidateQuery{})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestPlayerService_FindCandidatesBelowPoolCut(t *testing.T) {
	h := newHarness(t)
	h.players.config.PoolSize = 3
	ctx := context.Background()

	h.addPlayer(t, "top1", 2000)
	h.addPlayer(t, "top2", 1900)
	h.addPlayer(t, "top3", 1800)
	h.addPlayer(t, "me", 1000)
	h.addPlayer(t, "peer", 1010)

	got, err := h.players.FindCandidates(ctx, "me", CandidateQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "peer", got[0].Player.ID)
	assert.False(t, got[0].Fallback)
	assert.Equal(t, 10, got[0].RatingGap)

	// Nobody inside the window: the fallback still draws the closest ratings.
	window := 5
	got, err = h.players.FindCandidates(ctx, "me", CandidateQuery{RatingWindow: &window})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		assert.True(t, c.Fallback)
		ids = append(ids, c.Player.ID)
	}
	assert.ElementsMatch(t, []string{"peer", "top3"}, ids)
}

func TestPlayerService_NoCandidates(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "alice", 1000)

	_, err := h.players.FindCandidates(context.Background(), "alice", CandidateQuery{})
	assert.ErrorIs(t, err, domain.ErrNoCandidatesAvailable)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, domain.MatchEvent) error {
	return errors.New("broker unavailable")
}

func TestBroadcaster_DeliversPastFailingSink(t *testing.T) {
	rec := &recordingPublisher{}
	b := NewBroadcaster(metrics.NewNoop(), testLogger(),
		Sink{Name: "kafka", Publisher: failingPublisher{}},
		Sink{Name: "websocket", Publisher: rec},
	)

	err := b.Publish(context.Background(), domain.MatchEvent{Type: domain.EventMatchOpened, MatchID: "m1"})
	assert.ErrorContains(t, err, "kafka")
	assert.Equal(t, 1, rec.count(domain.EventMatchOpened))
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
