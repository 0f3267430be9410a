package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/match-engine/internal/domain"
)

func (h *harness) challenge(t *testing.T, ttl time.Duration) *domain.Challenge {
	t.Helper()
	c, err := h.challenges.Create(context.Background(), domain.CreateChallengeRequest{
		ChallengerID: "alice",
		ChallengedID: "bob",
		BestOf:       3,
		TTL:          ttl,
	})
	require.NoError(t, err)
	return c
}

func TestChallengeService_AcceptOpensOneMatch(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "alice", 1100)
	h.addPlayer(t, "bob", 1000)
	ctx := context.Background()

	c := h.challenge(t, 0)
	assert.Equal(t, domain.ChallengeStatusPending, c.Status)
	assert.Equal(t, h.now().Add(15*time.Minute), c.ExpiresAt)
	assert.Equal(t, domain.MatchKindRanked, c.Kind)

	_, err := h.challenges.Accept(ctx, c.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotChallengeParticipant)

	accepted, err := h.challenges.Accept(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusAccepted, accepted.Challenge.Status)
	require.NotNil(t, accepted.Challenge.MatchID)
	assert.Equal(t, accepted.Match.ID, *accepted.Challenge.MatchID)
	assert.Equal(t, domain.MatchStatusPending, accepted.Match.Status)
	assert.Equal(t, 1100, accepted.Match.RatingAStart)
	assert.Equal(t, c.ID, *accepted.Match.ChallengeID)

	_, err = h.challenges.Accept(ctx, c.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrChallengeNotPending)

	state, err := h.matches.GetMatch(ctx, accepted.Match.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", state.Match.PlayerAID)
	assert.Equal(t, 1, h.publisher.count(domain.EventMatchOpened))
}

func TestChallengeService_ConcurrentAccept(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "alice", 1000)
	h.addPlayer(t, "bob", 1000)
	c := h.challenge(t, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.challenges.Accept(context.Background(), c.ID, "bob"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrChallengeNotPending)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.publisher.count(domain.EventMatchOpened))
}

func TestChallengeService_ExpiresAtReadTime(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "alice", 1000)
	h.addPlayer(t, "bob", 1000)
	ctx := context.Background()

	c := h.challenge(t, 5*time.Minute)
	h.advance(5 * time.Minute)

	got, err := h.challenges.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusExpired, got.Status)

	_, err = h.challenges.Accept(ctx, c.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)

	other := h.challenge(t, time.Minute)
	h.advance(2 * time.Minute)
	_, err = h.challenges.Accept(ctx, other.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)

	stored, err := h.store.GetChallenge(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusExpired, stored.Status)
	assert.Zero(t, h.publisher.count(domain.EventMatchOpened))
}

func TestChallengeService_DeclineAndCancel(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "alice", 1000)
	h.addPlayer(t, "bob", 1000)
	ctx := context.Background()

	c := h.challenge(t, time.Minute)
	_, err := h.challenges.Decline(ctx, c.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotChallengeParticipant)

	declined, err := h.challenges.Decline(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusDeclined, declined.Status)
	assert.NotNil(t, declined.RespondedAt)

	_, err = h.challenges.Cancel(ctx, c.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrChallengeNotPending)

	c2 := h.challenge(t, time.Minute)
	_, err = h.challenges.Cancel(ctx, c2.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrNotChallengeParticipant)

	cancelled, err := h.challenges.Cancel(ctx, c2.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeStatusCancelled, cancelled.Status)
}

func TestChallengeService_CreateValidation(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "alice", 1000)
	h.addPlayer(t, "bob", 1000)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     domain.CreateChallengeRequest
		wantErr error
	}{
		{name: "self challenge", req: domain.CreateChallengeRequest{ChallengerID: "alice", ChallengedID: "alice", BestOf: 3}, wantErr: domain.ErrSamePlayer},
		{name: "even best of", req: domain.CreateChallengeRequest{ChallengerID: "alice", ChallengedID: "bob", BestOf: 2}, wantErr: domain.ErrInvalidFormat},
		{name: "unknown opponent", req: domain.CreateChallengeRequest{ChallengerID: "alice", ChallengedID: "zed", BestOf: 3}, wantErr: domain.ErrPlayerNotFound},
		{name: "negative ttl", req: domain.CreateChallengeRequest{ChallengerID: "alice", ChallengedID: "bob", BestOf: 3, TTLSeconds: -5}, wantErr: domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.challenges.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	capped, err := h.challenges.Create(ctx, domain.CreateChallengeRequest{ChallengerID: "alice", ChallengedID: "bob", BestOf: 1, TTL: 72 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, h.now().Add(24*time.Hour), capped.ExpiresAt)

	_, err = h.challenges.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
}
