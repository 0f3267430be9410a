package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/memory"
	"github.com/match-engine/internal/metrics"
	"github.com/match-engine/internal/presence"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.MatchEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.MatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) count(t domain.EventType) int {
	n := 0
	for _, et := range p.types() {
		if et == t {
			n++
		}
	}
	return n
}

// flakyStore fails rating application a number of times before delegating
type flakyStore struct {
	*memory.Store
	mu               sync.Mutex
	failures         int
	completeFailures int
}

func (s *flakyStore) CompleteMatch(ctx context.Context, match *domain.Match, app domain.RatingApplication) error {
	s.mu.Lock()
	if s.completeFailures > 0 {
		s.completeFailures--
		s.mu.Unlock()
		return errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Store.CompleteMatch(ctx, match, app)
}

func (s *flakyStore) ApplyRatings(ctx context.Context, matchID string, now time.Time) (bool, error) {
	s.mu.Lock()
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		s.mu.Unlock()
		return false, errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Store.ApplyRatings(ctx, matchID, now)
}

func (s *flakyStore) setFailures(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

type harness struct {
	store      *flakyStore
	publisher  *recordingPublisher
	matches    *MatchService
	challenges *ChallengeService
	players    *PlayerService
	tracker    *presence.Tracker

	mu    sync.Mutex
	clock time.Time
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Rating.RetryAttempts = 3
	cfg.Rating.RetryInitialInterval = time.Millisecond

	h := &harness{
		store:     &flakyStore{Store: memory.NewStore()},
		publisher: &recordingPublisher{},
		clock:     time.Date(2026, 4, 20, 19, 0, 0, 0, time.UTC),
	}
	m := metrics.NewNoop()
	logger := testLogger()

	h.tracker = presence.NewTracker(&cfg.Presence, nil, logger)
	h.tracker.SetClock(h.now)

	h.matches = NewMatchService(h.store, h.publisher, &cfg.Rating, m, logger)
	h.matches.SetClock(h.now)
	h.challenges = NewChallengeService(h.store, h.matches, &cfg.Challenge, m, logger)
	h.challenges.SetClock(h.now)
	h.players = NewPlayerService(h.store, h.tracker, &cfg.Matchmaking, m, logger)
	return h
}

func (h *harness) addPlayer(t *testing.T, id string, rating int) {
	t.Helper()
	require.NoError(t, h.store.UpsertPlayer(context.Background(), &domain.Player{
		ID:          id,
		DisplayName: id,
		Rating:      rating,
		CreatedAt:   h.now(),
		UpdatedAt:   h.now(),
	}))
}

func (h *harness) openMatch(t *testing.T, kind domain.MatchKind, bestOf int) *domain.MatchState {
	t.Helper()
	state, err := h.matches.OpenMatch(context.Background(), domain.OpenMatchRequest{
		PlayerAID: "alice",
		PlayerBID: "bob",
		Kind:      kind,
		BestOf:    bestOf,
	})
	require.NoError(t, err)
	return state
}

func (h *harness) record(matchID string, number, a, b int) (*domain.MatchState, error) {
	return h.matches.RecordSet(context.Background(), domain.SetSubmission{
		MatchID:   matchID,
		SetNumber: number,
		ScoreA:    a,
		ScoreB:    b,
	})
}

func (h *harness) rating(t *testing.T, playerID string) int {
	t.Helper()
	p, err := h.store.GetPlayer(context.Background(), playerID)
	require.NoError(t, err)
	return p.Rating
}
