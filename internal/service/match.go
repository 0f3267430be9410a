package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/lifecycle"
	"github.com/match-engine/internal/metrics"
	"github.com/match-engine/internal/rating"
	"github.com/match-engine/internal/scoring"
)

// MatchService coordinates match sessions. It is the only writer of match,
// set and rating state; every mutation of one match runs under that match's lock.
type MatchService struct {
	store     Store
	publisher Publisher
	config    *config.RatingConfig
	metrics   metrics.MatchMetrics
	logger    *slog.Logger
	locks     *keyedMutex
	now       func() time.Time
}

// NewMatchService creates a new match service
func NewMatchService(
	store Store,
	publisher Publisher,
	cfg *config.RatingConfig,
	m metrics.MatchMetrics,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		store:     store,
		publisher: publisher,
		config:    cfg,
		metrics:   m,
		logger:    logger,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *MatchService) SetClock(now func() time.Time) {
	s.now = now
}

// OpenMatch creates a PENDING match with both ratings snapshotted
func (s *MatchService) OpenMatch(ctx context.Context, req domain.OpenMatchRequest) (*domain.MatchState, error) {
	match, err := s.newMatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("creating match: %w", err)
	}

	s.announceOpened(ctx, match)
	return s.buildState(match, nil), nil
}

// newMatch validates req and builds the match without storing it
func (s *MatchService) newMatch(ctx context.Context, req domain.OpenMatchRequest) (*domain.Match, error) {
	if req.PlayerAID == "" || req.PlayerBID == "" {
		return nil, fmt.Errorf("both players are required: %w", domain.ErrInvalidRequest)
	}
	if req.PlayerAID == req.PlayerBID {
		return nil, domain.ErrSamePlayer
	}
	if req.Kind == "" {
		req.Kind = domain.MatchKindRanked
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown match kind %q: %w", req.Kind, domain.ErrInvalidRequest)
	}
	if err := lifecycle.ValidateBestOf(req.BestOf); err != nil {
		return nil, err
	}

	playerA, err := s.store.GetPlayer(ctx, req.PlayerAID)
	if err != nil {
		return nil, fmt.Errorf("getting player a: %w", err)
	}
	playerB, err := s.store.GetPlayer(ctx, req.PlayerBID)
	if err != nil {
		return nil, fmt.Errorf("getting player b: %w", err)
	}

	match := &domain.Match{
		ID:           uuid.NewString(),
		PlayerAID:    playerA.ID,
		PlayerBID:    playerB.ID,
		Kind:         req.Kind,
		BestOf:       req.BestOf,
		Status:       domain.MatchStatusPending,
		RatingAStart: playerA.Rating,
		RatingBStart: playerB.Rating,
		CreatedAt:    s.now(),
	}
	if req.ChallengeID != "" {
		challengeID := req.ChallengeID
		match.ChallengeID = &challengeID
	}
	return match, nil
}

func (s *MatchService) announceOpened(ctx context.Context, match *domain.Match) {
	s.metrics.MatchOpened(string(match.Kind))
	s.logger.Info("match opened",
		"match_id", match.ID,
		"player_a_id", match.PlayerAID,
		"player_b_id", match.PlayerBID,
		"kind", match.Kind,
		"best_of", match.BestOf,
	)
	s.publish(ctx, domain.EventMatchOpened, match, nil)
}

// GetMatch returns the match with its sets and the requirement of the live set
func (s *MatchService) GetMatch(ctx context.Context, matchID string) (*domain.MatchState, error) {
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	sets, err := s.store.ListSets(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("listing sets: %w", err)
	}
	return s.buildState(match, sets), nil
}

// RecordSet records the score of one set.
//
// Resubmitting identical scores is a no-op that returns the current state,
// even after the match is over. Different scores for a decided set are a
// conflict; for the open set they are a live score update.
func (s *MatchService) RecordSet(ctx context.Context, sub domain.SetSubmission) (*domain.MatchState, error) {
	unlock := s.locks.Lock(sub.MatchID)
	defer unlock()

	state, err := s.recordSet(ctx, sub)
	if err != nil {
		s.metrics.SetRejected(domain.Code(err))
		return nil, err
	}
	return state, nil
}

func (s *MatchService) recordSet(ctx context.Context, sub domain.SetSubmission) (*domain.MatchState, error) {
	outcome, err := scoring.DecideSet(sub.ScoreA, sub.ScoreB)
	if err != nil {
		return nil, err
	}
	if sub.SetNumber < 1 {
		return nil, fmt.Errorf("set number %d: %w", sub.SetNumber, domain.ErrInvalidSetSequence)
	}

	match, err := s.store.GetMatch(ctx, sub.MatchID)
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	sets, err := s.store.ListSets(ctx, sub.MatchID)
	if err != nil {
		return nil, fmt.Errorf("listing sets: %w", err)
	}

	submitted := domain.Set{
		MatchID:    sub.MatchID,
		Number:     sub.SetNumber,
		ScoreA:     sub.ScoreA,
		ScoreB:     sub.ScoreB,
		Decided:    outcome.Decided(),
		Winner:     outcome.Side(),
		RecordedAt: s.now(),
	}

	existing := findSet(sets, sub.SetNumber)
	if existing != nil {
		if existing.SameScore(submitted) {
			if err := s.finalizeIfDue(ctx, match); err != nil {
				return nil, err
			}
			return s.buildState(match, sets), nil
		}
		if existing.Decided {
			return nil, &domain.SetConflictError{Existing: *existing, Submitted: submitted}
		}
	}

	if err := lifecycle.CheckRecordable(match.Status); err != nil {
		return nil, fmt.Errorf("match %s: %w", match.ID, err)
	}
	if existing == nil {
		if err := lifecycle.CheckSequence(sets, sub.SetNumber); err != nil {
			return nil, err
		}
	}
	if lifecycle.Winner(match) != domain.SideNone {
		// a previous completion attempt failed after the deciding set was stored
		if err := s.finalizeLocked(ctx, match); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("match %s: %w", match.ID, domain.ErrMatchNotActive)
	}

	transition, err := lifecycle.ApplySet(match, outcome, submitted.RecordedAt)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveSet(ctx, match, submitted, existing == nil); err != nil {
		if errors.Is(err, domain.ErrSetExists) {
			return s.resolveRace(ctx, submitted)
		}
		return nil, fmt.Errorf("saving set: %w", err)
	}

	s.metrics.SetRecorded(outcome.String())
	s.logger.Debug("set recorded",
		"match_id", match.ID,
		"set_number", submitted.Number,
		"score_a", submitted.ScoreA,
		"score_b", submitted.ScoreB,
		"outcome", outcome.String(),
	)
	s.publish(ctx, domain.EventSetRecorded, match, &submitted)

	if transition.Completed {
		if err := s.finalizeLocked(ctx, match); err != nil {
			return nil, err
		}
	}
	return s.GetMatch(ctx, match.ID)
}

// resolveRace handles a set that another writer stored between our read and write
func (s *MatchService) resolveRace(ctx context.Context, submitted domain.Set) (*domain.MatchState, error) {
	state, err := s.GetMatch(ctx, submitted.MatchID)
	if err != nil {
		return nil, err
	}
	stored := findSet(state.Sets, submitted.Number)
	if stored != nil && stored.SameScore(submitted) {
		return state, nil
	}
	if stored != nil {
		return nil, &domain.SetConflictError{Existing: *stored, Submitted: submitted}
	}
	return nil, fmt.Errorf("set %d changed concurrently: %w", submitted.Number, domain.ErrInvalidSetSequence)
}

// Finalize completes a match that reached its set threshold and applies the
// rating changes. On a completed match it only re-drives pending rating application.
func (s *MatchService) Finalize(ctx context.Context, matchID string) (*domain.MatchState, error) {
	unlock := s.locks.Lock(matchID)
	defer unlock()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	if err := s.finalizeLocked(ctx, match); err != nil {
		return nil, err
	}
	return s.GetMatch(ctx, matchID)
}

func (s *MatchService) finalizeIfDue(ctx context.Context, match *domain.Match) error {
	if match.Status.Active() && lifecycle.Winner(match) == domain.SideNone {
		return nil
	}
	if match.Status == domain.MatchStatusCancelled {
		return nil
	}
	return s.finalizeLocked(ctx, match)
}

func (s *MatchService) finalizeLocked(ctx context.Context, match *domain.Match) error {
	if match.Status == domain.MatchStatusCompleted {
		if match.RatingsAppliedAt == nil {
			s.applyRatings(ctx, match.ID)
		}
		return nil
	}

	deltaA, deltaB := s.deltas(match)
	if err := lifecycle.Complete(match, deltaA, deltaB, s.now()); err != nil {
		return fmt.Errorf("completing match: %w", err)
	}

	wonA := *match.WinnerID == match.PlayerAID
	app := domain.RatingApplication{
		MatchID:     match.ID,
		PlayerAID:   match.PlayerAID,
		PlayerBID:   match.PlayerBID,
		DeltaA:      deltaA,
		DeltaB:      deltaB,
		ExperienceA: rating.Experience(wonA),
		ExperienceB: rating.Experience(!wonA),
		CreatedAt:   *match.CompletedAt,
	}
	if err := s.store.CompleteMatch(ctx, match, app); err != nil {
		return fmt.Errorf("storing completed match: %w", err)
	}

	s.metrics.MatchFinished(string(domain.MatchStatusCompleted))
	s.logger.Info("match completed",
		"match_id", match.ID,
		"winner_id", *match.WinnerID,
		"sets", fmt.Sprintf("%d-%d", match.SetsWonA, match.SetsWonB),
		"delta_a", deltaA,
		"delta_b", deltaB,
	)
	s.publish(ctx, domain.EventMatchCompleted, match, nil)

	s.applyRatings(ctx, match.ID)
	return nil
}

// deltas computes the rating changes of a match from its start snapshots
func (s *MatchService) deltas(match *domain.Match) (int, int) {
	if match.Kind == domain.MatchKindFriendly {
		return 0, 0
	}
	switch lifecycle.Winner(match) {
	case domain.SideA:
		return rating.ComputeDeltas(match.RatingAStart, match.RatingBStart)
	case domain.SideB:
		deltaB, deltaA := rating.ComputeDeltas(match.RatingBStart, match.RatingAStart)
		return deltaA, deltaB
	}
	return 0, 0
}

// applyRatings retries the rating application with exponential backoff.
// When retries run out the application stays pending for the rating worker.
func (s *MatchService) applyRatings(ctx context.Context, matchID string) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.config.RetryAttempts), ctx)

	started := time.Now()
	var applied bool
	err := backoff.Retry(func() error {
		var err error
		applied, err = s.store.ApplyRatings(ctx, matchID, s.now())
		if domain.IsNotFoundError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		s.metrics.RatingApplication("failed", time.Since(started))
		s.logger.Warn("rating application deferred", "match_id", matchID, "error", err)
		if err := s.store.RecordRatingAttempt(context.WithoutCancel(ctx), matchID); err != nil {
			s.logger.Warn("failed to record rating attempt", "match_id", matchID, "error", err)
		}
		return false
	}
	if !applied {
		return false
	}

	s.metrics.RatingApplication("applied", time.Since(started))
	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		s.logger.Warn("failed to reload match after rating application", "match_id", matchID, "error", err)
		return true
	}
	s.logger.Info("ratings applied", "match_id", matchID)
	s.publish(ctx, domain.EventRatingsApplied, match, nil)
	return true
}

// CancelMatch abandons an active match
func (s *MatchService) CancelMatch(ctx context.Context, matchID string) (*domain.MatchState, error) {
	unlock := s.locks.Lock(matchID)
	defer unlock()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	if match.Status.Active() && lifecycle.Winner(match) != domain.SideNone {
		// the deciding set is stored, complete instead of discarding the result
		if err := s.finalizeLocked(ctx, match); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("match %s: %w", matchID, domain.ErrMatchNotActive)
	}
	if err := lifecycle.Cancel(match, s.now()); err != nil {
		return nil, fmt.Errorf("match %s: %w", matchID, err)
	}
	if err := s.store.CancelMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("cancelling match: %w", err)
	}

	s.metrics.MatchFinished(string(domain.MatchStatusCancelled))
	s.logger.Info("match cancelled", "match_id", matchID)
	s.publish(ctx, domain.EventMatchCancelled, match, nil)
	return s.GetMatch(ctx, matchID)
}

// ReapplyPendingRatings drives rating applications that earlier attempts left
// pending and returns how many were applied
func (s *MatchService) ReapplyPendingRatings(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListPendingRatingApplications(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing pending rating applications: %w", err)
	}

	applied := 0
	for _, app := range pending {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		unlock := s.locks.Lock(app.MatchID)
		if s.applyRatings(ctx, app.MatchID) {
			applied++
		}
		unlock()
	}
	return applied, nil
}

func (s *MatchService) publish(ctx context.Context, eventType domain.EventType, match *domain.Match, set *domain.Set) {
	if s.publisher == nil {
		return
	}
	event := domain.MatchEvent{
		Type:      eventType,
		MatchID:   match.ID,
		Match:     *match,
		Set:       set,
		Timestamp: s.now(),
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Debug("match event not fully delivered", "match_id", match.ID, "type", eventType, "error", err)
	}
}

func (s *MatchService) buildState(match *domain.Match, sets []domain.Set) *domain.MatchState {
	if sets == nil {
		sets = []domain.Set{}
	}
	state := &domain.MatchState{
		Match:     *match,
		Sets:      sets,
		SetsToWin: lifecycle.SetsToWin(match.BestOf),
		NextSet:   lifecycle.NextSetNumber(sets),
	}
	if !match.Status.Active() {
		state.NextSet = 0
		return state
	}
	if live := findOpenSet(sets); live != nil {
		if req, err := scoring.Requirement(live.ScoreA, live.ScoreB); err == nil {
			state.Requirement = &req
		}
	}
	return state
}

func findSet(sets []domain.Set, number int) *domain.Set {
	for i := range sets {
		if sets[i].Number == number {
			return &sets[i]
		}
	}
	return nil
}

func findOpenSet(sets []domain.Set) *domain.Set {
	for i := range sets {
		if !sets[i].Decided {
			return &sets[i]
		}
	}
	return nil
}
