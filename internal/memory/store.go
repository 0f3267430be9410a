// Package memory provides an in-process store for embedded deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elliotchance/pie/v2"

	"github.com/match-engine/internal/domain"
)

// Store keeps all engine state in memory behind a single mutex
type Store struct {
	mu         sync.RWMutex
	players    map[string]domain.Player
	matches    map[string]domain.Match
	sets       map[string]map[int]domain.Set
	challenges map[string]domain.Challenge
	apps       map[string]domain.RatingApplication
	history    map[string][]domain.RatingHistoryEntry
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		players:    make(map[string]domain.Player),
		matches:    make(map[string]domain.Match),
		sets:       make(map[string]map[int]domain.Set),
		challenges: make(map[string]domain.Challenge),
		apps:       make(map[string]domain.RatingApplication),
		history:    make(map[string][]domain.RatingHistoryEntry),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// UpsertPlayer inserts a player or updates its profile fields
func (s *Store) UpsertPlayer(_ context.Context, player *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *player
	p.Location = copyLocation(player.Location)
	if cur, ok := s.players[p.ID]; ok {
		p.Rating = cur.Rating
		p.Experience = cur.Experience
		p.CreatedAt = cur.CreatedAt
	}
	p.Status = ""
	p.Level = 0
	s.players[p.ID] = p
	*player = p
	return nil
}

// GetPlayer returns a player by id
func (s *Store) GetPlayer(_ context.Context, playerID string) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", playerID, domain.ErrPlayerNotFound)
	}
	p.Location = copyLocation(p.Location)
	return &p, nil
}

// ListPlayers returns players ordered by rating descending, or by closeness
// to filter.NearRating when it is set
func (s *Store) ListPlayers(_ context.Context, filter domain.PlayerFilter) ([]domain.Player, error) {
	s.mu.RLock()
	players := pie.Values(s.players)
	s.mu.RUnlock()

	if filter.City != "" {
		players = pie.Filter(players, func(p domain.Player) bool { return p.City == filter.City })
	}
	players = pie.SortUsing(players, func(a, b domain.Player) bool {
		if filter.NearRating != nil {
			ga, gb := ratingGap(a.Rating, *filter.NearRating), ratingGap(b.Rating, *filter.NearRating)
			if ga != gb {
				return ga < gb
			}
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.ID < b.ID
	})
	if filter.Limit > 0 && len(players) > filter.Limit {
		players = players[:filter.Limit]
	}
	return pie.Map(players, func(p domain.Player) domain.Player {
		p.Location = copyLocation(p.Location)
		return p
	}), nil
}

// ListRatingHistory returns the newest rating changes of a player first
func (s *Store) ListRatingHistory(_ context.Context, playerID string, limit int) ([]domain.RatingHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[playerID]
	out := make([]domain.RatingHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// CreateMatch stores a new match
func (s *Store) CreateMatch(_ context.Context, match *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createMatchLocked(match)
}

func (s *Store) createMatchLocked(match *domain.Match) error {
	if _, ok := s.matches[match.ID]; ok {
		return fmt.Errorf("match %s already exists", match.ID)
	}
	s.matches[match.ID] = *match
	s.sets[match.ID] = make(map[int]domain.Set)
	return nil
}

// GetMatch returns a match by id
func (s *Store) GetMatch(_ context.Context, matchID string) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", matchID, domain.ErrMatchNotFound)
	}
	return &m, nil
}

// ListSets returns the sets of a match ordered by number
func (s *Store) ListSets(_ context.Context, matchID string) ([]domain.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.matches[matchID]; !ok {
		return nil, fmt.Errorf("match %s: %w", matchID, domain.ErrMatchNotFound)
	}
	sets := pie.Values(s.sets[matchID])
	sets = pie.SortUsing(sets, func(a, b domain.Set) bool { return a.Number < b.Number })
	return sets, nil
}

// SaveSet stores a set and the match counters atomically
func (s *Store) SaveSet(_ context.Context, match *domain.Match, set domain.Set, insert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActiveLocked(match.ID); err != nil {
		return err
	}

	cur, exists := s.sets[match.ID][set.Number]
	switch {
	case insert && exists:
		return fmt.Errorf("set %d: %w", set.Number, domain.ErrSetExists)
	case !insert && (!exists || cur.Decided):
		return fmt.Errorf("set %d: %w", set.Number, domain.ErrSetExists)
	}

	s.sets[match.ID][set.Number] = set
	s.matches[match.ID] = *match
	return nil
}

// CompleteMatch stores the completed match and its pending rating application
func (s *Store) CompleteMatch(_ context.Context, match *domain.Match, app domain.RatingApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActiveLocked(match.ID); err != nil {
		return err
	}
	for number, set := range s.sets[match.ID] {
		if !set.Decided {
			delete(s.sets[match.ID], number)
		}
	}
	s.matches[match.ID] = *match
	s.apps[match.ID] = app
	return nil
}

// CancelMatch stores a cancelled match
func (s *Store) CancelMatch(_ context.Context, match *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActiveLocked(match.ID); err != nil {
		return err
	}
	s.matches[match.ID] = *match
	return nil
}

func (s *Store) checkActiveLocked(matchID string) error {
	stored, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("match %s: %w", matchID, domain.ErrMatchNotFound)
	}
	if !stored.Status.Active() {
		return fmt.Errorf("match %s is %s: %w", matchID, stored.Status, domain.ErrMatchNotActive)
	}
	return nil
}

// ApplyRatings applies the pending rating application of a match once
func (s *Store) ApplyRatings(_ context.Context, matchID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[matchID]
	if !ok {
		return false, fmt.Errorf("rating application of match %s: %w", matchID, domain.ErrMatchNotFound)
	}
	if app.AppliedAt != nil {
		return false, nil
	}

	playerA, okA := s.players[app.PlayerAID]
	playerB, okB := s.players[app.PlayerBID]
	if !okA || !okB {
		return false, fmt.Errorf("rating application of match %s: %w", matchID, domain.ErrPlayerNotFound)
	}

	s.applyToPlayerLocked(&playerA, matchID, app.DeltaA, app.ExperienceA, now)
	s.applyToPlayerLocked(&playerB, matchID, app.DeltaB, app.ExperienceB, now)

	applied := now
	app.AppliedAt = &applied
	s.apps[matchID] = app

	if m, ok := s.matches[matchID]; ok {
		m.RatingsAppliedAt = &applied
		s.matches[matchID] = m
	}
	return true, nil
}

func (s *Store) applyToPlayerLocked(p *domain.Player, matchID string, delta, experience int, now time.Time) {
	before := p.Rating
	p.Rating += delta
	p.Experience += experience
	p.UpdatedAt = now
	s.players[p.ID] = *p

	if delta != 0 {
		s.history[p.ID] = append(s.history[p.ID], domain.RatingHistoryEntry{
			PlayerID:     p.ID,
			MatchID:      matchID,
			RatingBefore: before,
			RatingAfter:  p.Rating,
			Delta:        delta,
			CreatedAt:    now,
		})
	}
}

// RecordRatingAttempt counts a failed application round
func (s *Store) RecordRatingAttempt(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[matchID]
	if !ok {
		return fmt.Errorf("rating application of match %s: %w", matchID, domain.ErrMatchNotFound)
	}
	app.Attempts++
	s.apps[matchID] = app
	return nil
}

// ListPendingRatingApplications returns unapplied rating applications, oldest first
func (s *Store) ListPendingRatingApplications(_ context.Context, limit int) ([]domain.RatingApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := pie.Filter(pie.Values(s.apps), func(app domain.RatingApplication) bool {
		return app.AppliedAt == nil
	})
	pending = pie.SortUsing(pending, func(a, b domain.RatingApplication) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// CreateChallenge stores a new challenge
func (s *Store) CreateChallenge(_ context.Context, challenge *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.challenges[challenge.ID]; ok {
		return fmt.Errorf("challenge %s already exists", challenge.ID)
	}
	s.challenges[challenge.ID] = *challenge
	return nil
}

// GetChallenge returns a challenge by id
func (s *Store) GetChallenge(_ context.Context, challengeID string) (*domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[challengeID]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", challengeID, domain.ErrChallengeNotFound)
	}
	return &c, nil
}

// UpdateChallengeStatus writes a challenge that is still pending
func (s *Store) UpdateChallengeStatus(_ context.Context, challenge *domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPendingLocked(challenge.ID); err != nil {
		return err
	}
	s.challenges[challenge.ID] = *challenge
	return nil
}

// AcceptChallenge writes the accepted challenge and creates its match
func (s *Store) AcceptChallenge(_ context.Context, challenge *domain.Challenge, match *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPendingLocked(challenge.ID); err != nil {
		return err
	}
	if err := s.createMatchLocked(match); err != nil {
		return err
	}
	s.challenges[challenge.ID] = *challenge
	return nil
}

func (s *Store) checkPendingLocked(challengeID string) error {
	stored, ok := s.challenges[challengeID]
	if !ok {
		return fmt.Errorf("challenge %s: %w", challengeID, domain.ErrChallengeNotFound)
	}
	if stored.Status != domain.ChallengeStatusPending {
		return fmt.Errorf("challenge %s is %s: %w", challengeID, stored.Status, domain.ErrChallengeNotPending)
	}
	return nil
}

func copyLocation(loc *domain.Location) *domain.Location {
	if loc == nil {
		return nil
	}
	l := *loc
	return &l
}

func ratingGap(rating, target int) int {
	if rating > target {
		return rating - target
	}
	return target - rating
}
