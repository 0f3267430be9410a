package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/matchmaker"
	"github.com/match-engine/internal/metrics"
	"github.com/match-engine/internal/rating"
)

// Presence is the presence view used by the services
type Presence interface {
	Status(playerID string) domain.PresenceStatus
	SetStatus(ctx context.Context, playerID string, status domain.PresenceStatus) error
}

// PlayerService manages player profiles, presence and opponent search
type PlayerService struct {
	store    Store
	presence Presence
	config   *config.MatchmakingConfig
	metrics  metrics.MatchMetrics
	logger   *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

// NewPlayerService creates a new player service
func NewPlayerService(
	store Store,
	presence Presence,
	cfg *config.MatchmakingConfig,
	m metrics.MatchMetrics,
	logger *slog.Logger,
) *PlayerService {
	return &PlayerService{
		store:    store,
		presence: presence,
		config:   cfg,
		metrics:  m,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRand replaces the shuffle source used for candidate ordering.
func (s *PlayerService) SetRand(rng *rand.Rand) {
	s.rngMu.Lock()
	s.rng = rng
	s.rngMu.Unlock()
}

// UpsertPlayer registers a player or updates the profile fields of an existing one.
// Rating and experience are never changed here.
func (s *PlayerService) UpsertPlayer(ctx context.Context, req domain.UpsertPlayerRequest) (*domain.Player, error) {
	req.ID = strings.TrimSpace(req.ID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.ID == "" || req.DisplayName == "" {
		return nil, fmt.Errorf("id and display_name are required: %w", domain.ErrInvalidRequest)
	}
	if loc := req.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			return nil, fmt.Errorf("location out of range: %w", domain.ErrInvalidRequest)
		}
	}

	now := s.now()
	player := &domain.Player{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		City:        req.City,
		Rating:      domain.DefaultRating,
		Location:    req.Location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.UpsertPlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("upserting player: %w", err)
	}

	s.logger.Info("player upserted", "player_id", player.ID)
	return s.GetPlayer(ctx, player.ID)
}

// GetPlayer returns a player with derived level and current presence
func (s *PlayerService) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	s.decorate(player)
	return player, nil
}

// RatingHistory returns the most recent applied rating changes of a player
func (s *PlayerService) RatingHistory(ctx context.Context, playerID string, limit int) ([]domain.RatingHistoryEntry, error) {
	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	if limit <= 0 || limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	entries, err := s.store.ListRatingHistory(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rating history: %w", err)
	}
	return entries, nil
}

// SetPresence records an explicit presence change of a known player
func (s *PlayerService) SetPresence(ctx context.Context, playerID string, status domain.PresenceStatus) (*domain.PresenceRecord, error) {
	if _, err := s.store.GetPlayer(ctx, playerID); err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	if err := s.presence.SetStatus(ctx, playerID, status); err != nil {
		return nil, err
	}
	return &domain.PresenceRecord{
		PlayerID: playerID,
		Status:   s.presence.Status(playerID),
		LastSeen: s.now(),
	}, nil
}

// CandidateQuery overrides the configured matchmaking criteria
type CandidateQuery struct {
	RatingWindow  *int
	MaxDistanceKm *float64
	Limit         int
	City          string
}

// FindCandidates shortlists opponents for a player
func (s *PlayerService) FindCandidates(ctx context.Context, playerID string, q CandidateQuery) ([]matchmaker.Candidate, error) {
	requester, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}

	criteria := matchmaker.Criteria{
		RatingWindow:  s.config.RatingWindow,
		MaxDistanceKm: s.config.MaxDistanceKm,
		Limit:         q.Limit,
	}
	if q.RatingWindow != nil {
		criteria.RatingWindow = *q.RatingWindow
	}
	if q.MaxDistanceKm != nil {
		criteria.MaxDistanceKm = *q.MaxDistanceKm
	}
	if criteria.Limit <= 0 {
		criteria.Limit = s.config.DefaultLimit
	}
	if criteria.Limit > s.config.MaxLimit {
		criteria.Limit = s.config.MaxLimit
	}

	// The pool is centred on the requester so the window sees its peers
	// however many players rank above them.
	pool, err := s.store.ListPlayers(ctx, domain.PlayerFilter{
		City:       q.City,
		Limit:      s.config.PoolSize,
		NearRating: &requester.Rating,
	})
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}

	s.rngMu.Lock()
	candidates, err := matchmaker.FindCandidates(*requester, pool, criteria, s.presence, s.rng)
	s.rngMu.Unlock()
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidates[i].Player.Level = rating.Level(candidates[i].Player.Experience)
	}
	s.metrics.CandidatesServed(len(candidates), len(candidates) > 0 && candidates[0].Fallback)
	return candidates, nil
}

func (s *PlayerService) decorate(player *domain.Player) {
	player.Level = rating.Level(player.Experience)
	player.Status = s.presence.Status(player.ID)
}
