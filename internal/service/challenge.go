package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/match-engine/internal/config"
	"github.com/match-engine/internal/domain"
	"github.com/match-engine/internal/lifecycle"
	"github.com/match-engine/internal/metrics"
)

// ChallengeService runs the challenge flow. An accepted challenge opens
// exactly one match through the match service.
type ChallengeService struct {
	store   Store
	matches *MatchService
	config  *config.ChallengeConfig
	metrics metrics.MatchMetrics
	logger  *slog.Logger
	locks   *keyedMutex
	now     func() time.Time
}

// NewChallengeService creates a new challenge service
func NewChallengeService(
	store Store,
	matches *MatchService,
	cfg *config.ChallengeConfig,
	m metrics.MatchMetrics,
	logger *slog.Logger,
) *ChallengeService {
	return &ChallengeService{
		store:   store,
		matches: matches,
		config:  cfg,
		metrics: m,
		logger:  logger,
		locks:   newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *ChallengeService) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a PENDING challenge that expires after the requested TTL
func (s *ChallengeService) Create(ctx context.Context, req domain.CreateChallengeRequest) (*domain.Challenge, error) {
	if req.ChallengerID == "" || req.ChallengedID == "" {
		return nil, fmt.Errorf("challenger_id and challenged_id are required: %w", domain.ErrInvalidRequest)
	}
	if req.ChallengerID == req.ChallengedID {
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

	ttl, err := s.ttl(req)
	if err != nil {
		return nil, err
	}

	for _, id := range []string{req.ChallengerID, req.ChallengedID} {
		if _, err := s.store.GetPlayer(ctx, id); err != nil {
			return nil, fmt.Errorf("getting player %s: %w", id, err)
		}
	}

	now := s.now()
	challenge := &domain.Challenge{
		ID:           uuid.NewString(),
		ChallengerID: req.ChallengerID,
		ChallengedID: req.ChallengedID,
		Kind:         req.Kind,
		BestOf:       req.BestOf,
		Status:       domain.ChallengeStatusPending,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}

	s.logger.Info("challenge created",
		"challenge_id", challenge.ID,
		"challenger_id", challenge.ChallengerID,
		"challenged_id", challenge.ChallengedID,
		"expires_at", challenge.ExpiresAt,
	)
	return challenge, nil
}

func (s *ChallengeService) ttl(req domain.CreateChallengeRequest) (time.Duration, error) {
	ttl := req.TTL
	if ttl == 0 && req.TTLSeconds != 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl < 0 {
		return 0, fmt.Errorf("ttl must be positive: %w", domain.ErrInvalidRequest)
	}
	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}
	if s.config.MaxTTL > 0 && ttl > s.config.MaxTTL {
		ttl = s.config.MaxTTL
	}
	return ttl, nil
}

// Get returns a challenge, expiring it first if its deadline has passed
func (s *ChallengeService) Get(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	unlock := s.locks.Lock(challengeID)
	defer unlock()

	return s.load(ctx, challengeID)
}

func (s *ChallengeService) load(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("getting challenge: %w", err)
	}
	if !challenge.ExpiredAt(s.now()) {
		return challenge, nil
	}

	challenge.Status = domain.ChallengeStatusExpired
	err = s.store.UpdateChallengeStatus(ctx, challenge)
	if errors.Is(err, domain.ErrChallengeNotPending) {
		// answered elsewhere just before expiry was observed
		return s.store.GetChallenge(ctx, challengeID)
	}
	if err != nil {
		return nil, fmt.Errorf("expiring challenge: %w", err)
	}
	s.metrics.ChallengeResolved(string(domain.ChallengeStatusExpired))
	s.logger.Info("challenge expired", "challenge_id", challengeID)
	return challenge, nil
}

// Accept opens the match of a challenge. Only the challenged player may accept.
func (s *ChallengeService) Accept(ctx context.Context, challengeID, playerID string) (*domain.AcceptedChallenge, error) {
	unlock := s.locks.Lock(challengeID)
	defer unlock()

	challenge, err := s.pending(ctx, challengeID, playerID, func(c *domain.Challenge) string { return c.ChallengedID })
	if err != nil {
		return nil, err
	}

	match, err := s.matches.newMatch(ctx, domain.OpenMatchRequest{
		PlayerAID:   challenge.ChallengerID,
		PlayerBID:   challenge.ChallengedID,
		Kind:        challenge.Kind,
		BestOf:      challenge.BestOf,
		ChallengeID: challenge.ID,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	challenge.Status = domain.ChallengeStatusAccepted
	challenge.MatchID = &match.ID
	challenge.RespondedAt = &now
	if err := s.store.AcceptChallenge(ctx, challenge, match); err != nil {
		return nil, fmt.Errorf("accepting challenge: %w", err)
	}

	s.metrics.ChallengeResolved(string(domain.ChallengeStatusAccepted))
	s.logger.Info("challenge accepted", "challenge_id", challenge.ID, "match_id", match.ID)
	s.matches.announceOpened(ctx, match)

	return &domain.AcceptedChallenge{Challenge: *challenge, Match: *match}, nil
}

// Decline refuses a challenge. Only the challenged player may decline.
func (s *ChallengeService) Decline(ctx context.Context, challengeID, playerID string) (*domain.Challenge, error) {
	return s.close(ctx, challengeID, playerID, domain.ChallengeStatusDeclined,
		func(c *domain.Challenge) string { return c.ChallengedID })
}

// Cancel withdraws a challenge. Only the challenger may cancel.
func (s *ChallengeService) Cancel(ctx context.Context, challengeID, playerID string) (*domain.Challenge, error) {
	return s.close(ctx, challengeID, playerID, domain.ChallengeStatusCancelled,
		func(c *domain.Challenge) string { return c.ChallengerID })
}

func (s *ChallengeService) close(
	ctx context.Context,
	challengeID, playerID string,
	status domain.ChallengeStatus,
	actor func(*domain.Challenge) string,
) (*domain.Challenge, error) {
	unlock := s.locks.Lock(challengeID)
	defer unlock()

	challenge, err := s.pending(ctx, challengeID, playerID, actor)
	if err != nil {
		return nil, err
	}

	now := s.now()
	challenge.Status = status
	challenge.RespondedAt = &now
	if err := s.store.UpdateChallengeStatus(ctx, challenge); err != nil {
		return nil, fmt.Errorf("updating challenge: %w", err)
	}

	s.metrics.ChallengeResolved(string(status))
	s.logger.Info("challenge closed", "challenge_id", challengeID, "status", status)
	return challenge, nil
}

// pending loads a challenge that playerID may still answer
func (s *ChallengeService) pending(
	ctx context.Context,
	challengeID, playerID string,
	actor func(*domain.Challenge) string,
) (*domain.Challenge, error) {
	challenge, err := s.load(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if playerID == "" || actor(challenge) != playerID {
		return nil, domain.ErrNotChallengeParticipant
	}
	switch challenge.Status {
	case domain.ChallengeStatusPending:
		return challenge, nil
	case domain.ChallengeStatusExpired:
		return nil, domain.ErrChallengeExpired
	default:
		return nil, fmt.Errorf("challenge is %s: %w", challenge.Status, domain.ErrChallengeNotPending)
	}
}
