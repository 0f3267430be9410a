package service

import (
	"context"
	"time"

	"github.com/match-engine/internal/domain"
)

// Store is the authoritative persistence used by the services.
//
// Match writes are conditional: they fail with domain.ErrMatchNotActive when
// the stored match is no longer PENDING or IN_PROGRESS, so concurrent writers
// on other instances cannot resurrect a finished match.
type Store interface {
	UpsertPlayer(ctx context.Context, player *domain.Player) error
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	ListPlayers(ctx context.Context, filter domain.PlayerFilter) ([]domain.Player, error)
	ListRatingHistory(ctx context.Context, playerID string, limit int) ([]domain.RatingHistoryEntry, error)

	CreateMatch(ctx context.Context, match *domain.Match) error
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	ListSets(ctx context.Context, matchID string) ([]domain.Set, error)

	// SaveSet stores set together with the counters and status of match.
	// A new set fails with domain.ErrSetExists if the number is taken; an
	// update fails with domain.ErrSetExists if the stored set is already decided.
	SaveSet(ctx context.Context, match *domain.Match, set domain.Set, insert bool) error

	// CompleteMatch stores the completed match and its pending rating
	// application in one transaction and discards undecided sets.
	CompleteMatch(ctx context.Context, match *domain.Match, app domain.RatingApplication) error
	CancelMatch(ctx context.Context, match *domain.Match) error

	// ApplyRatings moves the pending deltas of a match onto the live player
	// rows. It reports false when the application was already done.
	ApplyRatings(ctx context.Context, matchID string, now time.Time) (bool, error)
	RecordRatingAttempt(ctx context.Context, matchID string) error
	ListPendingRatingApplications(ctx context.Context, limit int) ([]domain.RatingApplication, error)

	CreateChallenge(ctx context.Context, challenge *domain.Challenge) error
	GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error)

	// UpdateChallengeStatus writes challenge if the stored status is still
	// PENDING, else domain.ErrChallengeNotPending.
	UpdateChallengeStatus(ctx context.Context, challenge *domain.Challenge) error

	// AcceptChallenge writes the accepted challenge and creates its match in
	// one transaction, under the same PENDING precondition.
	AcceptChallenge(ctx context.Context, challenge *domain.Challenge, match *domain.Match) error
}
