package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/match-engine/internal/domain"
)

// CreateChallenge inserts a new challenge
func (r *Repository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO challenges (id, challenger_id, challenged_id, kind, best_of, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.ChallengerID, c.ChallengedID, string(c.Kind), c.BestOf, string(c.Status), c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by ID
func (r *Repository) GetChallenge(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	var c domain.Challenge
	err := r.pool.QueryRow(ctx, `
		SELECT id, challenger_id, challenged_id, kind, best_of, status, expires_at, match_id, created_at, responded_at
		FROM challenges
		WHERE id = $1
	`, challengeID).Scan(
		&c.ID,
		&c.ChallengerID,
		&c.ChallengedID,
		&c.Kind,
		&c.BestOf,
		&c.Status,
		&c.ExpiresAt,
		&c.MatchID,
		&c.CreatedAt,
		&c.RespondedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("challenge %s: %w", challengeID, domain.ErrChallengeNotFound)
		}
		return nil, fmt.Errorf("getting challenge: %w", err)
	}
	return &c, nil
}

// UpdateChallengeStatus writes the status of a challenge that is still pending
func (r *Repository) UpdateChallengeStatus(ctx context.Context, c *domain.Challenge) error {
	return r.updatePendingChallenge(ctx, r.pool, c)
}

// AcceptChallenge writes the accepted challenge and creates its match in one transaction
func (r *Repository) AcceptChallenge(ctx context.Context, c *domain.Challenge, match *domain.Match) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertMatch(ctx, tx, match); err != nil {
			return fmt.Errorf("creating match: %w", err)
		}
		return r.updatePendingChallenge(ctx, tx, c)
	})
}

type challengeDB interface {
	execer
	queryRower
}

func (r *Repository) updatePendingChallenge(ctx context.Context, db challengeDB, c *domain.Challenge) error {
	tag, err := db.Exec(ctx, `
		UPDATE challenges SET status = $2, match_id = $3, responded_at = $4
		WHERE id = $1 AND status = 'PENDING'
	`, c.ID, string(c.Status), c.MatchID, c.RespondedAt)
	if err != nil {
		return fmt.Errorf("updating challenge: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = db.QueryRow(ctx, `SELECT status FROM challenges WHERE id = $1`, c.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("challenge %s: %w", c.ID, domain.ErrChallengeNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading challenge status: %w", err)
	}
	return fmt.Errorf("challenge %s is %s: %w", c.ID, status, domain.ErrChallengeNotPending)
}
