package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/match-engine/internal/domain"
)

const matchColumns = `id, player_a_id, player_b_id, kind, best_of, status, rating_a_start, rating_b_start,
	sets_won_a, sets_won_b, winner_id, delta_a, delta_b, challenge_id,
	created_at, started_at, completed_at, cancelled_at, ratings_applied_at`

const activeStatuses = `('PENDING', 'IN_PROGRESS')`

// CreateMatch inserts a new match
func (r *Repository) CreateMatch(ctx context.Context, match *domain.Match) error {
	if err := insertMatch(ctx, r.pool, match); err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertMatch(ctx context.Context, db execer, m *domain.Match) error {
	query := `
		INSERT INTO matches (id, player_a_id, player_b_id, kind, best_of, status, rating_a_start, rating_b_start,
			sets_won_a, sets_won_b, challenge_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := db.Exec(ctx, query,
		m.ID,
		m.PlayerAID,
		m.PlayerBID,
		string(m.Kind),
		m.BestOf,
		string(m.Status),
		m.RatingAStart,
		m.RatingBStart,
		m.SetsWonA,
		m.SetsWonB,
		m.ChallengeID,
		m.CreatedAt,
	)
	return err
}

// GetMatch retrieves a match by ID
func (r *Repository) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match %s: %w", matchID, domain.ErrMatchNotFound)
		}
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

// ListSets retrieves the sets of a match ordered by number
func (r *Repository) ListSets(ctx context.Context, matchID string) ([]domain.Set, error) {
	query := `
		SELECT match_id, set_number, score_a, score_b, decided, winner, recorded_at
		FROM match_sets
		WHERE match_id = $1
		ORDER BY set_number
	`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("listing sets: %w", err)
	}
	defer rows.Close()

	sets := []domain.Set{}
	for rows.Next() {
		var s domain.Set
		if err := rows.Scan(&s.MatchID, &s.Number, &s.ScoreA, &s.ScoreB, &s.Decided, &s.Winner, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning set: %w", err)
		}
		sets = append(sets, s)
	}
	return sets, rows.Err()
}

// SaveSet stores a set and the match counters in one transaction
func (r *Repository) SaveSet(ctx context.Context, match *domain.Match, set domain.Set, insert bool) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if insert {
			_, err := tx.Exec(ctx, `
				INSERT INTO match_sets (match_id, set_number, score_a, score_b, decided, winner, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, set.MatchID, set.Number, set.ScoreA, set.ScoreB, set.Decided, string(set.Winner), set.RecordedAt)
			if isUniqueViolation(err) {
				return fmt.Errorf("set %d: %w", set.Number, domain.ErrSetExists)
			}
			if err != nil {
				return fmt.Errorf("inserting set: %w", err)
			}
		} else {
			tag, err := tx.Exec(ctx, `
				UPDATE match_sets
				SET score_a = $3, score_b = $4, decided = $5, winner = $6, recorded_at = $7
				WHERE match_id = $1 AND set_number = $2 AND decided = FALSE
			`, set.MatchID, set.Number, set.ScoreA, set.ScoreB, set.Decided, string(set.Winner), set.RecordedAt)
			if err != nil {
				return fmt.Errorf("updating set: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("set %d: %w", set.Number, domain.ErrSetExists)
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE matches
			SET status = $2, started_at = $3, sets_won_a = $4, sets_won_b = $5
			WHERE id = $1 AND status IN `+activeStatuses,
			match.ID, string(match.Status), match.StartedAt, match.SetsWonA, match.SetsWonB)
		if err != nil {
			return fmt.Errorf("updating match: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.inactiveMatch(ctx, tx, match.ID)
		}
		return nil
	})
}

// CompleteMatch stores the completed match and its rating application in one transaction
func (r *Repository) CompleteMatch(ctx context.Context, match *domain.Match, app domain.RatingApplication) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE matches
			SET status = $2, winner_id = $3, delta_a = $4, delta_b = $5, completed_at = $6,
				sets_won_a = $7, sets_won_b = $8
			WHERE id = $1 AND status IN `+activeStatuses,
			match.ID, string(match.Status), match.WinnerID, match.DeltaA, match.DeltaB, match.CompletedAt,
			match.SetsWonA, match.SetsWonB)
		if err != nil {
			return fmt.Errorf("completing match: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.inactiveMatch(ctx, tx, match.ID)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM match_sets WHERE match_id = $1 AND decided = FALSE`, match.ID); err != nil {
			return fmt.Errorf("discarding open sets: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO rating_applications (match_id, player_a_id, player_b_id, delta_a, delta_b,
				experience_a, experience_b, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, app.MatchID, app.PlayerAID, app.PlayerBID, app.DeltaA, app.DeltaB, app.ExperienceA, app.ExperienceB, app.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting rating application: %w", err)
		}
		return nil
	})
}

// CancelMatch stores a cancelled match
func (r *Repository) CancelMatch(ctx context.Context, match *domain.Match) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE matches SET status = $2, cancelled_at = $3
		WHERE id = $1 AND status IN `+activeStatuses,
		match.ID, string(match.Status), match.CancelledAt)
	if err != nil {
		return fmt.Errorf("cancelling match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.inactiveMatch(ctx, r.pool, match.ID)
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// inactiveMatch explains why a conditional match update touched no row
func (r *Repository) inactiveMatch(ctx context.Context, db queryRower, matchID string) error {
	var status string
	err := db.QueryRow(ctx, `SELECT status FROM matches WHERE id = $1`, matchID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("match %s: %w", matchID, domain.ErrMatchNotFound)
	}
	if err != nil {
		return fmt.Errorf("reading match status: %w", err)
	}
	return fmt.Errorf("match %s is %s: %w", matchID, status, domain.ErrMatchNotActive)
}

// ApplyRatings applies the pending rating application of a match in one transaction
func (r *Repository) ApplyRatings(ctx context.Context, matchID string, now time.Time) (bool, error) {
	applied := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var app domain.RatingApplication
		var appliedAt *time.Time
		err := tx.QueryRow(ctx, `
			SELECT player_a_id, player_b_id, delta_a, delta_b, experience_a, experience_b, applied_at
			FROM rating_applications
			WHERE match_id = $1
			FOR UPDATE
		`, matchID).Scan(&app.PlayerAID, &app.PlayerBID, &app.DeltaA, &app.DeltaB, &app.ExperienceA, &app.ExperienceB, &appliedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("rating application of match %s: %w", matchID, domain.ErrMatchNotFound)
		}
		if err != nil {
			return fmt.Errorf("locking rating application: %w", err)
		}
		if appliedAt != nil {
			return nil
		}

		type change struct {
			playerID   string
			delta      int
			experience int
		}
		changes := []change{
			{app.PlayerAID, app.DeltaA, app.ExperienceA},
			{app.PlayerBID, app.DeltaB, app.ExperienceB},
		}
		// fixed lock order across concurrent applications
		changes = pie.SortUsing(changes, func(a, b change) bool { return a.playerID < b.playerID })

		for _, c := range changes {
			var after int
			err := tx.QueryRow(ctx, `
				UPDATE players
				SET rating = rating + $2, experience = experience + $3, updated_at = $4
				WHERE id = $1
				RETURNING rating
			`, c.playerID, c.delta, c.experience, now).Scan(&after)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("player %s: %w", c.playerID, domain.ErrPlayerNotFound)
			}
			if err != nil {
				return fmt.Errorf("updating player rating: %w", err)
			}
			if c.delta == 0 {
				continue
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO rating_history (player_id, match_id, rating_before, rating_after, delta, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, c.playerID, matchID, after-c.delta, after, c.delta, now)
			if err != nil {
				return fmt.Errorf("inserting rating history: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE rating_applications SET applied_at = $2 WHERE match_id = $1`, matchID, now); err != nil {
			return fmt.Errorf("marking rating application: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE matches SET ratings_applied_at = $2 WHERE id = $1`, matchID, now); err != nil {
			return fmt.Errorf("marking match ratings: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// RecordRatingAttempt counts a failed application round
func (r *Repository) RecordRatingAttempt(ctx context.Context, matchID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE rating_applications SET attempts = attempts + 1 WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("recording rating attempt: %w", err)
	}
	return nil
}

// ListPendingRatingApplications retrieves unapplied rating applications, oldest first
func (r *Repository) ListPendingRatingApplications(ctx context.Context, limit int) ([]domain.RatingApplication, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT match_id, player_a_id, player_b_id, delta_a, delta_b, experience_a, experience_b,
			attempts, created_at, applied_at
		FROM rating_applications
		WHERE applied_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending rating applications: %w", err)
	}
	defer rows.Close()

	var apps []domain.RatingApplication
	for rows.Next() {
		var a domain.RatingApplication
		err := rows.Scan(&a.MatchID, &a.PlayerAID, &a.PlayerBID, &a.DeltaA, &a.DeltaB,
			&a.ExperienceA, &a.ExperienceB, &a.Attempts, &a.CreatedAt, &a.AppliedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning rating application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func scanMatch(row pgx.Row) (*domain.Match, error) {
	var m domain.Match
	err := row.Scan(
		&m.ID,
		&m.PlayerAID,
		&m.PlayerBID,
		&m.Kind,
		&m.BestOf,
		&m.Status,
		&m.RatingAStart,
		&m.RatingBStart,
		&m.SetsWonA,
		&m.SetsWonB,
		&m.WinnerID,
		&m.DeltaA,
		&m.DeltaB,
		&m.ChallengeID,
		&m.CreatedAt,
		&m.StartedAt,
		&m.CompletedAt,
		&m.CancelledAt,
		&m.RatingsAppliedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
