package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/match-engine/internal/domain"
)

const playerColumns = `id, display_name, city, rating, experience, latitude, longitude, created_at, updated_at`

// UpsertPlayer inserts a player or updates its profile fields. Rating and
// experience of an existing player are left untouched.
func (r *Repository) UpsertPlayer(ctx context.Context, player *domain.Player) error {
	var lat, lng *float64
	if player.Location != nil {
		lat, lng = &player.Location.Latitude, &player.Location.Longitude
	}

	query := `
		INSERT INTO players (id, display_name, city, rating, experience, latitude, longitude, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $7)
		ON CONFLICT (id)
		DO UPDATE SET display_name = $2, city = $3, latitude = $5, longitude = $6, updated_at = $7
		RETURNING ` + playerColumns

	p, err := scanPlayer(r.pool.QueryRow(ctx, query,
		player.ID,
		player.DisplayName,
		player.City,
		player.Rating,
		lat,
		lng,
		player.UpdatedAt,
	))
	if err != nil {
		return fmt.Errorf("upserting player: %w", err)
	}
	*player = *p
	return nil
}

// GetPlayer retrieves a player by ID
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`
	p, err := scanPlayer(r.pool.QueryRow(ctx, query, playerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("player %s: %w", playerID, domain.ErrPlayerNotFound)
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return p, nil
}

// ListPlayers retrieves players ordered by rating, or by closeness to
// filter.NearRating when it is set
func (r *Repository) ListPlayers(ctx context.Context, filter domain.PlayerFilter) ([]domain.Player, error) {
	query := `
		SELECT ` + playerColumns + `
		FROM players
		WHERE ($1 = '' OR city = $1)
		ORDER BY rating DESC, id
		LIMIT $2
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args := []any{filter.City, limit}

	if filter.NearRating != nil {
		query = `
			SELECT ` + playerColumns + `
			FROM players
			WHERE ($1 = '' OR city = $1)
			ORDER BY abs(rating - $3), rating DESC, id
			LIMIT $2
		`
		args = append(args, *filter.NearRating)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// ListRatingHistory retrieves the newest rating changes of a player
func (r *Repository) ListRatingHistory(ctx context.Context, playerID string, limit int) ([]domain.RatingHistoryEntry, error) {
	query := `
		SELECT player_id, match_id, rating_before, rating_after, delta, created_at
		FROM rating_history
		WHERE player_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rating history: %w", err)
	}
	defer rows.Close()

	entries := []domain.RatingHistoryEntry{}
	for rows.Next() {
		var e domain.RatingHistoryEntry
		if err := rows.Scan(&e.PlayerID, &e.MatchID, &e.RatingBefore, &e.RatingAfter, &e.Delta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning rating history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	var lat, lng *float64
	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.City,
		&p.Rating,
		&p.Experience,
		&lat,
		&lng,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Location = &domain.Location{Latitude: *lat, Longitude: *lng}
	}
	return &p, nil
}
