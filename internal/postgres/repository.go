package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/match-engine/internal/config"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			city VARCHAR(128) NOT NULL DEFAULT '',
			rating INT NOT NULL DEFAULT 1000,
			experience INT NOT NULL DEFAULT 0,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id VARCHAR(64) PRIMARY KEY,
			player_a_id VARCHAR(64) NOT NULL REFERENCES players(id),
			player_b_id VARCHAR(64) NOT NULL REFERENCES players(id),
			kind VARCHAR(16) NOT NULL,
			best_of INT NOT NULL CHECK (best_of > 0 AND best_of % 2 = 1),
			status VARCHAR(16) NOT NULL,
			rating_a_start INT NOT NULL,
			rating_b_start INT NOT NULL,
			sets_won_a INT NOT NULL DEFAULT 0,
			sets_won_b INT NOT NULL DEFAULT 0,
			winner_id VARCHAR(64),
			delta_a INT,
			delta_b INT,
			challenge_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			ratings_applied_at TIMESTAMPTZ,
			CHECK (player_a_id <> player_b_id)
		)`,
		`CREATE TABLE IF NOT EXISTS match_sets (
			match_id VARCHAR(64) NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			set_number INT NOT NULL CHECK (set_number > 0),
			score_a INT NOT NULL CHECK (score_a >= 0),
			score_b INT NOT NULL CHECK (score_b >= 0),
			decided BOOLEAN NOT NULL,
			winner VARCHAR(1) NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (match_id, set_number)
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id VARCHAR(64) PRIMARY KEY,
			challenger_id VARCHAR(64) NOT NULL REFERENCES players(id),
			challenged_id VARCHAR(64) NOT NULL REFERENCES players(id),
			kind VARCHAR(16) NOT NULL,
			best_of INT NOT NULL,
			status VARCHAR(16) NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			match_id VARCHAR(64) REFERENCES matches(id),
			created_at TIMESTAMPTZ NOT NULL,
			responded_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS rating_applications (
			match_id VARCHAR(64) PRIMARY KEY REFERENCES matches(id),
			player_a_id VARCHAR(64) NOT NULL,
			player_b_id VARCHAR(64) NOT NULL,
			delta_a INT NOT NULL,
			delta_b INT NOT NULL,
			experience_a INT NOT NULL,
			experience_b INT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			applied_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS rating_history (
			id BIGSERIAL PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL REFERENCES players(id),
			match_id VARCHAR(64) NOT NULL REFERENCES matches(id),
			rating_before INT NOT NULL,
			rating_after INT NOT NULL,
			delta INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (player_id, match_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_rating ON players(rating DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_players_city ON players(city)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_rating_applications_pending ON rating_applications(created_at) WHERE applied_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_rating_history_player ON rating_history(player_id, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// withTx runs fn in a transaction, committing only if fn succeeds
func (r *Repository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, fn)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
