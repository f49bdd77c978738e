package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/domain"
)

// Repository is the audit log of saved sessions, claim outcomes and
// transaction lifecycle events
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
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

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id BIGSERIAL PRIMARY KEY,
			player VARCHAR(42) NOT NULL,
			stage SMALLINT NOT NULL,
			score BIGINT NOT NULL,
			coins_collected BIGINT NOT NULL,
			questions_correct SMALLINT NOT NULL,
			stage_completed BOOLEAN NOT NULL,
			tx_hash VARCHAR(66),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS claim_events (
			id BIGSERIAL PRIMARY KEY,
			player VARCHAR(42) NOT NULL,
			stage SMALLINT NOT NULL,
			outcome VARCHAR(20) NOT NULL,
			tokens_minted BOOLEAN NOT NULL,
			nft_minted BOOLEAN NOT NULL,
			error TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tx_events (
			id BIGSERIAL PRIMARY KEY,
			operation VARCHAR(40) NOT NULL,
			state VARCHAR(20) NOT NULL,
			tx_hash VARCHAR(66),
			error TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS processed_run_events (
			event_id VARCHAR(64) PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_sessions_player ON game_sessions(player, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_events_player ON claim_events(player, stage)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_events_hash ON tx_events(tx_hash)`,
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

// RecordSession stores a session saved on-chain by player
func (r *Repository) RecordSession(ctx context.Context, player string, sub domain.SessionSubmission, txHash string) error {
	query := `
		INSERT INTO game_sessions (player, stage, score, coins_collected, questions_correct, stage_completed, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`
	_, err := r.pool.Exec(ctx, query,
		strings.ToLower(player),
		sub.Stage,
		sub.Score,
		sub.CoinsCollected,
		sub.QuestionsCorrect,
		sub.StageCompleted,
		txHash,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("recording session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions saved by player
func (r *Repository) ListSessions(ctx context.Context, player string, limit int) ([]domain.GameSession, error) {
	query := `
		SELECT player, stage, score, coins_collected, stage_completed, created_at
		FROM game_sessions
		WHERE player = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, strings.ToLower(player), limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.GameSession, 0)
	for rows.Next() {
		var (
			s  domain.GameSession
			at time.Time
		)
		if err := rows.Scan(&s.Player, &s.Stage, &s.Score, &s.CoinsCollected, &s.StageCompleted, &at); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		s.Timestamp = at.Unix()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RecordClaim stores the outcome of a reward reconciliation
func (r *Repository) RecordClaim(ctx context.Context, rec domain.ClaimRecord) error {
	query := `
		INSERT INTO claim_events (player, stage, outcome, tokens_minted, nft_minted, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`
	_, err := r.pool.Exec(ctx, query,
		strings.ToLower(rec.Player),
		rec.Stage,
		rec.Outcome,
		rec.TokensMinted,
		rec.NFTMinted,
		rec.Error,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording claim: %w", err)
	}
	return nil
}

// ListClaims returns the claim outcomes recorded for player
func (r *Repository) ListClaims(ctx context.Context, player string, limit int) ([]domain.ClaimRecord, error) {
	query := `
		SELECT player, stage, outcome, tokens_minted, nft_minted, COALESCE(error, ''), created_at
		FROM claim_events
		WHERE player = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, strings.ToLower(player), limit)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()

	claims := make([]domain.ClaimRecord, 0)
	for rows.Next() {
		var c domain.ClaimRecord
		err := rows.Scan(&c.Player, &c.Stage, &c.Outcome, &c.TokensMinted, &c.NFTMinted, &c.Error, &c.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// RecordTxEvents stores write-adapter transitions in one batch
func (r *Repository) RecordTxEvents(ctx context.Context, events []domain.TxEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO tx_events (operation, state, tx_hash, error, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
	`
	for _, e := range events {
		batch.Queue(query, e.Operation, e.State, e.TxHash, e.Error, e.Timestamp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording tx events: %w", err)
		}
	}
	return nil
}

// MarkRunEvent records eventID as processed. It reports false when the
// event was already processed.
func (r *Repository) MarkRunEvent(ctx context.Context, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_run_events (event_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, eventID, time.Now())
	if err != nil {
		return false, fmt.Errorf("marking run event: %w", err)
	}
	return result.RowsAffected() == 1, nil
}
