package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/config"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// PostgresDB wraps the pgx connection pool
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgres creates a new PostgreSQL connection pool
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*PostgresDB, error) {
	log = log.WithComponent("postgres")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("dbname", cfg.DBName).Msg("connecting to PostgreSQL")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL successfully")

	return &PostgresDB{
		pool:   pool,
		logger: log,
	}, nil
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool
func (db *PostgresDB) Close() {
	db.logger.Info().Msg("closing PostgreSQL connection pool")
	db.pool.Close()
}

// Ping checks the database connection
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Stats returns connection pool statistics
func (db *PostgresDB) Stats() *pgxpool.Stat {
	return db.pool.Stat()
}

// WithTx executes a function within a transaction
func (db *PostgresDB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Migrate creates the detections schema when it does not exist yet.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS detections (
	id                     TEXT PRIMARY KEY,
	source                 TEXT NOT NULL,
	rule_id                TEXT NOT NULL DEFAULT '',
	title                  TEXT NOT NULL,
	language               TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	author                 TEXT NOT NULL DEFAULT '',
	severity               TEXT NOT NULL DEFAULT 'unknown',
	status                 TEXT NOT NULL DEFAULT 'unknown',
	tags                   TEXT[] NOT NULL DEFAULT '{}',
	mitre_tactics          TEXT[] NOT NULL DEFAULT '{}',
	mitre_techniques       TEXT[] NOT NULL DEFAULT '{}',
	log_sources            TEXT[] NOT NULL DEFAULT '{}',
	platform               TEXT NOT NULL DEFAULT '',
	event_category         TEXT NOT NULL DEFAULT '',
	data_source_normalized TEXT NOT NULL DEFAULT '',
	detection_logic        TEXT NOT NULL DEFAULT '',
	raw_content            TEXT NOT NULL DEFAULT '',
	refs                   TEXT[] NOT NULL DEFAULT '{}',
	false_positives        TEXT[] NOT NULL DEFAULT '{}',
	source_file            TEXT NOT NULL DEFAULT '',
	source_repo_url        TEXT NOT NULL DEFAULT '',
	source_rule_url        TEXT NOT NULL DEFAULT '',
	rule_created_date      TIMESTAMPTZ,
	rule_modified_date     TIMESTAMPTZ,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_detections_source ON detections (source);
CREATE INDEX IF NOT EXISTS idx_detections_techniques ON detections USING GIN (mitre_techniques);
`
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	db.logger.Info().Msg("database schema up to date")
	return nil
}
