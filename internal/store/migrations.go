package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migration is one schema step. Versions are applied in order, once.
type migration struct {
	version int
	sql     string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE sessions (
				id         TEXT PRIMARY KEY,
				messages   TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);
			CREATE INDEX idx_sessions_updated ON sessions (updated_at);
			CREATE TABLE embeddings (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				text       TEXT NOT NULL,
				embedding  TEXT NOT NULL,
				created_at TEXT NOT NULL
			);
			CREATE INDEX idx_embeddings_session ON embeddings (session_id);
		`,
	},
}

var postgresMigrations = []migration{
	{
		version: 1,
		sql: `
			CREATE EXTENSION IF NOT EXISTS vector;
			CREATE TABLE conversations (
				session_id TEXT PRIMARY KEY,
				messages   JSONB NOT NULL DEFAULT '[]'::jsonb,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX idx_conversations_updated ON conversations (updated_at);
			CREATE TABLE conversation_embeddings (
				id           BIGSERIAL PRIMARY KEY,
				session_id   TEXT NOT NULL,
				message_text TEXT NOT NULL,
				embedding    vector NOT NULL,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX idx_embeddings_session ON conversation_embeddings (session_id);
		`,
	},
}

// runSQLiteMigrations ensures the schema_version table exists and runs any pending migrations.
func runSQLiteMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&current); err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("read schema version: %w", err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (0)"); err != nil {
			return fmt.Errorf("insert initial schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// runPostgresMigrations is the pgx counterpart of runSQLiteMigrations.
func runPostgresMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&current); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read schema version: %w", err)
		}
		if _, err := pool.Exec(ctx, "INSERT INTO schema_version (version) VALUES (0)"); err != nil {
			return fmt.Errorf("insert initial schema version: %w", err)
		}
	}

	for _, m := range postgresMigrations {
		if m.version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "UPDATE schema_version SET version = @version", pgx.NamedArgs{"version": m.version})
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}
