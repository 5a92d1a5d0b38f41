package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joebot/toolbot/internal/session"
	"github.com/joebot/toolbot/internal/vector"
)

// PostgresStore keeps sessions as JSONB message arrays and embeddings in a
// pgvector column ranked by cosine distance.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and runs migrations. The server
// needs the pgvector extension available.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, id string) (*session.Session, error) {
	var raw []byte
	sess := &session.Session{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT messages, created_at, updated_at
		FROM conversations
		WHERE session_id = @id`,
		pgx.NamedArgs{"id": id},
	).Scan(&raw, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.New(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if err := json.Unmarshal(raw, &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Save(ctx context.Context, sess *session.Session) error {
	raw, err := json.Marshal(messagesOrEmpty(sess.Messages))
	if err != nil {
		return fmt.Errorf("encode session messages: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (session_id, messages, created_at, updated_at)
		VALUES (@id, @messages, @created_at, @updated_at)
		ON CONFLICT (session_id) DO UPDATE
		SET messages = EXCLUDED.messages, updated_at = EXCLUDED.updated_at`,
		pgx.NamedArgs{
			"id":         sess.ID,
			"messages":   raw,
			"created_at": sess.CreatedAt,
			"updated_at": sess.UpdatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		args := pgx.NamedArgs{"id": id}
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_embeddings WHERE session_id = @id`, args); err != nil {
			return fmt.Errorf("delete embeddings: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE session_id = @id`, args); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) List(ctx context.Context) ([]session.Info, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, jsonb_array_length(messages), created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var infos []session.Info
	for rows.Next() {
		var info session.Info
		if err := rows.Scan(&info.ID, &info.Messages, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return infos, nil
}

func (s *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var pruned int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		args := pgx.NamedArgs{"cutoff": cutoff}
		if _, err := tx.Exec(ctx, `
			DELETE FROM conversation_embeddings
			WHERE session_id IN (SELECT session_id FROM conversations WHERE updated_at < @cutoff)`, args); err != nil {
			return fmt.Errorf("prune embeddings: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE updated_at < @cutoff`, args)
		if err != nil {
			return fmt.Errorf("prune sessions: %w", err)
		}
		pruned = tag.RowsAffected()
		return nil
	})
	return int(pruned), err
}

func (s *PostgresStore) Add(ctx context.Context, sessionID, text string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_embeddings (session_id, message_text, embedding)
		VALUES (@session_id, @text, @embedding::vector)`,
		pgx.NamedArgs{
			"session_id": sessionID,
			"text":       text,
			"embedding":  formatVector(embedding),
		},
	)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// Search ranks by cosine distance; similarity is 1 - distance.
func (s *PostgresStore) Search(ctx context.Context, query []float32, k int) ([]vector.Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, message_text, 1 - (embedding <=> @query::vector) AS similarity
		FROM conversation_embeddings
		WHERE vector_dims(embedding) = @dims
		ORDER BY embedding <=> @query::vector
		LIMIT @k`,
		pgx.NamedArgs{
			"query": formatVector(query),
			"dims":  len(query),
			"k":     k,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vector.Match, error) {
		var m vector.Match
		err := row.Scan(&m.SessionID, &m.Text, &m.Similarity)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}
	return matches, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// formatVector renders the pgvector text form, e.g. [0.1,0.2].
func formatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
