package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/joebot/toolbot/internal/session"
	"github.com/joebot/toolbot/internal/vector"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps sessions and embeddings in one SQLite file. Similarity
// search ranks every stored embedding in process.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

// NewSQLiteStore opens (or creates) the database at dbPath, takes an
// exclusive lock file next to it, enables WAL mode and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	lockPath := dbPath + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("database %s is in use by another toolbot process", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		fl.Unlock()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		fl.Unlock()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, lock: fl}, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, id string) (*session.Session, error) {
	var raw, createdStr, updatedStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&raw, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return session.New(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	sess := &session.Session{ID: id}
	if err := json.Unmarshal([]byte(raw), &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(timeFormat, createdStr)
	sess.UpdatedAt, _ = time.Parse(timeFormat, updatedStr)
	return sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	raw, err := json.Marshal(messagesOrEmpty(sess.Messages))
	if err != nil {
		return fmt.Errorf("encode session messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		sess.ID,
		string(raw),
		sess.CreatedAt.UTC().Format(timeFormat),
		sess.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE session_id = ?", id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) List(ctx context.Context) ([]session.Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, json_array_length(messages), created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var infos []session.Info
	for rows.Next() {
		var info session.Info
		var createdStr, updatedStr string
		if err := rows.Scan(&info.ID, &info.Messages, &createdStr, &updatedStr); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		info.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		info.UpdatedAt, _ = time.Parse(timeFormat, updatedStr)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return infos, nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	c := cutoff.UTC().Format(timeFormat)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings
		WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < ?)`, c); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prune embeddings: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE updated_at < ?", c)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Add(ctx context.Context, sessionID, text string, embedding []float32) error {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO embeddings (session_id, text, embedding, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, text, string(raw), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int) ([]vector.Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, text, embedding FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var entries []vector.Entry
	for rows.Next() {
		var e vector.Entry
		var raw string
		if err := rows.Scan(&e.SessionID, &e.Text, &raw); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Embedding); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding rows: %w", err)
	}
	return vector.TopK(query, entries, k), nil
}

// Close closes the database and releases the lock file.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func messagesOrEmpty(msgs []session.Message) []session.Message {
	if msgs == nil {
		return []session.Message{}
	}
	return msgs
}
