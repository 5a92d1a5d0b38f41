package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/joebot/toolbot/internal/session"
	"github.com/joebot/toolbot/internal/vector"
)

var (
	_ session.Store = (*SQLiteStore)(nil)
	_ vector.Store  = (*SQLiteStore)(nil)
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Fatalf("new session has messages: %+v", sess.Messages)
	}

	sess.AddMessage("user", "what time is it?")
	sess.AddMessage("assistant", "14:02")
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sess.AddMessage("user", "thanks")
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	got, err := s.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(got.Messages) != 3 || got.Messages[2].Content != "thanks" {
		t.Errorf("Messages = %+v", got.Messages)
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "sess-1" || infos[0].Messages != 3 {
		t.Errorf("List = %+v", infos)
	}
}

func TestSQLitePruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := session.New("old")
	old.AddMessage("user", "hi")
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := s.Save(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "old", "hi", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	fresh := session.New("fresh")
	fresh.AddMessage("user", "hello")
	if err := s.Save(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	matches, err := s.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("embeddings of pruned session survived: %+v", matches)
	}
}

func TestSQLiteVectorSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Add(ctx, "a", "clock question", []float32{1, 0, 0})
	s.Add(ctx, "a", "weather question", []float32{0, 1, 0})
	s.Add(ctx, "b", "another clock question", []float32{0.8, 0.2, 0})

	matches, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	texts := vector.Texts(matches)
	if len(texts) != 2 || texts[0] != "clock question" || texts[1] != "another clock question" {
		t.Errorf("texts = %v", texts)
	}
}

func TestSQLiteLockIsExclusive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "locked.db")
	first, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	if _, err := NewSQLiteStore(dbPath); err == nil {
		t.Fatal("second open should fail while the lock is held")
	}
}

func TestSQLiteDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := session.New("gone")
	sess.AddMessage("user", "bye")
	s.Save(ctx, sess)
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	infos, _ := s.List(ctx)
	if len(infos) != 0 {
		t.Errorf("List after delete = %+v", infos)
	}
}
