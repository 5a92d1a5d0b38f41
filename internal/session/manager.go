package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSONL file per session: a metadata line followed by
// one line per message.
type FileStore struct {
	dir   string
	cache map[string]*Session
	mu    sync.Mutex
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{
		dir:   dir,
		cache: make(map[string]*Session),
	}, nil
}

// DefaultDir returns ~/.toolbot/sessions.
func DefaultDir() string {
	return filepath.Join(homeDir(), ".toolbot", "sessions")
}

func (m *FileStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[id]; ok {
		return s, nil
	}

	s, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = New(id)
	}
	m.cache[id] = s
	return s, nil
}

func (m *FileStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[s.ID] = s
	path := m.sessionPath(s.ID)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}

	w := bufio.NewWriter(f)
	meta := map[string]any{
		"_type":      "metadata",
		"id":         s.ID,
		"created_at": s.CreatedAt.Format(time.RFC3339),
		"updated_at": s.UpdatedAt.Format(time.RFC3339),
	}
	metaJSON, _ := json.Marshal(meta)
	w.Write(metaJSON)
	w.WriteString("\n")

	for _, msg := range s.Messages {
		line, _ := json.Marshal(msg)
		w.Write(line)
		w.WriteString("\n")
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *FileStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, id)
	if err := os.Remove(m.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (m *FileStore) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []Info
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		s, err := m.readFile(filepath.Join(m.dir, e.Name()))
		if err != nil || s == nil {
			continue
		}
		if s.ID == "" {
			s.ID = strings.TrimSuffix(e.Name(), ".jsonl")
		}
		sessions = append(sessions, Info{
			ID:        s.ID,
			Messages:  len(s.Messages),
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (m *FileStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	infos, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, info := range infos {
		if !info.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := m.Delete(ctx, info.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

func (m *FileStore) load(id string) (*Session, error) {
	s, err := m.readFile(m.sessionPath(id))
	if err != nil || s == nil {
		return nil, err
	}
	s.ID = id
	return s, nil
}

// readFile returns nil, nil when the file does not exist.
func (m *FileStore) readFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	s := &Session{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if raw["_type"] == "metadata" {
			if id, ok := raw["id"].(string); ok {
				s.ID = id
			}
			if ts, ok := raw["created_at"].(string); ok {
				s.CreatedAt, _ = time.Parse(time.RFC3339, ts)
			}
			if ts, ok := raw["updated_at"].(string); ok {
				s.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
			}
			continue
		}
		var msg Message
		if json.Unmarshal([]byte(line), &msg) == nil {
			s.Messages = append(s.Messages, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return s, nil
}

func (m *FileStore) sessionPath(id string) string {
	return filepath.Join(m.dir, safeFilename(id)+".jsonl")
}

func safeFilename(name string) string {
	unsafe := `<>:"/\|?*`
	for _, c := range unsafe {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	return strings.TrimSpace(name)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
