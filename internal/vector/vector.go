// Package vector stores message embeddings and retrieves the texts most
// similar to a query embedding.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Match is one retrieved text with its cosine similarity to the query.
type Match struct {
	SessionID  string
	Text       string
	Similarity float64
}

// Store persists embeddings for retrieval-augmented prompts.
type Store interface {
	Add(ctx context.Context, sessionID, text string, embedding []float32) error
	// Search returns up to k matches ordered by descending similarity.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopK ranks entries against query and keeps the best k.
func TopK(query []float32, entries []Entry, k int) []Match {
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, Match{
			SessionID:  e.SessionID,
			Text:       e.Text,
			Similarity: Cosine(query, e.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Texts returns the text of each match in order.
func Texts(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Text
	}
	return out
}

// Entry is one stored embedding.
type Entry struct {
	SessionID string
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// Memory is an in-process Store. Useful for the CLI and tests.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Add(_ context.Context, sessionID, text string, embedding []float32) error {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{
		SessionID: sessionID,
		Text:      text,
		Embedding: vec,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *Memory) Search(_ context.Context, query []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TopK(query, m.entries, k), nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
