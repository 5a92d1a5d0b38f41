package vector

import (
	"context"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemorySearch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Add(ctx, "s1", "about clocks", []float32{1, 0, 0})
	m.Add(ctx, "s1", "about weather", []float32{0, 1, 0})
	m.Add(ctx, "s2", "mostly clocks", []float32{0.9, 0.1, 0})

	got, err := m.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	texts := Texts(got)
	if len(texts) != 2 || texts[0] != "about clocks" || texts[1] != "mostly clocks" {
		t.Errorf("texts = %v", texts)
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestMemoryCopiesEmbedding(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	vec := []float32{1, 0}
	m.Add(ctx, "s", "x", vec)
	vec[0] = 0

	got, _ := m.Search(ctx, []float32{1, 0}, 1)
	if got[0].Similarity != 1 {
		t.Errorf("stored embedding was aliased: %+v", got[0])
	}
}
