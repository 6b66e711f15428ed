package recognition

import (
	"math"
	"testing"
)

func TestCatalogSearch_EmptyCatalog(t *testing.T) {
	c := NewCatalog()

	if _, _, ok := c.Search([]float32{1, 0, 0}); ok {
		t.Error("empty catalog must not return a match")
	}
}

func TestCatalogSearch_FindsNearestIdentity(t *testing.T) {
	c := NewCatalog()
	c.Add("Alice", 1, []float32{1, 0, 0, 0})
	c.Add("Bob", 2, []float32{0, 1, 0, 0})
	c.Add("Carol", 3, []float32{0, 0, 1, 0})

	name, similarity, ok := c.Search([]float32{0.98, 0.1, 0, 0})
	if !ok {
		t.Fatal("expected a match")
	}
	if name != "Alice" {
		t.Errorf("best match = %q, want Alice", name)
	}
	if similarity < 0.9 {
		t.Errorf("similarity = %v, want > 0.9 for a near-identical vector", similarity)
	}
}

func TestCatalogSearch_ExactMatchSimilarityOne(t *testing.T) {
	c := NewCatalog()
	vec := []float32{0.5, 0.5, 0.5, 0.5}
	c.Add("Alice", 1, vec)

	_, similarity, ok := c.Search(vec)
	if !ok {
		t.Fatal("expected a match")
	}
	if math.Abs(similarity-1.0) > 1e-6 {
		t.Errorf("similarity of identical vectors = %v, want 1.0", similarity)
	}
}

func TestCatalogAdd_MultipleSamplesPerIdentity(t *testing.T) {
	c := NewCatalog()
	c.Add("Alice", 1, []float32{1, 0, 0})
	c.Add("Alice", 2, []float32{0.9, 0.1, 0})

	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}

	name, _, ok := c.Search([]float32{0.95, 0.05, 0})
	if !ok || name != "Alice" {
		t.Errorf("Search = %q ok=%v, want Alice", name, ok)
	}
}

func TestCatalogAdd_IgnoresEmptyEmbedding(t *testing.T) {
	c := NewCatalog()
	c.Add("Alice", 1, nil)

	if c.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after adding empty embedding", c.Count())
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
	}
	for _, tt := range tests {
		got := cosineSimilarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("%s: cosineSimilarity = %v, want %v", tt.name, got, tt.want)
		}
	}
}
