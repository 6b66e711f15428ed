package recognition

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

const catalogMaxNeighbors = 16

// Catalog is the in-memory nearest-neighbor index over enrolled face
// embeddings. Keys are one entry per enrolled face sample, so an identity
// with several samples occupies several graph nodes.
type Catalog struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	entries map[string]catalogEntry
}

type catalogEntry struct {
	name      string
	embedding []float32
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	g := hnsw.NewGraph[string]()
	g.M = catalogMaxNeighbors
	g.Ml = 1.0 / float64(catalogMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return &Catalog{
		graph:   g,
		entries: make(map[string]catalogEntry),
	}
}

// Add inserts one enrolled face sample for the named identity.
func (c *Catalog) Add(name string, faceID uint, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	key := fmt.Sprintf("%s#%d", name, faceID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.graph.Add(hnsw.MakeNode(key, embedding))
	c.entries[key] = catalogEntry{name: name, embedding: embedding}
}

// Search returns the best-matching identity for the query embedding and the
// cosine similarity of the match (1 is a perfect match). ok is false when
// the catalog is empty.
func (c *Catalog) Search(query []float32) (name string, similarity float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return "", 0, false
	}

	neighbors := c.graph.Search(query, 1)
	if len(neighbors) == 0 {
		return "", 0, false
	}

	entry, found := c.entries[neighbors[0].Key]
	if !found {
		return "", 0, false
	}

	// Recompute the exact similarity; the graph distance is approximate.
	return entry.name, cosineSimilarity(query, entry.embedding), true
}

// Count returns the number of enrolled face samples in the catalog.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
