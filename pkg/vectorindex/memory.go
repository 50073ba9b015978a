package vectorindex

import (
	"context"
	"sync"

	"github.com/neuroerp/fabric/pkg/utils"
)

type memoryEntry struct {
	vector   []float32
	nodeType string
}

// MemoryIndex is a brute-force in-memory Index, useful for tests and for
// single-process deployments that still want the index wiring exercised.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: map[string]memoryEntry{}}
}

// Upsert stores or replaces the vector for a node.
func (m *MemoryIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	nodeType, _ := metadata["node_type"].(string)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{
		vector:   append([]float32(nil), vector...),
		nodeType: nodeType,
	}
	return nil
}

// Delete removes a node's vector.
func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Search scans every stored vector and returns the top results by cosine
// similarity.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, nodeType string, limit int) ([]Result, error) {
	m.mu.RLock()
	scored := make([]utils.ScoredItem[string], 0, len(m.entries))
	for id, entry := range m.entries {
		if nodeType != "" && entry.nodeType != nodeType {
			continue
		}
		scored = append(scored, utils.ScoredItem[string]{
			Item:  id,
			Score: utils.CosineSimilarity(vector, entry.vector),
		})
	}
	m.mu.RUnlock()

	top := utils.TopKByScore(scored, limit)
	results := make([]Result, len(top))
	for i, item := range top {
		results[i] = Result{ID: item.Item, Score: item.Score}
	}
	return results, nil
}

// Len returns the number of stored vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Index.
func (m *MemoryIndex) Close(ctx context.Context) error {
	return nil
}
