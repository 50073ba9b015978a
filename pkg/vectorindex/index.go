// Package vectorindex abstracts an external vector index the fabric can
// delegate semantic search to. When no index is configured the fabric falls
// back to an in-memory scan over its own nodes.
package vectorindex

import "context"

// Result is a single search hit.
type Result struct {
	// ID is the node id the vector was stored under.
	ID string
	// Score is the similarity score, higher is more similar.
	Score float64
}

// Index stores vectors keyed by node id and answers nearest-neighbor queries.
// Implementations must be safe for concurrent use: the embedding worker
// upserts while callers search.
type Index interface {
	// Upsert stores or replaces the vector for a node. The metadata map
	// carries at least "node_type", used for filtered search.
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error

	// Delete removes a node's vector. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// Search returns up to limit results ordered by descending score.
	// A non-empty nodeType restricts results to vectors upserted with that
	// "node_type" metadata value.
	Search(ctx context.Context, vector []float32, nodeType string, limit int) ([]Result, error)

	// Close releases any resources held by the index.
	Close(ctx context.Context) error
}
