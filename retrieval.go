package fabric

import (
	"context"

	"github.com/neuroerp/fabric/pkg/types"
	"github.com/neuroerp/fabric/pkg/utils"
)

// Default result bounds, applied when the caller passes zero.
const (
	DefaultQueryLimit  = 100
	DefaultSearchLimit = 10
)

// QueryOptions selects nodes by type and scalar property equality.
type QueryOptions struct {
	// Type restricts the candidate set to one node type. Empty means all.
	Type string
	// Filters are ANDed equality constraints on scalar properties. A filter
	// on a structured value never matches.
	Filters types.Properties
	// Limit bounds the result size (DefaultQueryLimit when zero).
	Limit int
	// Offset skips results for pagination. Ordering among results is
	// unspecified, so sort explicitly before relying on pagination.
	Offset int
}

// SearchResult pairs a node with its similarity score.
type SearchResult struct {
	Node  *types.Node
	Score float64
}

// QueryNodes returns the nodes matching the options. The candidate set
// starts from the type index (or the whole table), then intersects with the
// property index bucket of each filter; any filter with zero matches
// short-circuits to an empty result.
func (f *Fabric) QueryNodes(opts QueryOptions) []*types.Node {
	f.queryCount.Add(1)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var candidates map[string]struct{}
	if opts.Type != "" {
		typed, ok := f.typeIndex[opts.Type]
		if !ok {
			return nil
		}
		candidates = make(map[string]struct{}, len(typed))
		for id := range typed {
			candidates[id] = struct{}{}
		}
	} else {
		candidates = make(map[string]struct{}, len(f.nodes))
		for id := range f.nodes {
			candidates[id] = struct{}{}
		}
	}

	for name, value := range opts.Filters {
		key, scalar := value.ScalarKey()
		if !scalar {
			return nil
		}
		buckets, ok := f.propIndex[name]
		if !ok {
			return nil
		}
		matching, ok := buckets[key]
		if !ok {
			return nil
		}
		for id := range candidates {
			if _, ok := matching[id]; !ok {
				delete(candidates, id)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
	}

	// Iteration order of the candidate set is unspecified; pagination is
	// only meaningful to callers that sort first.
	var results []*types.Node
	skipped := 0
	for id := range candidates {
		if skipped < offset {
			skipped++
			continue
		}
		results = append(results, f.nodes[id].Clone())
		if len(results) >= limit {
			break
		}
	}
	return results
}

// SemanticSearch returns the nodes most similar to the query vector, best
// first. With an external vector index configured the query is delegated and
// the ids translated back to nodes; otherwise cosine similarity is computed
// in memory against every candidate node that has a vector.
func (f *Fabric) SemanticSearch(ctx context.Context, vector []float32, nodeType string, limit int) ([]SearchResult, error) {
	f.queryCount.Add(1)

	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if f.index != nil {
		hits, err := f.index.Search(ctx, vector, nodeType, limit)
		if err != nil {
			return nil, err
		}
		f.mu.RLock()
		defer f.mu.RUnlock()
		var results []SearchResult
		for _, hit := range hits {
			if node, ok := f.nodes[hit.ID]; ok {
				results = append(results, SearchResult{Node: node.Clone(), Score: hit.Score})
			}
		}
		return results, nil
	}

	f.mu.RLock()
	var candidateIDs map[string]struct{}
	if nodeType != "" {
		typed, ok := f.typeIndex[nodeType]
		if !ok {
			f.mu.RUnlock()
			return nil, nil
		}
		candidateIDs = typed
	}

	var scored []utils.ScoredItem[*types.Node]
	if candidateIDs != nil {
		for id := range candidateIDs {
			node := f.nodes[id]
			if len(node.Vector) > 0 {
				scored = append(scored, utils.ScoredItem[*types.Node]{
					Item:  node,
					Score: utils.CosineSimilarity(vector, node.Vector),
				})
			}
		}
	} else {
		for _, node := range f.nodes {
			if len(node.Vector) > 0 {
				scored = append(scored, utils.ScoredItem[*types.Node]{
					Item:  node,
					Score: utils.CosineSimilarity(vector, node.Vector),
				})
			}
		}
	}

	top := utils.TopKByScore(scored, limit)
	results := make([]SearchResult, len(top))
	for i, item := range top {
		results[i] = SearchResult{Node: item.Item.Clone(), Score: item.Score}
	}
	f.mu.RUnlock()
	return results, nil
}

// TextToVector embeds a single string with the configured embedding client.
func (f *Fabric) TextToVector(ctx context.Context, text string) ([]float32, error) {
	if f.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return f.embedder.EmbedSingle(ctx, text)
}
