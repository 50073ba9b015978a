package fabric

import (
	"context"

	"github.com/neuroerp/fabric/pkg/types"
)

// This file defines focused interfaces over the Fabric. Collaborators
// (accounting, HR, inventory, connectors, ...) should depend on the smallest
// interface that meets their needs rather than on *Fabric directly.

// GraphReader provides read-only access to nodes and their connections.
type GraphReader interface {
	// GetNode returns a snapshot of a node, or ErrNodeNotFound.
	GetNode(id string) (*types.Node, error)

	// GetConnectedNodes returns connected nodes grouped by relation type,
	// optionally restricted to one relation.
	GetConnectedNodes(id, relationType string) (map[string][]*types.Node, error)

	// QueryNodes returns nodes matching a type and scalar equality filters.
	QueryNodes(opts QueryOptions) []*types.Node

	// GetStats returns aggregate statistics about the store.
	GetStats() Stats
}

// GraphWriter provides mutation operations on nodes and edges.
type GraphWriter interface {
	// CreateNode creates a node and returns its allocated id.
	CreateNode(nodeType string, properties types.Properties) (string, error)

	// CreateNodeWithID creates a node under a caller-supplied id.
	CreateNodeWithID(id, nodeType string, properties types.Properties, generateEmbedding bool) (string, error)

	// UpdateNode merges properties into an existing node.
	UpdateNode(id string, properties types.Properties) error

	// DeleteNode removes a node and its index entries.
	DeleteNode(id string) error

	// ConnectNodes adds a typed edge and its auto-mirrored inverse.
	ConnectNodes(sourceID, targetID, relationType string) error

	// DisconnectNodes removes a typed edge and its mirrored inverse.
	DisconnectNodes(sourceID, targetID, relationType string) error
}

// SemanticSearcher provides vector-based retrieval.
type SemanticSearcher interface {
	// SemanticSearch returns the nodes most similar to the query vector.
	SemanticSearch(ctx context.Context, vector []float32, nodeType string, limit int) ([]SearchResult, error)

	// TextToVector embeds a single string with the configured client.
	TextToVector(ctx context.Context, text string) ([]float32, error)
}

// SnapshotStore dumps and reloads the whole store.
type SnapshotStore interface {
	// ExportToFile writes a full snapshot.
	ExportToFile(path string) error

	// ImportFromFile loads a snapshot, rebuilding all indices.
	ImportFromFile(path string) (int, error)
}

// Ensure *Fabric satisfies the composed surface.
var _ interface {
	GraphReader
	GraphWriter
	SemanticSearcher
	SnapshotStore
} = (*Fabric)(nil)
