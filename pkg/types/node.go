package types

import (
	"errors"
	"sort"
	"time"
)

// Validation errors
var (
	ErrEmptyID   = errors.New("id cannot be empty")
	ErrEmptyType = errors.New("node type cannot be empty")
)

// Node is an entity record in the fabric: a type tag, a property map, an
// optional embedding vector, and typed adjacency to other nodes.
//
// Nodes handed out by the store are snapshots; mutating a snapshot does not
// affect the store. Inside the store, node mutations happen under the store's
// lock, so Node methods themselves carry no synchronization.
type Node struct {
	ID         string
	Type       string
	Properties Properties
	Vector     []float32
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Connections maps a relation type to the set of target node ids.
	Connections map[string]map[string]struct{}
}

// NewNode creates a node with the given id, type, and properties.
// Timestamps are set to the current UTC time.
func NewNode(id, nodeType string, properties Properties) *Node {
	now := time.Now().UTC()
	return &Node{
		ID:          id,
		Type:        nodeType,
		Properties:  properties.Clone(),
		Metadata:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
		Connections: map[string]map[string]struct{}{},
	}
}

// Validate checks the node's required fields.
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrEmptyID
	}
	if n.Type == "" {
		return ErrEmptyType
	}
	return nil
}

// AddConnection records an edge of the given relation type to target.
func (n *Node) AddConnection(relationType, targetID string) {
	if n.Connections == nil {
		n.Connections = map[string]map[string]struct{}{}
	}
	targets, ok := n.Connections[relationType]
	if !ok {
		targets = map[string]struct{}{}
		n.Connections[relationType] = targets
	}
	targets[targetID] = struct{}{}
	n.UpdatedAt = time.Now().UTC()
}

// RemoveConnection removes the edge of the given relation type to target.
// Empty relation sets are pruned. Returns false if no such edge existed.
func (n *Node) RemoveConnection(relationType, targetID string) bool {
	targets, ok := n.Connections[relationType]
	if !ok {
		return false
	}
	if _, ok := targets[targetID]; !ok {
		return false
	}
	delete(targets, targetID)
	if len(targets) == 0 {
		delete(n.Connections, relationType)
	}
	n.UpdatedAt = time.Now().UTC()
	return true
}

// HasConnection reports whether an edge of the given relation type to target exists.
func (n *Node) HasConnection(relationType, targetID string) bool {
	targets, ok := n.Connections[relationType]
	if !ok {
		return false
	}
	_, ok = targets[targetID]
	return ok
}

// ConnectionCount returns the total number of outgoing edges across all relations.
func (n *Node) ConnectionCount() int {
	count := 0
	for _, targets := range n.Connections {
		count += len(targets)
	}
	return count
}

// ConnectionIDs returns the sorted target ids for a relation type.
func (n *Node) ConnectionIDs(relationType string) []string {
	targets, ok := n.Connections[relationType]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateProperties merges the given properties into the node's property map.
// Existing keys are overwritten, other keys are untouched.
func (n *Node) UpdateProperties(properties Properties) {
	if n.Properties == nil {
		n.Properties = Properties{}
	}
	for k, v := range properties {
		n.Properties[k] = v.Clone()
	}
	n.UpdatedAt = time.Now().UTC()
}

// SetVector replaces the node's embedding vector.
func (n *Node) SetVector(vector []float32) {
	n.Vector = append([]float32(nil), vector...)
	n.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := &Node{
		ID:         n.ID,
		Type:       n.Type,
		Properties: n.Properties.Clone(),
		Vector:     append([]float32(nil), n.Vector...),
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
	if len(n.Vector) == 0 {
		out.Vector = nil
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	if n.Connections != nil {
		out.Connections = make(map[string]map[string]struct{}, len(n.Connections))
		for rel, targets := range n.Connections {
			set := make(map[string]struct{}, len(targets))
			for id := range targets {
				set[id] = struct{}{}
			}
			out.Connections[rel] = set
		}
	}
	return out
}
