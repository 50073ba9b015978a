package fabric

import (
	"github.com/neuroerp/fabric/pkg/types"
)

// InverseSuffix is appended to a relation type to name its auto-mirrored
// inverse edge.
const InverseSuffix = "_inverse"

// InverseRelation returns the mirrored relation type for a relation.
func InverseRelation(relationType string) string {
	return relationType + InverseSuffix
}

// ConnectNodes creates a directed edge of the given relation type from source
// to target, plus the mirrored inverse edge on the target (unless the edge is
// a self-loop). The two edges are added under one critical section so the
// inverse invariant holds at every observable point.
func (f *Fabric) ConnectNodes(sourceID, targetID, relationType string) error {
	f.mu.Lock()
	source, ok := f.nodes[sourceID]
	if !ok {
		f.mu.Unlock()
		return ErrNodeNotFound
	}
	target, ok := f.nodes[targetID]
	if !ok {
		f.mu.Unlock()
		return ErrNodeNotFound
	}

	source.AddConnection(relationType, targetID)
	if sourceID != targetID {
		target.AddConnection(InverseRelation(relationType), sourceID)
	}
	f.mu.Unlock()

	f.publish(EventConnectionCreated, map[string]any{
		"source_id":     sourceID,
		"target_id":     targetID,
		"relation_type": relationType,
	})

	f.logger.Debug("connected nodes",
		"source_id", sourceID, "target_id", targetID, "relation_type", relationType)
	return nil
}

// DisconnectNodes removes the edge created by ConnectNodes with the same
// arguments, including the mirrored inverse edge. Returns
// ErrConnectionNotFound when no such edge exists.
func (f *Fabric) DisconnectNodes(sourceID, targetID, relationType string) error {
	f.mu.Lock()
	source, ok := f.nodes[sourceID]
	if !ok {
		f.mu.Unlock()
		return ErrNodeNotFound
	}
	target, ok := f.nodes[targetID]
	if !ok {
		f.mu.Unlock()
		return ErrNodeNotFound
	}

	removed := source.RemoveConnection(relationType, targetID)
	if sourceID != targetID {
		target.RemoveConnection(InverseRelation(relationType), sourceID)
	}
	f.mu.Unlock()

	if !removed {
		return ErrConnectionNotFound
	}

	f.publish(EventConnectionDeleted, map[string]any{
		"source_id":     sourceID,
		"target_id":     targetID,
		"relation_type": relationType,
	})

	f.logger.Debug("disconnected nodes",
		"source_id", sourceID, "target_id", targetID, "relation_type", relationType)
	return nil
}

// GetConnectedNodes returns the nodes connected to the given node, grouped by
// relation type. A non-empty relationType restricts the result to that
// relation. Edges whose target has been deleted are skipped.
func (f *Fabric) GetConnectedNodes(id, relationType string) (map[string][]*types.Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	node, ok := f.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}

	result := map[string][]*types.Node{}
	for rel, targets := range node.Connections {
		if relationType != "" && rel != relationType {
			continue
		}
		nodes := make([]*types.Node, 0, len(targets))
		for targetID := range targets {
			if target, ok := f.nodes[targetID]; ok {
				nodes = append(nodes, target.Clone())
			}
		}
		result[rel] = nodes
	}
	return result, nil
}
