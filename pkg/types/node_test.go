package types

import (
	"testing"
)

func TestNodeValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantErr error
	}{
		{
			name:    "valid node",
			node:    Node{ID: "node-1", Type: "customer"},
			wantErr: nil,
		},
		{
			name:    "empty id",
			node:    Node{ID: "", Type: "customer"},
			wantErr: ErrEmptyID,
		},
		{
			name:    "empty type",
			node:    Node{ID: "node-1", Type: ""},
			wantErr: ErrEmptyType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.node.Validate(); err != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewNode(t *testing.T) {
	props := Properties{"name": StringValue("Acme")}
	node := NewNode("node-1", "customer", props)

	if node.ID != "node-1" || node.Type != "customer" {
		t.Errorf("unexpected identity: %s/%s", node.ID, node.Type)
	}
	if node.CreatedAt.IsZero() || !node.CreatedAt.Equal(node.UpdatedAt) {
		t.Error("timestamps should be set and equal on creation")
	}

	// The node owns a copy of the passed properties.
	props["name"] = StringValue("other")
	if node.Properties["name"].Str() != "Acme" {
		t.Error("node should not share property storage with the caller")
	}
}

func TestNodeConnections(t *testing.T) {
	node := NewNode("order-1", "order", nil)

	node.AddConnection("placed_by", "cust-1")
	node.AddConnection("placed_by", "cust-2")
	node.AddConnection("contains", "item-1")
	// Duplicate add is a no-op on the set.
	node.AddConnection("placed_by", "cust-1")

	if !node.HasConnection("placed_by", "cust-1") {
		t.Error("expected placed_by edge to cust-1")
	}
	if node.HasConnection("placed_by", "item-1") {
		t.Error("unexpected placed_by edge to item-1")
	}
	if got := node.ConnectionCount(); got != 3 {
		t.Errorf("ConnectionCount() = %d, want 3", got)
	}

	ids := node.ConnectionIDs("placed_by")
	if len(ids) != 2 || ids[0] != "cust-1" || ids[1] != "cust-2" {
		t.Errorf("ConnectionIDs() = %v, want sorted [cust-1 cust-2]", ids)
	}
	if node.ConnectionIDs("missing") != nil {
		t.Error("ConnectionIDs for unknown relation should be nil")
	}
}

func TestNodeRemoveConnection(t *testing.T) {
	node := NewNode("order-1", "order", nil)
	node.AddConnection("placed_by", "cust-1")

	if !node.RemoveConnection("placed_by", "cust-1") {
		t.Fatal("RemoveConnection should report removal")
	}
	if node.RemoveConnection("placed_by", "cust-1") {
		t.Error("second removal should report false")
	}
	if node.RemoveConnection("missing", "cust-1") {
		t.Error("removal on unknown relation should report false")
	}
	// Empty relation sets are pruned.
	if _, ok := node.Connections["placed_by"]; ok {
		t.Error("empty relation set should have been pruned")
	}
}

func TestNodeUpdateProperties(t *testing.T) {
	node := NewNode("cust-1", "customer", Properties{
		"name": StringValue("Acme"),
		"tier": StringValue("gold"),
	})

	node.UpdateProperties(Properties{
		"tier":   StringValue("platinum"),
		"region": StringValue("emea"),
	})

	if node.Properties["name"].Str() != "Acme" {
		t.Error("untouched key should survive a merge")
	}
	if node.Properties["tier"].Str() != "platinum" {
		t.Error("merged key should be overwritten")
	}
	if node.Properties["region"].Str() != "emea" {
		t.Error("new key should be added")
	}
}

func TestNodeClone(t *testing.T) {
	node := NewNode("cust-1", "customer", Properties{"name": StringValue("Acme")})
	node.SetVector([]float32{0.1, 0.2})
	node.AddConnection("placed", "order-1")
	node.Metadata["source"] = "import"

	clone := node.Clone()
	clone.Properties["name"] = StringValue("changed")
	clone.Vector[0] = 9
	clone.Connections["placed"]["order-2"] = struct{}{}
	clone.Metadata["source"] = "other"

	if node.Properties["name"].Str() != "Acme" {
		t.Error("clone shares property storage")
	}
	if node.Vector[0] != 0.1 {
		t.Error("clone shares vector storage")
	}
	if node.HasConnection("placed", "order-2") {
		t.Error("clone shares connection storage")
	}
	if node.Metadata["source"] != "import" {
		t.Error("clone shares metadata storage")
	}
}
