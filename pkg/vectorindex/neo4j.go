package vectorindex

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jIndex implements Index on top of a Neo4j vector index. Each upserted
// vector becomes a (:FabricNode) with the node id, type, and embedding;
// search goes through db.index.vector.queryNodes.
type Neo4jIndex struct {
	client    neo4j.DriverWithContext
	database  string
	indexName string
}

// Neo4jConfig holds connection settings for a Neo4jIndex.
type Neo4jConfig struct {
	URI       string
	Username  string
	Password  string
	Database  string
	IndexName string
	// Dimensions is required to create the vector index on first use.
	Dimensions int
}

// NewNeo4jIndex connects to Neo4j and ensures the vector index exists.
func NewNeo4jIndex(ctx context.Context, cfg Neo4jConfig) (*Neo4jIndex, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.IndexName == "" {
		cfg.IndexName = "fabric_nodes"
	}

	idx := &Neo4jIndex{
		client:    driver,
		database:  cfg.Database,
		indexName: cfg.IndexName,
	}

	if cfg.Dimensions > 0 {
		if err := idx.ensureIndex(ctx, cfg.Dimensions); err != nil {
			driver.Close(ctx)
			return nil, err
		}
	}

	return idx, nil
}

func (n *Neo4jIndex) ensureIndex(ctx context.Context, dimensions int) error {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		CREATE VECTOR INDEX %s IF NOT EXISTS
		FOR (n:FabricNode) ON (n.embedding)
		OPTIONS {indexConfig: {
			`+"`vector.dimensions`"+`: $dimensions,
			`+"`vector.similarity_function`"+`: 'cosine'
		}}
	`, n.indexName)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, map[string]any{"dimensions": dimensions})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

// Upsert stores or replaces the vector for a node.
func (n *Neo4jIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	nodeType, _ := metadata["node_type"].(string)

	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MERGE (n:FabricNode {id: $id})
			SET n.node_type = $nodeType, n.embedding = $embedding
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"id":        id,
			"nodeType":  nodeType,
			"embedding": toFloat64s(vector),
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector for %s: %w", id, err)
	}
	return nil
}

// Delete removes a node's vector.
func (n *Neo4jIndex) Delete(ctx context.Context, id string) error {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MATCH (n:FabricNode {id: $id}) DETACH DELETE n`
		_, err := tx.Run(ctx, query, map[string]any{"id": id})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to delete vector for %s: %w", id, err)
	}
	return nil
}

// Search queries the vector index, optionally filtered by node type.
func (n *Neo4jIndex) Search(ctx context.Context, vector []float32, nodeType string, limit int) ([]Result, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Over-fetch when filtering by type, then trim after the filter
		fetch := limit
		if nodeType != "" {
			fetch = limit * 4
		}
		query := `
			CALL db.index.vector.queryNodes($indexName, $limit, $embedding)
			YIELD node, score
			WHERE $nodeType = '' OR node.node_type = $nodeType
			RETURN node.id AS id, score
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"indexName": n.indexName,
			"limit":     fetch,
			"embedding": toFloat64s(vector),
			"nodeType":  nodeType,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	var results []Result
	for _, record := range records.([]*neo4j.Record) {
		idValue, found := record.Get("id")
		if !found {
			continue
		}
		id, ok := idValue.(string)
		if !ok {
			continue
		}
		scoreValue, _ := record.Get("score")
		score, _ := scoreValue.(float64)
		results = append(results, Result{ID: id, Score: score})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Close closes the underlying driver.
func (n *Neo4jIndex) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
