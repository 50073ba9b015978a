package fabric

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neuroerp/fabric/pkg/bus"
	"github.com/neuroerp/fabric/pkg/embedder"
	"github.com/neuroerp/fabric/pkg/types"
	"github.com/neuroerp/fabric/pkg/utils"
	"github.com/neuroerp/fabric/pkg/vectorindex"
)

// Event types published by the fabric.
const (
	EventNodeCreated       = "node.created"
	EventNodeUpdated       = "node.updated"
	EventNodeDeleted       = "node.deleted"
	EventConnectionCreated = "connection.created"
	EventConnectionDeleted = "connection.deleted"
)

var (
	// ErrNodeNotFound is returned when a node id is unknown.
	ErrNodeNotFound = errors.New("node not found")
	// ErrConnectionNotFound is returned when disconnecting an edge that does
	// not exist.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrDuplicateID is returned when creating a node with an id already in use.
	ErrDuplicateID = errors.New("node id already exists")
	// ErrNoEmbedder is returned by embedding operations when no embedding
	// client is configured.
	ErrNoEmbedder = errors.New("no embedding client configured")
	// ErrNilBus is returned by New when no event bus is provided.
	ErrNilBus = errors.New("event bus is required")
)

// Config holds fabric tuning knobs. The zero value is usable; DefaultConfig
// fills in the stock settings.
type Config struct {
	// Source names this fabric in the events it publishes.
	Source string
	// EmbeddingBatchSize bounds how many pending nodes the embedding worker
	// drains per batch.
	EmbeddingBatchSize int
	// EmbeddingIdleWait is how long the worker sleeps when nothing is pending.
	EmbeddingIdleWait time.Duration
	// EmbeddingBackoff is how long the worker backs off after a failed batch.
	EmbeddingBackoff time.Duration
}

// DefaultConfig returns the stock fabric configuration.
func DefaultConfig() *Config {
	return &Config{
		Source:             "fabric",
		EmbeddingBatchSize: 16,
		EmbeddingIdleWait:  time.Second,
		EmbeddingBackoff:   5 * time.Second,
	}
}

// Stats summarizes the fabric's contents.
type Stats struct {
	NodeCount         int            `json:"node_count" yaml:"node_count"`
	ConnectionCount   int            `json:"connection_count" yaml:"connection_count"`
	QueryCount        int64          `json:"query_count" yaml:"query_count"`
	NodeTypes         map[string]int `json:"node_types" yaml:"node_types"`
	PendingEmbeddings int            `json:"pending_embeddings" yaml:"pending_embeddings"`
}

type busSubscription struct {
	eventType string
	id        string
}

// Fabric is the in-memory node/edge/vector store. All reads and writes to the
// node table and both indices go through a single RWMutex: caller goroutines,
// event bus workers (whose handlers call back into the fabric), and the
// embedding worker all contend on it, which keeps the derived indices exactly
// in sync with the node table at every observable point.
type Fabric struct {
	cfg      Config
	logger   *slog.Logger
	bus      *bus.Bus
	embedder embedder.Client
	index    vectorindex.Index

	mu        sync.RWMutex
	nodes     map[string]*types.Node
	typeIndex map[string]map[string]struct{}
	// propIndex: property name -> scalar value -> set of node ids.
	propIndex map[string]map[types.ScalarKey]map[string]struct{}

	pendMu  sync.Mutex
	pending map[string]struct{}

	queryCount atomic.Int64

	subscriptions []busSubscription
	stopCh        chan struct{}
	workerDone    chan struct{}
	closed        atomic.Bool
}

// New creates a fabric bound to an event bus. The embedding client and the
// external vector index are both optional: without an embedding client the
// embedding pipeline is disabled, and without an index semantic search scans
// in memory. The bus should already be started.
func New(eventBus *bus.Bus, embedderClient embedder.Client, index vectorindex.Index, cfg *Config, logger *slog.Logger) (*Fabric, error) {
	if eventBus == nil {
		return nil, ErrNilBus
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Source == "" {
		cfg.Source = "fabric"
	}
	if cfg.EmbeddingBatchSize <= 0 {
		cfg.EmbeddingBatchSize = 16
	}
	if cfg.EmbeddingIdleWait <= 0 {
		cfg.EmbeddingIdleWait = time.Second
	}
	if cfg.EmbeddingBackoff <= 0 {
		cfg.EmbeddingBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Fabric{
		cfg:        *cfg,
		logger:     logger,
		bus:        eventBus,
		embedder:   embedderClient,
		index:      index,
		nodes:      map[string]*types.Node{},
		typeIndex:  map[string]map[string]struct{}{},
		propIndex:  map[string]map[types.ScalarKey]map[string]struct{}{},
		pending:    map[string]struct{}{},
		stopCh:     make(chan struct{}),
		workerDone: make(chan struct{}),
	}

	if f.embedder != nil {
		f.enableAutoEmbedding()
	} else {
		close(f.workerDone)
	}

	f.logger.Info("fabric initialized", "auto_embedding", f.embedder != nil)
	return f, nil
}

// enableAutoEmbedding subscribes to node change events and starts the
// background embedding worker. Handlers re-enqueue the node named in the
// payload; the set dedupes, so redelivered events are harmless.
func (f *Fabric) enableAutoEmbedding() {
	handler := func(event bus.Event) error {
		nodeID, _ := event.Payload["node_id"].(string)
		if nodeID == "" {
			return nil
		}
		if generate, ok := event.Payload["generate_embedding"].(bool); ok && !generate {
			return nil
		}
		f.mu.RLock()
		_, exists := f.nodes[nodeID]
		f.mu.RUnlock()
		if exists {
			f.enqueuePending(nodeID)
		}
		return nil
	}
	for _, eventType := range []string{EventNodeCreated, EventNodeUpdated} {
		id := f.bus.Subscribe(eventType, handler)
		f.subscriptions = append(f.subscriptions, busSubscription{eventType: eventType, id: id})
	}

	utils.SafeGo(f.embeddingWorker, func(err error) {
		f.logger.Error("embedding worker terminated", "error", err)
	})
}

// Close stops the embedding worker and removes the fabric's bus
// subscriptions. It does not close the injected embedding client, the vector
// index, or the bus; those are externally owned.
func (f *Fabric) Close(ctx context.Context) error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, sub := range f.subscriptions {
		f.bus.Unsubscribe(sub.eventType, sub.id)
	}
	close(f.stopCh)
	select {
	case <-f.workerDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	f.logger.Info("fabric closed")
	return nil
}

// CreateNode allocates an id, creates the node, indexes it, queues it for
// embedding, and publishes a node.created event. Returns the new node id.
func (f *Fabric) CreateNode(nodeType string, properties types.Properties) (string, error) {
	return f.CreateNodeWithID(uuid.NewString(), nodeType, properties, true)
}

// CreateNodeWithID is CreateNode with a caller-supplied id and an explicit
// embedding toggle. Ids must be unique for the store's lifetime.
func (f *Fabric) CreateNodeWithID(id, nodeType string, properties types.Properties, generateEmbedding bool) (string, error) {
	node := types.NewNode(id, nodeType, properties)
	if err := node.Validate(); err != nil {
		return "", err
	}

	f.mu.Lock()
	if _, exists := f.nodes[id]; exists {
		f.mu.Unlock()
		return "", ErrDuplicateID
	}
	f.nodes[id] = node
	f.indexNodeLocked(node)
	f.mu.Unlock()

	if generateEmbedding && f.embedder != nil {
		f.enqueuePending(id)
	}

	f.publish(EventNodeCreated, map[string]any{
		"node_id":            id,
		"node_type":          nodeType,
		"generate_embedding": generateEmbedding,
	})

	f.logger.Debug("created node", "node_id", id, "node_type", nodeType)
	return id, nil
}

// GetNode returns a snapshot of the node, or ErrNodeNotFound.
func (f *Fabric) GetNode(id string) (*types.Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	node, ok := f.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return node.Clone(), nil
}

// UpdateNode merges properties into an existing node, keeping the property
// index consistent for every changed scalar value, then re-queues the node
// for embedding and publishes node.updated.
func (f *Fabric) UpdateNode(id string, properties types.Properties) error {
	f.mu.Lock()
	node, ok := f.nodes[id]
	if !ok {
		f.mu.Unlock()
		return ErrNodeNotFound
	}

	// Drop stale index entries before the merge overwrites them.
	for name := range properties {
		if oldValue, ok := node.Properties[name]; ok {
			f.unindexPropertyLocked(name, oldValue, id)
		}
	}
	node.UpdateProperties(properties)
	for name, value := range properties {
		f.indexPropertyLocked(name, value, id)
	}
	nodeType := node.Type
	f.mu.Unlock()

	if f.embedder != nil {
		f.enqueuePending(id)
	}

	f.publish(EventNodeUpdated, map[string]any{
		"node_id":   id,
		"node_type": nodeType,
	})

	f.logger.Debug("updated node", "node_id", id)
	return nil
}

// DeleteNode removes the node from the primary table, both indices, and the
// pending-embedding set, then publishes node.deleted.
//
// Deletion does not cascade to adjacency held by other nodes: an edge whose
// target was deleted becomes a tombstoned lookup that traversal skips.
func (f *Fabric) DeleteNode(id string) error {
	f.mu.Lock()
	node, ok := f.nodes[id]
	if !ok {
		f.mu.Unlock()
		return ErrNodeNotFound
	}
	f.unindexNodeLocked(node)
	delete(f.nodes, id)
	f.mu.Unlock()

	f.pendMu.Lock()
	delete(f.pending, id)
	f.pendMu.Unlock()

	if f.index != nil {
		if err := f.index.Delete(context.Background(), id); err != nil {
			f.logger.Error("failed to delete vector from index", "node_id", id, "error", err)
		}
	}

	f.publish(EventNodeDeleted, map[string]any{
		"node_id":   id,
		"node_type": node.Type,
	})

	f.logger.Debug("deleted node", "node_id", id)
	return nil
}

// GetStats returns aggregate statistics about the fabric.
func (f *Fabric) GetStats() Stats {
	f.mu.RLock()
	stats := Stats{
		NodeCount:  len(f.nodes),
		QueryCount: f.queryCount.Load(),
		NodeTypes:  make(map[string]int, len(f.typeIndex)),
	}
	for nodeType, ids := range f.typeIndex {
		stats.NodeTypes[nodeType] = len(ids)
	}
	for _, node := range f.nodes {
		stats.ConnectionCount += node.ConnectionCount()
	}
	f.mu.RUnlock()

	stats.PendingEmbeddings = f.PendingEmbeddings()
	return stats
}

// publish sends a fabric event. Mutations have already been applied by the
// time the event is published, so a rejected publish (queue full, bus not
// running) is logged and swallowed rather than failing the mutation.
func (f *Fabric) publish(eventType string, payload map[string]any) {
	if _, err := f.bus.PublishType(eventType, payload, f.cfg.Source); err != nil {
		f.logger.Error("failed to publish fabric event", "event_type", eventType, "error", err)
	}
}

// indexNodeLocked adds a node to the type index and the property index.
// Caller holds f.mu.
func (f *Fabric) indexNodeLocked(node *types.Node) {
	ids, ok := f.typeIndex[node.Type]
	if !ok {
		ids = map[string]struct{}{}
		f.typeIndex[node.Type] = ids
	}
	ids[node.ID] = struct{}{}

	for name, value := range node.Properties {
		f.indexPropertyLocked(name, value, node.ID)
	}
}

// unindexNodeLocked removes a node from the type index and the property
// index, pruning emptied buckets. Caller holds f.mu.
func (f *Fabric) unindexNodeLocked(node *types.Node) {
	if ids, ok := f.typeIndex[node.Type]; ok {
		delete(ids, node.ID)
		if len(ids) == 0 {
			delete(f.typeIndex, node.Type)
		}
	}
	for name, value := range node.Properties {
		f.unindexPropertyLocked(name, value, node.ID)
	}
}

// indexPropertyLocked indexes one property value for a node. Structured
// values are not indexed. Caller holds f.mu.
func (f *Fabric) indexPropertyLocked(name string, value types.Value, nodeID string) {
	key, ok := value.ScalarKey()
	if !ok {
		return
	}
	buckets, ok := f.propIndex[name]
	if !ok {
		buckets = map[types.ScalarKey]map[string]struct{}{}
		f.propIndex[name] = buckets
	}
	ids, ok := buckets[key]
	if !ok {
		ids = map[string]struct{}{}
		buckets[key] = ids
	}
	ids[nodeID] = struct{}{}
}

// unindexPropertyLocked removes one property index entry, pruning emptied
// buckets. Caller holds f.mu.
func (f *Fabric) unindexPropertyLocked(name string, value types.Value, nodeID string) {
	key, ok := value.ScalarKey()
	if !ok {
		return
	}
	buckets, ok := f.propIndex[name]
	if !ok {
		return
	}
	ids, ok := buckets[key]
	if !ok {
		return
	}
	delete(ids, nodeID)
	if len(ids) == 0 {
		delete(buckets, key)
	}
	if len(buckets) == 0 {
		delete(f.propIndex, name)
	}
}
