package fabric

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neuroerp/fabric/pkg/types"
)

// enqueuePending marks nodes as needing (re-)embedding. The set dedupes, so
// enqueueing an already-pending node is a no-op.
func (f *Fabric) enqueuePending(ids ...string) {
	f.pendMu.Lock()
	for _, id := range ids {
		f.pending[id] = struct{}{}
	}
	f.pendMu.Unlock()
}

// takePending removes and returns up to max pending node ids.
func (f *Fabric) takePending(max int) []string {
	f.pendMu.Lock()
	defer f.pendMu.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	batch := make([]string, 0, max)
	for id := range f.pending {
		batch = append(batch, id)
		delete(f.pending, id)
		if len(batch) >= max {
			break
		}
	}
	return batch
}

// PendingEmbeddings returns the number of nodes queued for embedding.
func (f *Fabric) PendingEmbeddings() int {
	f.pendMu.Lock()
	defer f.pendMu.Unlock()
	return len(f.pending)
}

// embeddingWorker is the dedicated background loop that turns pending nodes
// into vectors. A failed batch is requeued in full and retried after a
// backoff; there is no bounded retry count or dead-letter path, so a node
// whose text permanently breaks the provider keeps cycling. The circuit
// breaker wrapper in pkg/embedder is the intended relief valve for a
// persistently failing provider.
func (f *Fabric) embeddingWorker() {
	defer close(f.workerDone)
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		batch := f.takePending(f.cfg.EmbeddingBatchSize)
		if len(batch) == 0 {
			if !f.sleep(f.cfg.EmbeddingIdleWait) {
				return
			}
			continue
		}

		if err := f.processEmbeddingBatch(context.Background(), batch); err != nil {
			f.logger.Error("failed to generate embeddings", "batch_size", len(batch), "error", err)
			f.enqueuePending(batch...)
			if !f.sleep(f.cfg.EmbeddingBackoff) {
				return
			}
		}
	}
}

// sleep waits for d unless the fabric is closing. Returns false on shutdown.
func (f *Fabric) sleep(d time.Duration) bool {
	select {
	case <-f.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// processEmbeddingBatch embeds one batch of nodes: build a text per live
// node, call the embedding client once for the whole batch, write the
// vectors back, and upsert the external index when configured.
func (f *Fabric) processEmbeddingBatch(ctx context.Context, ids []string) error {
	f.mu.RLock()
	liveIDs := make([]string, 0, len(ids))
	texts := make([]string, 0, len(ids))
	nodeTypes := make([]string, 0, len(ids))
	for _, id := range ids {
		node, ok := f.nodes[id]
		if !ok {
			// Deleted while pending.
			continue
		}
		liveIDs = append(liveIDs, id)
		texts = append(texts, nodeText(node))
		nodeTypes = append(nodeTypes, node.Type)
	}
	f.mu.RUnlock()

	if len(liveIDs) == 0 {
		return nil
	}

	vectors, err := f.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(liveIDs) {
		return fmt.Errorf("embedder returned %d vectors for %d nodes", len(vectors), len(liveIDs))
	}

	f.mu.Lock()
	for i, id := range liveIDs {
		if node, ok := f.nodes[id]; ok {
			node.SetVector(vectors[i])
		}
	}
	f.mu.Unlock()

	if f.index != nil {
		for i, id := range liveIDs {
			err := f.index.Upsert(ctx, id, vectors[i], map[string]any{"node_type": nodeTypes[i]})
			if err != nil {
				return fmt.Errorf("vector index upsert for %s: %w", id, err)
			}
		}
	}

	f.logger.Debug("generated embeddings", "count", len(liveIDs))
	return nil
}

// nodeText flattens a node into the text fed to the embedding client:
// "type: key=value key=value ...". Only scalar properties contribute, in
// sorted key order so a node's text is deterministic.
func nodeText(node *types.Node) string {
	keys := make([]string, 0, len(node.Properties))
	for name, value := range node.Properties {
		if value.Scalar() {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(node.Type)
	b.WriteString(": ")
	for i, name := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(node.Properties[name].String())
	}
	return b.String()
}
