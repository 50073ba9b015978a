package fabric_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fabric "github.com/neuroerp/fabric"
	"github.com/neuroerp/fabric/pkg/bus"
	"github.com/neuroerp/fabric/pkg/types"
	"github.com/neuroerp/fabric/pkg/vectorindex"
)

// stubEmbedder returns deterministic vectors and records every call. The
// vector for a text is its length spread over a few dimensions, which is
// enough to make similarity rankings predictable in tests.
type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
	texts []string
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return nil, s.fail
	}
	s.texts = append(s.texts, texts...)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 0}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Close() error    { return nil }

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubEmbedder) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

type fixture struct {
	fabric *fabric.Fabric
	bus    *bus.Bus
}

func newFixture(t *testing.T, embedderClient *stubEmbedder, index vectorindex.Index) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	eventBus := bus.New(bus.DefaultConfig(), logger)
	eventBus.Start()
	t.Cleanup(func() { eventBus.Stop(false, time.Second) })

	cfg := fabric.DefaultConfig()
	cfg.EmbeddingBatchSize = 4
	cfg.EmbeddingIdleWait = 5 * time.Millisecond
	cfg.EmbeddingBackoff = 5 * time.Millisecond

	// Avoid handing New a typed-nil interface value.
	var f *fabric.Fabric
	var err error
	if embedderClient != nil {
		f, err = fabric.New(eventBus, embedderClient, index, cfg, logger)
	} else {
		f, err = fabric.New(eventBus, nil, index, cfg, logger)
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.Close(ctx)
	})

	return &fixture{fabric: f, bus: eventBus}
}

func TestNewRequiresBus(t *testing.T) {
	_, err := fabric.New(nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, fabric.ErrNilBus)
}

func TestCreateAndGetNode(t *testing.T) {
	fx := newFixture(t, nil, nil)

	id, err := fx.fabric.CreateNode("customer", types.Properties{
		"name": types.StringValue("Acme"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	node, err := fx.fabric.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, id, node.ID)
	assert.Equal(t, "customer", node.Type)
	assert.Equal(t, "Acme", node.Properties["name"].Str())
	assert.False(t, node.CreatedAt.IsZero())

	_, err = fx.fabric.GetNode("missing")
	assert.ErrorIs(t, err, fabric.ErrNodeNotFound)
}

func TestCreateNodeWithIDDuplicate(t *testing.T) {
	fx := newFixture(t, nil, nil)

	_, err := fx.fabric.CreateNodeWithID("cust-1", "customer", nil, false)
	require.NoError(t, err)

	_, err = fx.fabric.CreateNodeWithID("cust-1", "customer", nil, false)
	assert.ErrorIs(t, err, fabric.ErrDuplicateID)
}

func TestCreateNodeValidation(t *testing.T) {
	fx := newFixture(t, nil, nil)

	_, err := fx.fabric.CreateNode("", nil)
	assert.ErrorIs(t, err, types.ErrEmptyType)

	_, err = fx.fabric.CreateNodeWithID("", "customer", nil, false)
	assert.ErrorIs(t, err, types.ErrEmptyID)
}

func TestGetNodeReturnsSnapshot(t *testing.T) {
	fx := newFixture(t, nil, nil)

	id, err := fx.fabric.CreateNode("customer", types.Properties{
		"name": types.StringValue("Acme"),
	})
	require.NoError(t, err)

	snapshot, err := fx.fabric.GetNode(id)
	require.NoError(t, err)
	snapshot.Properties["name"] = types.StringValue("mutated")

	fresh, err := fx.fabric.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", fresh.Properties["name"].Str())
}

func TestUpdateNode(t *testing.T) {
	fx := newFixture(t, nil, nil)

	id, err := fx.fabric.CreateNode("customer", types.Properties{
		"name": types.StringValue("Acme"),
		"tier": types.StringValue("gold"),
	})
	require.NoError(t, err)

	require.NoError(t, fx.fabric.UpdateNode(id, types.Properties{
		"tier":   types.StringValue("platinum"),
		"region": types.StringValue("emea"),
	}))

	node, err := fx.fabric.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", node.Properties["name"].Str())
	assert.Equal(t, "platinum", node.Properties["tier"].Str())
	assert.Equal(t, "emea", node.Properties["region"].Str())

	// The property index followed the update.
	assert.Empty(t, fx.fabric.QueryNodes(fabric.QueryOptions{
		Filters: types.Properties{"tier": types.StringValue("gold")},
	}))
	assert.Len(t, fx.fabric.QueryNodes(fabric.QueryOptions{
		Filters: types.Properties{"tier": types.StringValue("platinum")},
	}), 1)

	assert.ErrorIs(t, fx.fabric.UpdateNode("missing", nil), fabric.ErrNodeNotFound)
}

func TestDeleteNode(t *testing.T) {
	fx := newFixture(t, nil, nil)

	id, err := fx.fabric.CreateNode("customer", types.Properties{
		"name": types.StringValue("Acme"),
	})
	require.NoError(t, err)

	require.NoError(t, fx.fabric.DeleteNode(id))

	_, err = fx.fabric.GetNode(id)
	assert.ErrorIs(t, err, fabric.ErrNodeNotFound)
	assert.Empty(t, fx.fabric.QueryNodes(fabric.QueryOptions{Type: "customer"}))
	assert.Empty(t, fx.fabric.QueryNodes(fabric.QueryOptions{
		Filters: types.Properties{"name": types.StringValue("Acme")},
	}))

	assert.ErrorIs(t, fx.fabric.DeleteNode(id), fabric.ErrNodeNotFound)
}

func TestConnectNodesCreatesInverse(t *testing.T) {
	fx := newFixture(t, nil, nil)

	custID, err := fx.fabric.CreateNode("customer", nil)
	require.NoError(t, err)
	orderID, err := fx.fabric.CreateNode("order", nil)
	require.NoError(t, err)

	require.NoError(t, fx.fabric.ConnectNodes(orderID, custID, "placed_by"))

	order, err := fx.fabric.GetNode(orderID)
	require.NoError(t, err)
	assert.True(t, order.HasConnection("placed_by", custID))

	customer, err := fx.fabric.GetNode(custID)
	require.NoError(t, err)
	assert.True(t, customer.HasConnection("placed_by_inverse", orderID))

	assert.ErrorIs(t, fx.fabric.ConnectNodes("missing", custID, "x"), fabric.ErrNodeNotFound)
	assert.ErrorIs(t, fx.fabric.ConnectNodes(custID, "missing", "x"), fabric.ErrNodeNotFound)
}

func TestConnectNodesSelfLoop(t *testing.T) {
	fx := newFixture(t, nil, nil)

	id, err := fx.fabric.CreateNode("task", nil)
	require.NoError(t, err)

	require.NoError(t, fx.fabric.ConnectNodes(id, id, "depends_on"))

	node, err := fx.fabric.GetNode(id)
	require.NoError(t, err)
	assert.True(t, node.HasConnection("depends_on", id))
	// Self-loops do not get a mirrored inverse edge.
	assert.False(t, node.HasConnection("depends_on_inverse", id))
}

func TestDisconnectNodes(t *testing.T) {
	fx := newFixture(t, nil, nil)

	a, err := fx.fabric.CreateNode("a", nil)
	require.NoError(t, err)
	b, err := fx.fabric.CreateNode("b", nil)
	require.NoError(t, err)

	require.NoError(t, fx.fabric.ConnectNodes(a, b, "linked"))
	require.NoError(t, fx.fabric.DisconnectNodes(a, b, "linked"))

	nodeA, err := fx.fabric.GetNode(a)
	require.NoError(t, err)
	assert.False(t, nodeA.HasConnection("linked", b))
	nodeB, err := fx.fabric.GetNode(b)
	require.NoError(t, err)
	assert.False(t, nodeB.HasConnection("linked_inverse", a))

	assert.ErrorIs(t, fx.fabric.DisconnectNodes(a, b, "linked"), fabric.ErrConnectionNotFound)
	assert.ErrorIs(t, fx.fabric.DisconnectNodes("missing", b, "linked"), fabric.ErrNodeNotFound)
}

func TestGetConnectedNodes(t *testing.T) {
	fx := newFixture(t, nil, nil)

	custID, err := fx.fabric.CreateNode("customer", types.Properties{
		"name": types.StringValue("Acme"),
	})
	require.NoError(t, err)
	order1, err := fx.fabric.CreateNode("order", nil)
	require.NoError(t, err)
	order2, err := fx.fabric.CreateNode("order", nil)
	require.NoError(t, err)

	require.NoError(t, fx.fabric.ConnectNodes(custID, order1, "placed"))
	require.NoError(t, fx.fabric.ConnectNodes(custID, order2, "placed"))
	require.NoError(t, fx.fabric.ConnectNodes(custID, order1, "latest"))

	all, err := fx.fabric.GetConnectedNodes(custID, "")
	require.NoError(t, err)
	assert.Len(t, all["placed"], 2)
	assert.Len(t, all["latest"], 1)

	placed, err := fx.fabric.GetConnectedNodes(custID, "placed")
	require.NoError(t, err)
	require.Len(t, placed, 1)
	assert.Len(t, placed["placed"], 2)

	_, err = fx.fabric.GetConnectedNodes("missing", "")
	assert.ErrorIs(t, err, fabric.ErrNodeNotFound)
}

func TestGetConnectedNodesSkipsDeletedTargets(t *testing.T) {
	fx := newFixture(t, nil, nil)

	custID, err := fx.fabric.CreateNode("customer", nil)
	require.NoError(t, err)
	orderID, err := fx.fabric.CreateNode("order", nil)
	require.NoError(t, err)
	require.NoError(t, fx.fabric.ConnectNodes(custID, orderID, "placed"))

	require.NoError(t, fx.fabric.DeleteNode(orderID))

	// The stale edge remains on the customer but traversal skips it.
	customer, err := fx.fabric.GetNode(custID)
	require.NoError(t, err)
	assert.True(t, customer.HasConnection("placed", orderID))

	connected, err := fx.fabric.GetConnectedNodes(custID, "placed")
	require.NoError(t, err)
	assert.Empty(t, connected["placed"])
}

func TestQueryNodes(t *testing.T) {
	fx := newFixture(t, nil, nil)

	for i, name := range []string{"Acme", "Globex", "Initech"} {
		_, err := fx.fabric.CreateNode("customer", types.Properties{
			"name": types.StringValue(name),
			"tier": types.StringValue(map[bool]string{true: "gold", false: "silver"}[i < 2]),
		})
		require.NoError(t, err)
	}
	_, err := fx.fabric.CreateNode("order", types.Properties{
		"tier": types.StringValue("gold"),
	})
	require.NoError(t, err)

	assert.Len(t, fx.fabric.QueryNodes(fabric.QueryOptions{Type: "customer"}), 3)
	assert.Len(t, fx.fabric.QueryNodes(fabric.QueryOptions{}), 4)
	assert.Nil(t, fx.fabric.QueryNodes(fabric.QueryOptions{Type: "unknown"}))

	gold := fx.fabric.QueryNodes(fabric.QueryOptions{
		Type:    "customer",
		Filters: types.Properties{"tier": types.StringValue("gold")},
	})
	assert.Len(t, gold, 2)

	both := fx.fabric.QueryNodes(fabric.QueryOptions{
		Filters: types.Properties{
			"tier": types.StringValue("gold"),
			"name": types.StringValue("Acme"),
		},
	})
	require.Len(t, both, 1)
	assert.Equal(t, "Acme", both[0].Properties["name"].Str())

	assert.Nil(t, fx.fabric.QueryNodes(fabric.QueryOptions{
		Filters: types.Properties{"tier": types.StringValue("bronze")},
	}))
	assert.Nil(t, fx.fabric.QueryNodes(fabric.QueryOptions{
		Filters: types.Properties{"unknown_prop": types.StringValue("x")},
	}))
	// Structured values never match.
	assert.Nil(t, fx.fabric.QueryNodes(fabric.QueryOptions{
		Filters: types.Properties{"tier": types.ListValue(types.StringValue("gold"))},
	}))
}

func TestQueryNodesLimitAndOffset(t *testing.T) {
	fx := newFixture(t, nil, nil)

	for i := 0; i < 10; i++ {
		_, err := fx.fabric.CreateNode("item", nil)
		require.NoError(t, err)
	}

	assert.Len(t, fx.fabric.QueryNodes(fabric.QueryOptions{Type: "item", Limit: 4}), 4)
	assert.Len(t, fx.fabric.QueryNodes(fabric.QueryOptions{Type: "item", Offset: 7}), 3)
	assert.Len(t, fx.fabric.QueryNodes(fabric.QueryOptions{Type: "item", Offset: 20}), 0)
}

func TestGetStats(t *testing.T) {
	fx := newFixture(t, nil, nil)

	custID, err := fx.fabric.CreateNode("customer", nil)
	require.NoError(t, err)
	orderID, err := fx.fabric.CreateNode("order", nil)
	require.NoError(t, err)
	require.NoError(t, fx.fabric.ConnectNodes(orderID, custID, "placed_by"))

	fx.fabric.QueryNodes(fabric.QueryOptions{Type: "customer"})

	stats := fx.fabric.GetStats()
	assert.Equal(t, 2, stats.NodeCount)
	// The forward edge plus its mirrored inverse.
	assert.Equal(t, 2, stats.ConnectionCount)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.Equal(t, map[string]int{"customer": 1, "order": 1}, stats.NodeTypes)
	assert.Equal(t, 0, stats.PendingEmbeddings)
}

func TestSemanticSearchInMemory(t *testing.T) {
	emb := &stubEmbedder{}
	fx := newFixture(t, emb, nil)

	shortID, err := fx.fabric.CreateNode("doc", types.Properties{
		"text": types.StringValue("hi"),
	})
	require.NoError(t, err)
	longID, err := fx.fabric.CreateNode("doc", types.Properties{
		"text": types.StringValue("a much longer piece of text"),
	})
	require.NoError(t, err)

	waitForVector(t, fx.fabric, shortID)
	waitForVector(t, fx.fabric, longID)

	long, err := fx.fabric.GetNode(longID)
	require.NoError(t, err)

	results, err := fx.fabric.SemanticSearch(context.Background(), long.Vector, "", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, longID, results[0].Node.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	// Type filter excludes everything.
	none, err := fx.fabric.SemanticSearch(context.Background(), long.Vector, "unknown", 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSemanticSearchWithExternalIndex(t *testing.T) {
	emb := &stubEmbedder{}
	index := vectorindex.NewMemoryIndex()
	fx := newFixture(t, emb, index)

	id, err := fx.fabric.CreateNode("doc", types.Properties{
		"text": types.StringValue("hello world"),
	})
	require.NoError(t, err)
	waitForVector(t, fx.fabric, id)

	// The worker also upserts into the external index.
	require.Eventually(t, func() bool { return index.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	node, err := fx.fabric.GetNode(id)
	require.NoError(t, err)

	results, err := fx.fabric.SemanticSearch(context.Background(), node.Vector, "doc", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Node.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestTextToVector(t *testing.T) {
	emb := &stubEmbedder{}
	fx := newFixture(t, emb, nil)

	vec, err := fx.fabric.TextToVector(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	noEmb := newFixture(t, nil, nil)
	_, err = noEmb.fabric.TextToVector(context.Background(), "hello")
	assert.ErrorIs(t, err, fabric.ErrNoEmbedder)
}

func TestFabricPublishesEvents(t *testing.T) {
	fx := newFixture(t, nil, nil)

	var mu sync.Mutex
	seen := map[string]int{}
	fx.bus.Subscribe("*", func(e bus.Event) error {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
		return nil
	})

	custID, err := fx.fabric.CreateNode("customer", nil)
	require.NoError(t, err)
	orderID, err := fx.fabric.CreateNode("order", nil)
	require.NoError(t, err)
	require.NoError(t, fx.fabric.ConnectNodes(orderID, custID, "placed_by"))
	require.NoError(t, fx.fabric.UpdateNode(custID, types.Properties{
		"name": types.StringValue("Acme"),
	}))
	require.NoError(t, fx.fabric.DisconnectNodes(orderID, custID, "placed_by"))
	require.NoError(t, fx.fabric.DeleteNode(orderID))

	require.True(t, fx.bus.WaitUntilEmpty(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, seen[fabric.EventNodeCreated])
	assert.Equal(t, 1, seen[fabric.EventNodeUpdated])
	assert.Equal(t, 1, seen[fabric.EventNodeDeleted])
	assert.Equal(t, 1, seen[fabric.EventConnectionCreated])
	assert.Equal(t, 1, seen[fabric.EventConnectionDeleted])
}

func TestCloseIsIdempotent(t *testing.T) {
	fx := newFixture(t, &stubEmbedder{}, nil)

	ctx := context.Background()
	require.NoError(t, fx.fabric.Close(ctx))
	require.NoError(t, fx.fabric.Close(ctx))
}

// waitForVector polls until the node's embedding has been written back.
func waitForVector(t *testing.T, f *fabric.Fabric, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		node, err := f.GetNode(id)
		return err == nil && len(node.Vector) > 0
	}, 2*time.Second, 10*time.Millisecond, "embedding for %s never arrived", id)
}
