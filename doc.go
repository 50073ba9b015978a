// Package fabric provides an in-memory, self-organizing data store that
// unifies a typed property graph with vector embeddings, driven by a
// publish/subscribe event bus.
//
// Every entity is a Node: a type tag, a property map, optional embedding
// vector, and typed, auto-mirrored edges to other nodes. The store keeps a
// type index and a per-property inverted index for equality queries, and an
// asynchronous embedding pipeline that turns nodes into vectors via an
// injected embedding client.
//
// # Basic Usage
//
//	eventBus := bus.New(bus.DefaultConfig(), logger)
//	eventBus.Start()
//	defer eventBus.Stop(true, 5*time.Second)
//
//	embConfig := embedder.Config{Model: "text-embedding-3-small"}
//	embedderClient := embedder.NewOpenAIEmbedder("your-api-key", embConfig)
//
//	f, err := fabric.New(eventBus, embedderClient, nil, nil, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer f.Close(ctx)
//
//	customer, _ := f.CreateNode("customer", types.Properties{
//		"name": types.StringValue("Acme"),
//	})
//	order, _ := f.CreateNode("order", types.Properties{
//		"total": types.NumberValue(500),
//	})
//	_ = f.ConnectNodes(order, customer, "placed_by")
//
// Mutations publish "node.created", "node.updated", "node.deleted",
// "connection.created", and "connection.deleted" events on the bus;
// collaborators are free to publish and subscribe with their own
// dot-namespaced event types alongside these.
//
// All state is in memory. ExportToFile/ImportFromFile snapshots are the only
// persistence mechanism; there is no durability, replication, or
// transactional isolation.
package fabric
