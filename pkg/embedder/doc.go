// Package embedder provides text embedding clients for vector representations.
//
// This package defines the Client interface and provides implementations for
// various embedding providers.
//
// # Supported Providers
//
//   - OpenAI: text-embedding-3-small, text-embedding-3-large, text-embedding-ada-002
//   - EmbedEverything: local in-process embedding models
//
// # Usage
//
//	// Create an OpenAI embedder
//	client := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{
//	    Model:     "text-embedding-3-small",
//	    BatchSize: 100,
//	})
//
//	// Embed text
//	embeddings, err := client.Embed(ctx, []string{"hello world"})
//
// # Batch Processing
//
// The Client interface supports batch embedding for efficiency:
//   - Embed(): Embed multiple texts in a single request
//   - EmbedSingle(): Convenience method for single text
//
// Implementations handle batching internally based on provider limits.
//
// The fabric's embedding pipeline calls a Client without any serialization of
// its own, so implementations must be safe for concurrent use (both provided
// implementations are).
package embedder
