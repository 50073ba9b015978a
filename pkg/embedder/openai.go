package embedder

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "text-embedding-3-small"
	// DefaultBatchSize bounds the number of inputs per API request.
	DefaultBatchSize = 100
)

// OpenAIEmbedder implements the Client interface using OpenAI's embeddings
// API. Supports OpenAI-compatible services through custom BaseURL
// configuration.
type OpenAIEmbedder struct {
	client *openai.Client
	config Config
}

// NewOpenAIEmbedder creates a new OpenAI embedding client.
func NewOpenAIEmbedder(apiKey string, config Config) *OpenAIEmbedder {
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	var client *openai.Client
	if config.BaseURL != "" {
		// Some OpenAI-compatible services don't require authentication
		if apiKey == "" {
			apiKey = "dummy-key"
		}
		clientConfig := openai.DefaultConfig(apiKey)
		clientConfig.BaseURL = config.BaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(apiKey)
	}

	return &OpenAIEmbedder{
		client: client,
		config: config,
	}
}

// Embed generates embeddings for the given texts, batching requests per the
// configured batch size.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(e.config.Model),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedding request failed: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), end-start)
		}

		for _, item := range resp.Data {
			embeddings = append(embeddings, item.Embedding)
		}
	}

	return embeddings, nil
}

// EmbedSingle generates an embedding for a single text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, ErrNoEmbeddings
	}
	return embeddings[0], nil
}

// Dimensions returns the number of dimensions in the embeddings.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Close cleans up any resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
