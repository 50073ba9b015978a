package embedder

import (
	"context"
	"errors"
)

// ErrNoEmbeddings is returned when a provider responds without any vectors.
var ErrNoEmbeddings = errors.New("no embeddings returned")

// Client generates embedding vectors for texts.
type Client interface {
	// Embed generates embeddings for the given texts, one vector per text,
	// in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the number of dimensions in the embeddings, or 0 if
	// unknown.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}

// Config holds common embedder settings.
type Config struct {
	Model      string `json:"model,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}
