package embedder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroerp/fabric/pkg/config"
	"github.com/neuroerp/fabric/pkg/embedder"
)

func TestNewOpenAIEmbedder(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		config embedder.Config
	}{
		{
			name:   "valid API key",
			apiKey: "test-api-key",
			config: embedder.Config{Model: "text-embedding-3-small"},
		},
		{
			name:   "empty API key",
			apiKey: "",
			config: embedder.Config{Model: "text-embedding-3-small"},
		},
		{
			name:   "custom base URL without key",
			apiKey: "",
			config: embedder.Config{Model: "text-embedding-3-small", BaseURL: "https://api.example.com"},
		},
		{
			name:   "empty config uses defaults",
			apiKey: "test-api-key",
			config: embedder.Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := embedder.NewOpenAIEmbedder(tt.apiKey, tt.config)
			assert.NotNil(t, client)
			assert.NoError(t, client.Close())
		})
	}
}

func TestEmbedderInterface(t *testing.T) {
	var _ embedder.Client = (*embedder.OpenAIEmbedder)(nil)
	var _ embedder.Client = (*embedder.CircuitBreakerClient)(nil)
}

func TestOpenAIEmbedEmptyInput(t *testing.T) {
	client := embedder.NewOpenAIEmbedder("test-key", embedder.Config{})
	got, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// fakeClient is a scriptable embedder for exercising the wrappers.
type fakeClient struct {
	err   error
	dims  int
	calls int
}

func (f *fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeClient) Dimensions() int { return f.dims }
func (f *fakeClient) Close() error    { return nil }

func TestCircuitBreakerPassThrough(t *testing.T) {
	fake := &fakeClient{dims: 4}
	client := embedder.NewCircuitBreakerClient(fake, config.CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         60,
		Timeout:          60,
		ReadyToTripRatio: 0.6,
	}, nil, "test")

	vecs, err := client.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)

	vec, err := client.EmbedSingle(context.Background(), "c")
	require.NoError(t, err)
	assert.Len(t, vec, 4)

	assert.Equal(t, 4, client.Dimensions())
	assert.NoError(t, client.Close())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	boom := errors.New("provider down")
	fake := &fakeClient{dims: 4, err: boom}
	client := embedder.NewCircuitBreakerClient(fake, config.CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         60,
		Timeout:          60,
		ReadyToTripRatio: 0.6,
	}, nil, "test")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.Embed(ctx, []string{"x"})
		assert.ErrorIs(t, err, boom)
	}

	// The breaker is now open; the provider is no longer hit.
	callsBefore := fake.calls
	_, err := client.Embed(ctx, []string{"x"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, boom)
	assert.Equal(t, callsBefore, fake.calls)
}

type recordingAlerter struct {
	alerts chan string
}

func (r *recordingAlerter) Alert(subject, message string) error {
	r.alerts <- subject
	return nil
}

func TestCircuitBreakerAlertsOnOpen(t *testing.T) {
	fake := &fakeClient{dims: 4, err: errors.New("provider down")}
	client := embedder.NewCircuitBreakerClient(fake, config.CircuitBreakerConfig{
		MaxRequests:      1,
		Interval:         60,
		Timeout:          60,
		ReadyToTripRatio: 0.6,
	}, nil, "test")

	alerter := &recordingAlerter{alerts: make(chan string, 1)}
	client.SetAlerter(alerter)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = client.Embed(ctx, []string{"x"})
	}

	select {
	case subject := <-alerter.alerts:
		assert.Contains(t, subject, "opened")
	case <-time.After(2 * time.Second):
		t.Fatal("no alert was sent when the breaker opened")
	}
}
