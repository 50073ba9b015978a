package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/neuroerp/fabric/pkg/alert"
	"github.com/neuroerp/fabric/pkg/config"
	"github.com/neuroerp/fabric/pkg/utils"
)

// CircuitBreakerClient wraps a Client with circuit breaking logic. The
// embedding worker has no timeout on provider calls, so a provider that
// starts failing would otherwise be retried forever; the breaker makes those
// retries fail fast until the provider recovers.
type CircuitBreakerClient struct {
	client  Client
	cb      *gobreaker.CircuitBreaker
	name    string
	alerter alert.Alerter
}

// NewCircuitBreakerClient creates a new circuit breaker client
func NewCircuitBreakerClient(client Client, cfg config.CircuitBreakerConfig, logger *slog.Logger, name string) *CircuitBreakerClient {
	if logger == nil {
		logger = slog.Default()
	}

	c := &CircuitBreakerClient{
		client:  client,
		name:    name,
		alerter: &alert.NoOpAlerter{},
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				// SMTP is slow; never block the breaker callback on it.
				utils.SafeGo(func() {
					err := c.alerter.Alert(
						fmt.Sprintf("embedding circuit breaker %s opened", name),
						fmt.Sprintf("The %s embedding provider tripped its circuit breaker at %s. "+
							"Pending embeddings will be retried once the provider recovers.",
							name, time.Now().UTC().Format(time.RFC3339)),
					)
					if err != nil {
						logger.Error("failed to send circuit breaker alert", "error", err)
					}
				}, nil)
			}
		},
	}

	c.cb = gobreaker.NewCircuitBreaker(st)
	return c
}

// SetAlerter routes open-circuit notifications to the given alerter.
func (c *CircuitBreakerClient) SetAlerter(alerter alert.Alerter) {
	if alerter != nil {
		c.alerter = alerter
	}
}

// Embed implements Client
func (c *CircuitBreakerClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.Embed(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return resp.([][]float32), nil
}

// EmbedSingle implements Client
func (c *CircuitBreakerClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.EmbedSingle(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return resp.([]float32), nil
}

// Dimensions implements Client
func (c *CircuitBreakerClient) Dimensions() int {
	return c.client.Dimensions()
}

// Close implements Client
func (c *CircuitBreakerClient) Close() error {
	return c.client.Close()
}
