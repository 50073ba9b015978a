package bus

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neuroerp/fabric/pkg/utils"
)

var (
	// ErrQueueFull is returned by Publish when the event queue is at capacity.
	// Publish never blocks; the caller owns the rejection.
	ErrQueueFull = errors.New("event queue full")
	// ErrNotRunning is returned by Publish when the bus has not been started
	// or is shutting down.
	ErrNotRunning = errors.New("event bus is not running")
)

// Handler processes a delivered event. A non-nil error (or a panic, which is
// recovered and converted) counts as a failed delivery and may trigger a
// whole-event retry.
type Handler func(Event) error

// Config holds the bus runtime settings.
type Config struct {
	// QueueSize bounds the event queue. Publish fails fast when it is full.
	QueueSize int
	// Workers is the number of goroutines pulling from the queue.
	Workers int
	// RetryAttempts is the maximum number of republications per (event,
	// handler) failure. A handler failing on every delivery runs
	// RetryAttempts+1 times in total.
	RetryAttempts int
}

// DefaultConfig mirrors the stock runtime configuration.
func DefaultConfig() Config {
	return Config{QueueSize: 1000, Workers: 4, RetryAttempts: 3}
}

type subscription struct {
	id      string
	handler Handler
}

// Bus is a bounded-queue publish/subscribe event bus with a fixed worker
// pool. See the package documentation for the delivery contract.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	queue chan Event

	subMu     sync.RWMutex
	subs      map[string][]subscription
	wildcards []subscription

	failMu   sync.Mutex
	failures map[string]map[string]int // event id -> subscription id -> count

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// pending counts events accepted but not yet fully processed.
	pending atomic.Int64
}

// New creates a bus. It must be started with Start before publishing.
func New(cfg Config, logger *slog.Logger) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan Event, cfg.QueueSize),
		subs:     map[string][]subscription{},
		failures: map[string]map[string]int{},
	}
}

// Start launches the worker pool. Starting a running bus is a no-op.
func (b *Bus) Start() {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	b.stopCh = make(chan struct{})
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.logger.Info("event bus started", "workers", b.cfg.Workers, "queue_size", b.cfg.QueueSize)
}

// Stop shuts the bus down. New publishes are rejected immediately. When wait
// is true, Stop first waits (up to timeout) for the queue to drain, then
// joins the workers, again up to timeout. A timeout of 0 waits indefinitely.
func (b *Bus) Stop(wait bool, timeout time.Duration) {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	if wait {
		b.waitPending(timeout)
	}
	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			b.logger.Warn("event bus stop timed out joining workers")
		}
	} else {
		<-done
	}
	b.logger.Info("event bus stopped")
}

// Subscribe registers a handler for an event type, or for every event when
// eventType is "*". It returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	sub := subscription{id: uuid.NewString(), handler: handler}
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if eventType == "*" {
		b.wildcards = append(b.wildcards, sub)
	} else {
		b.subs[eventType] = append(b.subs[eventType], sub)
	}
	b.logger.Debug("subscriber added", "event_type", eventType, "subscription_id", sub.id)
	return sub.id
}

// Unsubscribe removes a subscription previously returned by Subscribe.
func (b *Bus) Unsubscribe(eventType, subscriptionID string) bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if eventType == "*" {
		for i, sub := range b.wildcards {
			if sub.id == subscriptionID {
				b.wildcards = append(b.wildcards[:i], b.wildcards[i+1:]...)
				return true
			}
		}
		return false
	}
	list := b.subs[eventType]
	for i, sub := range list {
		if sub.id == subscriptionID {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(b.subs, eventType)
			} else {
				b.subs[eventType] = list
			}
			return true
		}
	}
	return false
}

// Publish enqueues an event for asynchronous delivery and returns its id.
// It never blocks: a full queue yields ErrQueueFull.
func (b *Bus) Publish(event Event) (string, error) {
	if !b.running.Load() {
		return "", ErrNotRunning
	}
	b.pending.Add(1)
	select {
	case b.queue <- event:
		b.logger.Debug("event published", "event_id", event.ID, "event_type", event.Type)
		return event.ID, nil
	default:
		b.pending.Add(-1)
		b.logger.Error("event queue full, discarding event", "event_type", event.Type)
		return "", ErrQueueFull
	}
}

// PublishType builds an event from a type string and payload and publishes it.
func (b *Bus) PublishType(eventType string, payload map[string]any, source string) (string, error) {
	return b.Publish(NewEvent(eventType, payload, source))
}

// GetQueueSize returns the number of events waiting in the queue.
func (b *Bus) GetQueueSize() int {
	return len(b.queue)
}

// GetSubscriberCount returns the number of subscriptions for an event type.
// "*" counts wildcard subscriptions; "" counts everything.
func (b *Bus) GetSubscriberCount(eventType string) int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	switch eventType {
	case "":
		total := len(b.wildcards)
		for _, list := range b.subs {
			total += len(list)
		}
		return total
	case "*":
		return len(b.wildcards)
	default:
		return len(b.subs[eventType])
	}
}

// ClearErrorTracking drops failure counts for one event, or for all events
// when eventID is "".
func (b *Bus) ClearErrorTracking(eventID string) {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	if eventID == "" {
		b.failures = map[string]map[string]int{}
		return
	}
	delete(b.failures, eventID)
}

// WaitUntilEmpty blocks until every accepted event has been fully processed,
// including retries. A timeout of 0 waits indefinitely. Returns false if the
// timeout elapsed first.
func (b *Bus) WaitUntilEmpty(timeout time.Duration) bool {
	return b.waitPending(timeout)
}

func (b *Bus) waitPending(timeout time.Duration) bool {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for b.pending.Load() > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case event := <-b.queue:
			b.dispatch(event)
			b.pending.Add(-1)
		}
	}
}

// dispatch delivers one event to every matching handler. Type-specific
// handlers run before wildcard handlers. Failures are tallied per (event,
// handler); if any failure is still under the retry budget the whole event is
// republished once, after all handlers have run.
func (b *Bus) dispatch(event Event) {
	b.subMu.RLock()
	exact := append([]subscription(nil), b.subs[event.Type]...)
	wild := append([]subscription(nil), b.wildcards...)
	b.subMu.RUnlock()

	if len(exact) == 0 && len(wild) == 0 {
		b.logger.Warn("no handlers for event", "event_type", event.Type, "event_id", event.ID)
		return
	}

	retry := false
	for _, sub := range exact {
		if b.deliver(sub, event) {
			retry = true
		}
	}
	for _, sub := range wild {
		if b.deliver(sub, event) {
			retry = true
		}
	}

	if retry {
		if _, err := b.Publish(event); err != nil {
			b.logger.Error("failed to republish event for retry",
				"event_id", event.ID, "error", err)
		}
	}
}

// deliver invokes one handler and reports whether its failure should trigger
// a retry of the event.
func (b *Bus) deliver(sub subscription, event Event) bool {
	err := b.invoke(sub, event)
	if err == nil {
		return false
	}
	b.logger.Error("error in event handler",
		"event_type", event.Type, "event_id", event.ID,
		"subscription_id", sub.id, "error", err)

	count := b.recordFailure(event.ID, sub.id)
	if count <= b.cfg.RetryAttempts {
		b.logger.Info("scheduling event retry",
			"event_id", event.ID, "subscription_id", sub.id,
			"attempt", count, "max_attempts", b.cfg.RetryAttempts)
		return true
	}
	b.logger.Warn("handler retries exhausted, dropping",
		"event_id", event.ID, "subscription_id", sub.id)
	return false
}

func (b *Bus) invoke(sub subscription, event Event) (err error) {
	defer utils.RecoverAsError(&err)
	return sub.handler(event)
}

func (b *Bus) recordFailure(eventID, subscriptionID string) int {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	byHandler, ok := b.failures[eventID]
	if !ok {
		byHandler = map[string]int{}
		b.failures[eventID] = byHandler
	}
	byHandler[subscriptionID]++
	return byHandler[subscriptionID]
}
