// Package worker connects the local query cache to the invalidation bus.
package worker

import (
	"context"
	"fmt"
	"time"

	"fincon/internal/amqp"
	"fincon/internal/cache"
	"fincon/internal/log"
)

const broadcastTimeout = 5 * time.Second

// Bus is the message transport, implemented by *amqp.Client.
type Bus interface {
	PublishInvalidation(ctx context.Context, msg *amqp.InvalidationMessage) error
	ConsumeInvalidations(ctx context.Context, handler func(context.Context, *amqp.InvalidationMessage) error) error
}

// Applier drops cached entries without re-broadcasting them.
type Applier interface {
	Apply(inv cache.Invalidation)
}

// InvalidationWorker publishes local invalidations and applies remote ones.
type InvalidationWorker struct {
	bus     Bus
	cache   Applier
	origin  string
	logger  *log.Logger
	publish func(func())
}

// NewInvalidationWorker creates a worker identified by origin.
func NewInvalidationWorker(bus Bus, c Applier, origin string, logger *log.Logger) *InvalidationWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &InvalidationWorker{
		bus:     bus,
		cache:   c,
		origin:  origin,
		logger:  logger.WithComponent(log.ComponentWorker),
		publish: func(fn func()) { go fn() },
	}
}

// Broadcast sends a local invalidation to the other instances. It never
// blocks the caller; publish failures are logged.
func (w *InvalidationWorker) Broadcast(inv cache.Invalidation) {
	if inv.Empty() {
		return
	}
	msg := amqp.NewInvalidationMessage(w.origin, inv)
	w.publish(func() {
		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		defer cancel()
		if err := w.bus.PublishInvalidation(ctx, msg); err != nil {
			w.logger.Warn("Failed to broadcast invalidation",
				log.FieldCacheScope, inv.Scope,
				log.FieldError, err)
		}
	})
}

// HandleMessage applies an invalidation from another instance.
func (w *InvalidationWorker) HandleMessage(ctx context.Context, msg *amqp.InvalidationMessage) error {
	if msg.Origin == w.origin {
		return nil
	}
	inv := msg.Invalidation()
	if inv.Scope == "" {
		return fmt.Errorf("invalidation from %s has no scope", msg.Origin)
	}
	w.cache.Apply(inv)
	w.logger.DebugContext(ctx, "Applied remote invalidation",
		"origin", msg.Origin,
		log.FieldCacheScope, inv.Scope,
		"lag_ms", time.Since(msg.Timestamp).Milliseconds())
	return nil
}

// Run consumes invalidations until ctx is cancelled.
func (w *InvalidationWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Invalidation worker started", "origin", w.origin)
	err := w.bus.ConsumeInvalidations(ctx, w.HandleMessage)
	if ctx.Err() != nil {
		w.logger.InfoContext(ctx, "Invalidation worker stopped")
		return nil
	}
	return err
}
