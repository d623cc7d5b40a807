package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fincon/internal/amqp"
	"fincon/internal/cache"
)

type fakeBus struct {
	mu        sync.Mutex
	published []*amqp.InvalidationMessage
	err       error
	incoming  []*amqp.InvalidationMessage
}

func (b *fakeBus) PublishInvalidation(_ context.Context, msg *amqp.InvalidationMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return b.err
}

func (b *fakeBus) ConsumeInvalidations(ctx context.Context, handler func(context.Context, *amqp.InvalidationMessage) error) error {
	for _, m := range b.incoming {
		if err := handler(ctx, m); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func syncWorker(bus Bus, qc *cache.QueryCache, origin string) *InvalidationWorker {
	w := NewInvalidationWorker(bus, qc, origin, nil)
	w.publish = func(fn func()) { fn() }
	return w
}

func TestBroadcastStampsOrigin(t *testing.T) {
	bus := &fakeBus{}
	w := syncWorker(bus, cache.NewQueryCache(10, time.Minute, nil), "web-1")

	w.Broadcast(cache.Invalidation{Scope: "u:1", Kinds: []cache.Kind{cache.KindSummary}})
	w.Broadcast(cache.Invalidation{Scope: "u:1"})

	if len(bus.published) != 1 || bus.published[0].Origin != "web-1" {
		t.Fatalf("published = %+v", bus.published)
	}
}

func TestBroadcastFailureIsSwallowed(t *testing.T) {
	bus := &fakeBus{err: errors.New("circuit breaker is open")}
	w := syncWorker(bus, cache.NewQueryCache(10, time.Minute, nil), "web-1")
	w.Broadcast(cache.Invalidation{Scope: "u:1", Kinds: []cache.Kind{cache.KindGoals}})
	if len(bus.published) != 1 {
		t.Fatal("publish not attempted")
	}
}

func TestRemoteInvalidationApplied(t *testing.T) {
	qc := cache.NewQueryCache(10, time.Hour, nil)
	key := cache.Key{Scope: "u:1", Kind: cache.KindGoals}
	qc.Set(key, "cached")

	var relayed int
	qc.OnInvalidate(func(cache.Invalidation) { relayed++ })

	bus := &fakeBus{incoming: []*amqp.InvalidationMessage{
		{Origin: "web-1", Scope: "u:1", Keys: []cache.Key{key}},
		{Origin: "web-2", Scope: "u:1", Keys: []cache.Key{key}},
	}}
	w := syncWorker(bus, qc, "web-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if qc.Stats().Entries != 0 {
		t.Fatal("remote invalidation not applied")
	}
	if relayed != 0 {
		t.Fatal("remote invalidation must not be re-broadcast")
	}
}

func TestOwnMessagesSkipped(t *testing.T) {
	qc := cache.NewQueryCache(10, time.Hour, nil)
	key := cache.Key{Scope: "u:1", Kind: cache.KindSalary}
	qc.Set(key, 1)

	w := syncWorker(&fakeBus{}, qc, "web-1")
	if err := w.HandleMessage(context.Background(), &amqp.InvalidationMessage{Origin: "web-1", Scope: "u:1", Keys: []cache.Key{key}}); err != nil {
		t.Fatal(err)
	}
	if qc.Stats().Entries != 1 {
		t.Fatal("own message should be ignored")
	}
	if err := w.HandleMessage(context.Background(), &amqp.InvalidationMessage{Origin: "web-2"}); err == nil {
		t.Fatal("expected error for message without scope")
	}
}
