package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInvalidationBusRoundTrip(t *testing.T) {
	client, _ := newTestRedis(t)
	loader := &countingLoader{perms: map[int64][]string{5: {PermTasksRead}}}
	cache := NewMemoryPermissionCache(loader, DefaultCacheConfig(), nil)
	bus := NewInvalidationBus(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, cache)
	}()

	// Give the subscription a moment to establish.
	time.Sleep(50 * time.Millisecond)

	if _, err := cache.Resolve(ctx, 5); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := loader.callCount(); got != 1 {
		t.Fatalf("Expected 1 store read, got %d", got)
	}

	if err := bus.PublishRole(ctx, 5); err != nil {
		t.Fatalf("PublishRole failed: %v", err)
	}

	// The subscriber applies the invalidation asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the invalidation to apply")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := cache.Resolve(ctx, 5); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := loader.callCount(); got != 2 {
		t.Errorf("Expected a fresh store read after the broadcast, got %d", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Subscribe returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Subscriber did not stop on cancellation")
	}
}

func TestInvalidationBusBroadcastAll(t *testing.T) {
	client, _ := newTestRedis(t)
	loader := &countingLoader{perms: map[int64][]string{1: {PermTasksRead}, 2: {PermTasksCreate}}}
	cache := NewMemoryPermissionCache(loader, DefaultCacheConfig(), nil)
	bus := NewInvalidationBus(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bus.Subscribe(ctx, cache)
	time.Sleep(50 * time.Millisecond)

	for _, id := range []int64{1, 2} {
		if _, err := cache.Resolve(ctx, id); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}

	if err := bus.PublishAll(ctx); err != nil {
		t.Fatalf("PublishAll failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the flush to apply")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInvalidationBusIgnoresMalformedPayload(t *testing.T) {
	client, _ := newTestRedis(t)
	loader := &countingLoader{perms: map[int64][]string{1: {PermTasksRead}}}
	cache := NewMemoryPermissionCache(loader, DefaultCacheConfig(), nil)
	bus := NewInvalidationBus(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bus.Subscribe(ctx, cache)
	time.Sleep(50 * time.Millisecond)

	if _, err := cache.Resolve(ctx, 1); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if err := client.Publish(ctx, InvalidationChannel, "not-a-role-id").Err(); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// A garbage payload must not flush anything.
	time.Sleep(100 * time.Millisecond)
	if cache.Len() != 1 {
		t.Errorf("Expected the cache to keep its entry, got %d entries", cache.Len())
	}
}
