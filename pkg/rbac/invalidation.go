package rbac

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// InvalidationChannel carries grant invalidations between instances.
const InvalidationChannel = "taskhive:perm-invalidations"

// invalidateAllPayload broadcasts a full cache flush.
const invalidateAllPayload = "*"

// InvalidationBus fans grant invalidations out to every running instance
// over Redis pub/sub. Writers publish after their transaction commits;
// each instance's subscriber drops the affected entries from its local
// cache. Instances sharing a Redis cache do not strictly need it, but
// per-process memory caches do.
type InvalidationBus struct {
	client *redis.Client
	log    *logrus.Logger
}

// NewInvalidationBus creates a bus on client. Logger may be nil.
func NewInvalidationBus(client *redis.Client, log *logrus.Logger) *InvalidationBus {
	if log == nil {
		log = logrus.New()
	}
	return &InvalidationBus{client: client, log: log}
}

// PublishRole broadcasts an invalidation for one role.
func (b *InvalidationBus) PublishRole(ctx context.Context, roleID int64) error {
	payload := strconv.FormatInt(roleID, 10)
	if err := b.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for role %d: %w", roleID, err)
	}
	return nil
}

// PublishAll broadcasts a full cache flush.
func (b *InvalidationBus) PublishAll(ctx context.Context) error {
	if err := b.client.Publish(ctx, InvalidationChannel, invalidateAllPayload).Err(); err != nil {
		return fmt.Errorf("failed to publish full invalidation: %w", err)
	}
	return nil
}

// Subscribe applies incoming invalidations to cache until ctx ends.
// Malformed payloads are logged and skipped. Run it on a supervised
// goroutine; it blocks.
func (b *InvalidationBus) Subscribe(ctx context.Context, cache PermissionCache) error {
	pubsub := b.client.Subscribe(ctx, InvalidationChannel)
	defer pubsub.Close()

	// Confirm the subscription before consuming, so a caller that waits
	// on readiness cannot miss an early broadcast.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", InvalidationChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.apply(ctx, cache, msg.Payload)
		}
	}
}

func (b *InvalidationBus) apply(ctx context.Context, cache PermissionCache, payload string) {
	if payload == invalidateAllPayload {
		if err := cache.InvalidateAll(ctx); err != nil {
			b.log.Warnf("Failed to apply full invalidation: %v", err)
		}
		return
	}

	roleID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		b.log.Warnf("Ignoring malformed invalidation payload %q", payload)
		return
	}

	if err := cache.Invalidate(ctx, roleID); err != nil {
		b.log.Warnf("Failed to apply invalidation for role %d: %v", roleID, err)
	}
}
