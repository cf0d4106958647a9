// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error collection.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, 30*time.Second, "invalidation fanout", func(ctx context.Context) error {
//		return bus.Publish(ctx, roleID)
//	})
//
// SafeGoDetached: Same, but the task outlives the request that spawned it
//
//	async.SafeGoDetached(r.Context(), 5*time.Second, "token touch", func(ctx context.Context) error {
//		return store.TouchToken(ctx, tokenID)
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, 10, "membership sweep", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return sweepOrganization(ctx, orgID)
//	})
//
// Batch: Concurrent batch processing
//
//	errs := async.Batch(ctx, orgIDs, 5, "sweep", 10*time.Second, func(ctx context.Context, orgID int64) error {
//		return sweepOrganization(ctx, orgID)
//	})
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Context Cancellation: Respects context cancellation
// Error Collection: Non-blocking error channels
// Graceful Shutdown: Worker draining
//
// # Use Cases
//
// Token last-use updates, cache invalidation fanout, janitor sweeps, cache warming
//
// # Related Packages
//
//   - pkg/auth: Uses SafeGoDetached for token touch updates
//   - pkg/rbac: Uses SafeGo for invalidation publishing
package async
