// Package resource implements the Controller for index-wide limits.
//
// The Controller manages four resource types:
//
//   - Memory: Track and limit stored vector bytes (non-blocking, fail-fast)
//   - Queries: Bound in-flight queries with a weighted semaphore
//   - Mutations: Token bucket on mutation calls (non-blocking)
//   - IO: Rate-limit snapshot IO
//
// # Memory Management
//
// AcquireMemory is non-blocking and returns immediately with
// ErrMemoryLimitExceeded if the limit would be exceeded:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	if err := rc.AcquireMemory(int64(dim * 4)); err != nil {
//	    // ErrMemoryLimitExceeded - caller decides retry/backoff
//	}
//
// # Query Limits
//
//	if err := rc.AcquireQuery(ctx); err != nil {
//	    return err // ErrQueryLimit joined with the context error
//	}
//	defer rc.ReleaseQuery()
//
// # Mutation Backpressure
//
//	if err := rc.AllowMutation(); err != nil {
//	    return err // ErrRateLimited
//	}
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
