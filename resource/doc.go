// Package resource implements the Controller for shared limits.
//
//   - Memory: build buffers and block caches (non-blocking, fail-fast)
//   - Queries: in-flight cap (semaphore) and admission rate (token bucket)
//   - IO: throttles ingest source reads
//
// Usage:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   256 << 20,
//	    MaxInFlightQueries: 128,
//	})
//
//	if err := rc.AcquireQuery(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseQuery()
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
