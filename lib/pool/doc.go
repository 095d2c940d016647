// Package pool provides a bounded, permit-guarded pool of interchangeable
// items. Capacity is controlled by permits: holding a permit grants the
// right to possess an item, and no operation ever creates more than
// maxSize live items simultaneously.
//
// The pool supports:
//   - Blocking acquisition with a timeout (negative waits indefinitely,
//     zero is non-blocking)
//   - Release with an optional prune flag that destroys instead of pooling
//   - Pruning of free items the factory vets as stale
//   - Eager replenishment up to a minimum size
//   - Metrics for pool utilization
//
// # Basic Usage
//
//	p := pool.New(10, factory)
//	defer p.Close()
//
//	item, err := p.Get(30 * time.Second)
//	if err != nil {
//	    return err
//	}
//	defer p.Release(item, false)
//
//	// Use item...
//
// The free list is LIFO: hot items stay hot, and cold items age into the
// factory's prune window.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package:
//   - opal_pool_items_max: Maximum pool size
//   - opal_pool_items_open: Current live items
//   - opal_pool_items_available: Current free items
//   - opal_pool_items_in_use: Items currently checked out
//   - opal_pool_acquire_total: Total acquire attempts
//   - opal_pool_acquire_failed_total: Failed acquires
//   - opal_pool_release_total: Total releases
//   - opal_pool_pruned_total: Items destroyed by pruning
package pool
