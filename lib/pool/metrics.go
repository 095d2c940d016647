package pool

import "github.com/opaldb/opal-go/lib/metrics"

// Pool utilization metrics
var (
	// PoolItemsMax is the maximum pool size.
	PoolItemsMax = metrics.NewGauge(
		"opal_pool_items_max",
		"Maximum number of items in the pool",
	)
	// PoolItemsOpen is the current number of live items.
	PoolItemsOpen = metrics.NewGauge(
		"opal_pool_items_open",
		"Current number of live pooled items",
	)
	// PoolItemsAvailable is the current number of free items.
	PoolItemsAvailable = metrics.NewGauge(
		"opal_pool_items_available",
		"Current number of free items in the pool",
	)
	// PoolItemsInUse is the number of items currently checked out.
	PoolItemsInUse = metrics.NewGauge(
		"opal_pool_items_in_use",
		"Number of items currently checked out",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounter(
		"opal_pool_acquire_total",
		"Total number of item acquire attempts",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounter(
		"opal_pool_acquire_failed_total",
		"Total number of failed item acquires",
	)
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = metrics.NewCounter(
		"opal_pool_release_total",
		"Total number of item releases",
	)
	// PoolPrunedTotal is the number of items destroyed by pruning.
	PoolPrunedTotal = metrics.NewCounter(
		"opal_pool_pruned_total",
		"Total number of items destroyed by pruning",
	)
	// PoolAcquireLatency tracks time spent acquiring items.
	PoolAcquireLatency = metrics.NewHistogram(
		"opal_pool_acquire_duration_seconds",
		"Time spent acquiring an item from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the pool gauges from Stats.
func UpdateMetrics(stats Stats) {
	PoolItemsMax.Set(int64(stats.MaxSize))
	PoolItemsOpen.Set(int64(stats.Size))
	PoolItemsAvailable.Set(int64(stats.Available))
	PoolItemsInUse.Set(int64(stats.CheckedOut))
}
