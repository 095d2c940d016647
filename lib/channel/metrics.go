package channel

import "github.com/opaldb/opal-go/lib/metrics"

// Channel provider metrics
var (
	// ConnectionsCreatedTotal counts connections opened by the pool.
	ConnectionsCreatedTotal = metrics.NewCounter(
		"opal_channel_connections_created_total",
		"Total number of pooled connections opened",
	)
	// ConnectionsClosedTotal counts connections destroyed by the pool.
	ConnectionsClosedTotal = metrics.NewCounter(
		"opal_channel_connections_closed_total",
		"Total number of pooled connections closed",
	)
	// GenerationBumpsTotal counts socket-driven generation increments.
	GenerationBumpsTotal = metrics.NewCounter(
		"opal_channel_generation_bumps_total",
		"Total number of generation increments caused by socket errors",
	)
	// WaitQueueRejectionsTotal counts acquisitions denied by the
	// wait-queue cap.
	WaitQueueRejectionsTotal = metrics.NewCounter(
		"opal_channel_wait_queue_rejections_total",
		"Total number of acquisitions rejected because the wait queue was full",
	)
)
