package channel

import (
	"github.com/opaldb/opal-go/lib/metrics"
)

// Statistics exposes the provider's pool counters as a named observer.
// Reads are sampling snapshots; no locking is required of readers.
type Statistics struct {
	provider *Provider
	name     string
}

var _ metrics.Observer = (*Statistics)(nil)

func newStatistics(p *Provider) *Statistics {
	return &Statistics{
		provider: p,
		name:     observerName(p.address),
	}
}

// ObserverName returns the stable registration name, derived from the
// server address.
func (s *Statistics) ObserverName() string {
	return s.name
}

// Size returns the number of live pooled connections.
func (s *Statistics) Size() int {
	return s.provider.pool.Size()
}

// CheckedOutCount returns the number of connections currently borrowed.
func (s *Statistics) CheckedOutCount() int {
	return s.provider.pool.CheckedOutCount()
}

// WaitQueueSize returns the number of threads waiting for a connection.
func (s *Statistics) WaitQueueSize() int {
	return int(s.provider.waitQueueSize.Load())
}

// MinSize returns the configured pool floor.
func (s *Statistics) MinSize() int {
	return s.provider.settings.MinSize
}

// MaxSize returns the configured pool cap.
func (s *Statistics) MaxSize() int {
	return s.provider.settings.MaxSize
}

// Snapshot returns the current statistics for metric exposition.
func (s *Statistics) Snapshot() map[string]int64 {
	return map[string]int64{
		"size":            int64(s.Size()),
		"checked_out":     int64(s.CheckedOutCount()),
		"wait_queue_size": int64(s.WaitQueueSize()),
		"min_size":        int64(s.MinSize()),
		"max_size":        int64(s.MaxSize()),
	}
}
