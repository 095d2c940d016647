package channel

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opaldb/opal-go/lib/clock"
	apperrors "github.com/opaldb/opal-go/lib/errors"
	"github.com/opaldb/opal-go/lib/metrics"
	"github.com/opaldb/opal-go/lib/pool"
	"github.com/opaldb/opal-go/lib/transport"
)

// Provider manages a bounded pool of connections to a single server and
// hands them out wrapped in channels. A generation counter retires whole
// cohorts of connections when a transport fault is observed on any of
// them.
type Provider struct {
	settings Settings
	address  transport.ServerAddress
	clk      clock.Clock

	pool          *pool.Pool[*UsageTrackingConnection]
	generation    atomic.Int64
	waitQueueSize atomic.Int64
	closed        atomic.Bool

	statistics  *Statistics
	maintenance *maintenanceTask
}

// New creates a provider over the given connection factory. The settings
// must validate; the statistics observer is registered under a name
// derived from the server address.
func New(address transport.ServerAddress, factory transport.Factory, settings Settings) (*Provider, error) {
	return newWithClock(address, factory, settings, clock.System{})
}

func newWithClock(address transport.ServerAddress, factory transport.Factory, settings Settings, clk clock.Clock) (*Provider, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput,
			"connection factory must not be nil", apperrors.ErrInvalidInput)
	}

	p := &Provider{
		settings: settings,
		address:  address,
		clk:      clk,
	}
	p.pool = pool.New[*UsageTrackingConnection](settings.MaxSize, &connectionItemFactory{provider: p, factory: factory})

	p.statistics = newStatistics(p)
	metrics.RegisterObserver(p.statistics)

	if settings.maintenanceEnabled() {
		p.maintenance = newMaintenanceTask(p.runMaintenance)
		p.maintenance.start(settings.MaintenanceFrequency, settings.MaintenanceInitialDelay)
	}

	log.WithField("address", address.String()).WithField("maxSize", settings.MaxSize).
		Debug("channel provider created")
	return p, nil
}

// ServerAddress returns the endpoint this provider serves.
func (p *Provider) ServerAddress() transport.ServerAddress {
	return p.address
}

// Generation returns the current pool generation.
func (p *Provider) Generation() int64 {
	return p.generation.Load()
}

// Statistics returns the provider's statistics observer.
func (p *Provider) Statistics() *Statistics {
	return p.statistics
}

// Get acquires a channel using the configured default wait time.
func (p *Provider) Get() (Channel, error) {
	return p.GetWithTimeout(p.settings.MaxWaitTime)
}

// GetWithTimeout acquires a channel within timeout. Zero is non-blocking;
// negative waits indefinitely. Stale connections coming off the pool are
// destroyed and replaced until a fresh one is obtained or the absolute
// deadline passes.
func (p *Provider) GetWithTimeout(timeout time.Duration) (Channel, error) {
	if n := p.waitQueueSize.Add(1); n > int64(p.settings.MaxWaitQueueSize) {
		p.waitQueueSize.Add(-1)
		WaitQueueRejectionsTotal.Inc()
		return nil, apperrors.Wrap(apperrors.CodeWaitQueueFull,
			fmt.Sprintf("too many threads are already waiting for a connection to %s; maxWaitQueueSize of %d has been exceeded",
				p.address, p.settings.MaxWaitQueueSize),
			apperrors.ErrWaitQueueFull)
	}
	defer p.waitQueueSize.Add(-1)

	timer := metrics.NewTimer(pool.PoolAcquireLatency)
	defer timer.ObserveDuration()

	// Track the absolute deadline so staleness retries cannot extend the
	// caller's wait under high churn.
	var deadline time.Time
	if timeout > 0 {
		deadline = p.clk.Now().Add(timeout)
	}

	remaining := timeout
	for {
		conn, err := p.pool.Get(remaining)
		if err != nil {
			return nil, err
		}

		if !p.shouldPruneConnection(conn) {
			return newPooledChannel(p, conn), nil
		}
		p.pool.Release(conn, true)

		if timeout > 0 {
			remaining = deadline.Sub(p.clk.Now())
			if remaining <= 0 {
				return nil, apperrors.ErrTimeout
			}
		}
	}
}

// Close shuts the provider down: the pool is closed, the maintenance task
// is cancelled, and the statistics observer is unregistered. Idempotent.
func (p *Provider) Close() {
	if p.closed.Swap(true) {
		return
	}

	p.pool.Close()
	if p.maintenance != nil {
		p.maintenance.cancel()
	}
	metrics.UnregisterObserver(p.statistics.ObserverName())

	log.WithField("address", p.address.String()).Debug("channel provider closed")
}

// DoMaintenance runs the maintenance task synchronously on the caller.
// It is mutually excluded with scheduled runs.
func (p *Provider) DoMaintenance() {
	if p.maintenance != nil {
		p.maintenance.run()
	}
}

// runMaintenance is the maintenance task body.
func (p *Provider) runMaintenance() {
	if p.settings.pruningEnabled() {
		log.WithField("address", p.address.String()).Debug("pruning pooled connections")
		p.pool.Prune()
	}
	if p.settings.MinSize > 0 {
		log.WithField("address", p.address.String()).Debug("ensuring minimum pooled connections")
		p.pool.EnsureMinSize(p.settings.MinSize)
	}
	pool.UpdateMetrics(p.pool.Stats())
}

// incrementGenerationOnSocketError bumps the generation when a channel
// observes a true socket fault. Interrupted reads are attributed to
// cancellation and leave the cohort intact.
func (p *Provider) incrementGenerationOnSocketError(channelID string, err error) {
	if !apperrors.IsSocket(err) || apperrors.IsInterruptedRead(err) {
		return
	}
	log.WithField("channelId", channelID).WithField("address", p.address.String()).
		WithError(err).Warn("socket error on pooled connection; all connections to this server will be closed")
	p.generation.Add(1)
	GenerationBumpsTotal.Inc()
}

// shouldPruneConnection reports whether a connection is stale: from a
// previous generation, past its lifetime, or past its idle window.
func (p *Provider) shouldPruneConnection(conn *UsageTrackingConnection) bool {
	return p.fromPreviousGeneration(conn) || p.pastMaxLifeTime(conn) || p.pastMaxIdleTime(conn)
}

func (p *Provider) fromPreviousGeneration(conn *UsageTrackingConnection) bool {
	return p.generation.Load() > conn.Generation()
}

func (p *Provider) pastMaxLifeTime(conn *UsageTrackingConnection) bool {
	return expired(conn.OpenedAt(), p.clk.Now(), p.settings.MaxLifeTime)
}

func (p *Provider) pastMaxIdleTime(conn *UsageTrackingConnection) bool {
	return expired(conn.LastUsedAt(), p.clk.Now(), p.settings.MaxIdleTime)
}

// expired is the staleness test; a maxTime of zero disables the check.
func expired(startTime, curTime time.Time, maxTime time.Duration) bool {
	return maxTime != 0 && curTime.Sub(startTime) > maxTime
}

// observerName derives the stable statistics registration name for an
// address, in a form safe for metric exposition.
func observerName(address transport.ServerAddress) string {
	sanitized := strings.NewReplacer(".", "_", "-", "_", ":", "_").Replace(address.String())
	return "opal_connection_pool_" + sanitized
}
