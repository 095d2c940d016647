package channel

import (
	"github.com/opaldb/opal-go/lib/transport"
)

// connectionItemFactory adapts the transport factory to the pool: new
// connections are wrapped with usage tracking and stamped with the
// provider's current generation, and destructions are logged with the
// reason they were retired.
type connectionItemFactory struct {
	provider *Provider
	factory  transport.Factory
}

func (f *connectionItemFactory) Create() (*UsageTrackingConnection, error) {
	raw, err := f.factory.Create(f.provider.address)
	if err != nil {
		return nil, err
	}

	conn := newUsageTrackingConnection(raw, f.provider.generation.Load(), f.provider.clk.Now())
	ConnectionsCreatedTotal.Inc()
	log.WithField("connectionId", conn.ID()).WithField("address", f.provider.address.String()).
		Info("opened connection")
	return conn, nil
}

func (f *connectionItemFactory) Close(conn *UsageTrackingConnection) {
	p := f.provider

	var reason string
	switch {
	case p.fromPreviousGeneration(conn):
		reason = "there was a socket error raised on another connection from this pool"
	case p.pastMaxLifeTime(conn):
		reason = "it is past its maximum allowed life time"
	case p.pastMaxIdleTime(conn):
		reason = "it is past its maximum allowed idle time"
	default:
		reason = "the pool has been closed"
	}

	conn.Close()
	ConnectionsClosedTotal.Inc()
	log.WithField("connectionId", conn.ID()).WithField("address", p.address.String()).
		WithField("reason", reason).Info("closed connection")
}

func (f *connectionItemFactory) ShouldPrune(conn *UsageTrackingConnection) bool {
	return f.provider.shouldPruneConnection(conn)
}
