package core

import (
	"github.com/go-i2p/logger"

	"github.com/opaldb/opal-go/lib/auth"
	"github.com/opaldb/opal-go/lib/channel"
	"github.com/opaldb/opal-go/lib/transport"
)

var log = logger.GetGoI2PLogger()

// Open builds a channel provider from the configuration: authenticator,
// transport factory, and pool. The caller owns the returned provider and
// must close it.
func Open(cfg *Config) (*channel.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var authenticator auth.Authenticator
	if cfg.Auth.Mechanism != "" {
		cred, err := cfg.Credential()
		if err != nil {
			return nil, err
		}
		authenticator, err = auth.New(cfg.Auth.Mechanism, cred)
		if err != nil {
			return nil, err
		}
	}

	factory := transport.NewTCPFactory(transport.TCPConfig{
		DialTimeout: cfg.Transport.DialTimeout,
		IOTimeout:   cfg.Transport.IOTimeout,
	}, authenticator)

	provider, err := channel.New(cfg.ServerAddress(), factory, cfg.PoolSettings())
	if err != nil {
		return nil, err
	}

	log.WithField("address", cfg.ServerAddress().String()).Debug("driver connection pool opened")
	return provider, nil
}
