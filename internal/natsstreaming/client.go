// Package natsstreaming bridges completed streams onto a NATS subject and
// answers broker heartbeats. It shares no state with the filter; the gateway
// hands it finished events only.
package natsstreaming

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Options configures the broker connection.
type Options struct {
	URL               string
	ClientID          string
	MaxReconnectWait  time.Duration
	HeartbeatInterval time.Duration
}

// Connect dials the broker, retrying with exponential backoff until the
// broker accepts or the backoff gives up. Reconnects after a drop are
// handled by the client itself.
func Connect(opts Options, logger *zap.Logger) (*nats.Conn, error) {
	natsOpts := []nats.Option{
		nats.Name(opts.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.MaxReconnectWait

	var nc *nats.Conn
	err := backoff.Retry(func() error {
		var err error
		nc, err = nats.Connect(opts.URL, natsOpts...)
		return err
	}, bo)
	if err != nil {
		return nil, err
	}
	return nc, nil
}
