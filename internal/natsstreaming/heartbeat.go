package natsstreaming

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// HeartbeatHandler answers broker liveness probes. A valid heartbeat names a
// reply subject and carries no payload; the answer is an empty message to
// that subject.
type HeartbeatHandler struct {
	nc     *nats.Conn
	logger *zap.Logger
	sub    *nats.Subscription
}

// NewHeartbeatHandler builds a handler over an established connection.
func NewHeartbeatHandler(nc *nats.Conn, logger *zap.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{nc: nc, logger: logger}
}

// Start subscribes to the heartbeat subject.
func (h *HeartbeatHandler) Start(subject string) error {
	sub, err := h.nc.Subscribe(subject, h.onMsg)
	if err != nil {
		return err
	}
	h.sub = sub
	return nil
}

// Stop drains the heartbeat subscription.
func (h *HeartbeatHandler) Stop() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.Drain()
}

func (h *HeartbeatHandler) onMsg(msg *nats.Msg) {
	if msg.Reply == "" {
		h.logger.Warn("heartbeat without reply subject")
		return
	}
	if len(msg.Data) != 0 {
		h.logger.Warn("heartbeat with unexpected payload", zap.Int("bytes", len(msg.Data)))
		return
	}
	if err := h.nc.Publish(msg.Reply, nil); err != nil {
		h.logger.Warn("heartbeat reply failed", zap.Error(err))
	}
}
