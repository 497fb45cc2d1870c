package natsstreaming

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event is one completed stream as published to the broker.
type Event struct {
	StreamID string            `json:"stream_id"`
	RouteID  string            `json:"route_id"`
	Cluster  string            `json:"cluster"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// pubAck is the broker's acknowledgement payload. An empty payload or a
// non-empty Error both count as a failed publish.
type pubAck struct {
	Error string `json:"error,omitempty"`
}

// Publisher publishes events and waits for per-message acknowledgements on a
// dedicated inbox.
type Publisher struct {
	nc         *nats.Conn
	subject    string
	ackTimeout time.Duration
	logger     *zap.Logger
}

// NewPublisher builds a publisher over an established connection.
func NewPublisher(nc *nats.Conn, subject string, ackTimeout time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{nc: nc, subject: subject, ackTimeout: ackTimeout, logger: logger}
}

// Publish sends one event and blocks until the broker acknowledges it or the
// ack timeout expires.
func (p *Publisher) Publish(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	inbox := nats.NewInbox()
	sub, err := p.nc.SubscribeSync(inbox)
	if err != nil {
		return fmt.Errorf("subscribe ack inbox: %w", err)
	}
	defer sub.Unsubscribe()

	if err := p.nc.PublishRequest(p.subject, inbox, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	msg, err := sub.NextMsg(p.ackTimeout)
	if err != nil {
		return fmt.Errorf("ack wait: %w", err)
	}
	if len(msg.Data) == 0 {
		return fmt.Errorf("empty ack payload")
	}
	var ack pubAck
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if ack.Error != "" {
		return fmt.Errorf("broker rejected publish: %s", ack.Error)
	}

	p.logger.Debug("event published",
		zap.String("subject", p.subject),
		zap.String("stream_id", evt.StreamID),
	)
	return nil
}

// FlattenMetadata renders dynamic metadata into flat namespace/key string
// pairs for the event payload. Non-string values use their JSON form.
func FlattenMetadata(namespaces map[string]*structpb.Struct) map[string]string {
	if len(namespaces) == 0 {
		return nil
	}
	out := make(map[string]string)
	for ns, st := range namespaces {
		for key, v := range st.GetFields() {
			if sv, ok := v.Kind.(*structpb.Value_StringValue); ok {
				out[ns+"/"+key] = sv.StringValue
				continue
			}
			b, err := v.MarshalJSON()
			if err != nil {
				continue
			}
			out[ns+"/"+key] = string(b)
		}
	}
	return out
}
