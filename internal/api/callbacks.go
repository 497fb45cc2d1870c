package api

import (
	"math/rand/v2"

	"go.uber.org/zap"
)

// StreamFilterCallbacks is the host surface shared by both directions of a
// stream.
type StreamFilterCallbacks interface {
	Route() Route
	ClusterInfo() ClusterInfo
	StreamInfo() StreamInfo
	Logger() *zap.Logger
}

// DecoderFilterCallbacks is the request-direction host surface.
type DecoderFilterCallbacks interface {
	StreamFilterCallbacks
	BufferLimit() int
	SendLocalReply(status int, body string)
}

// EncoderFilterCallbacks is the response-direction host surface.
type EncoderFilterCallbacks interface {
	StreamFilterCallbacks
	BufferLimit() int
}

// DefaultRandom is a RandomGenerator backed by the shared PRNG.
type DefaultRandom struct{}

func (DefaultRandom) Random() uint64 { return rand.Uint64() }

// StaticFunction is a MetadataAccessor with a fixed function name. A nil or
// empty value reports no function.
type StaticFunction string

func (s StaticFunction) FunctionName() (string, bool) {
	if s == "" {
		return "", false
	}
	return string(s), true
}
