// Package api defines the interface contracts between the transformation
// filter and its host: header maps, body buffers, route and cluster metadata,
// stream info, and the iteration statuses returned from filter callbacks.
package api

// HeaderStatus is returned from header callbacks.
type HeaderStatus int

const (
	HeaderContinue HeaderStatus = iota
	HeaderStopIteration
)

// DataStatus is returned from data callbacks. StopIterationNoBuffer tells the
// host not to buffer on the filter's behalf; the filter holds the bytes
// itself.
type DataStatus int

const (
	DataContinue DataStatus = iota
	DataStopIterationNoBuffer
)

// TrailerStatus is returned from trailer callbacks.
type TrailerStatus int

const (
	TrailerContinue TrailerStatus = iota
	TrailerStopIteration
)

// RandomGenerator produces random values for template callbacks.
type RandomGenerator interface {
	Random() uint64
}

// MetadataAccessor exposes the function name selected for the current stream
// when the filter operates in functional mode. It is populated by an earlier
// filter before decoding begins.
type MetadataAccessor interface {
	FunctionName() (string, bool)
}
