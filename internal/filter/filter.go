// Package filter implements the per-stream transformation filter: it decides
// whether each direction is transformed, buffers bodies up to the configured
// limits, applies the transformation at end of stream, and surfaces errors
// with direction-specific behavior.
package filter

import (
	"time"

	"go.uber.org/zap"

	"github.com/morphproxy/morph/internal/api"
	"github.com/morphproxy/morph/internal/errors"
	"github.com/morphproxy/morph/internal/metrics"
	"github.com/morphproxy/morph/internal/transform"
)

type streamState int

const (
	stateChecking streamState = iota
	stateActive
	stateInactive
	stateErrored
	stateDone
)

// Filter transforms one HTTP stream. A fresh Filter is created per stream;
// the registry and collector it references are shared and read-only.
type Filter struct {
	registry   *transform.Registry
	stats      *metrics.Collector
	functional bool
	accessor   api.MetadataAccessor

	decoder api.DecoderFilterCallbacks
	encoder api.EncoderFilterCallbacks

	requestHeaders  api.HeaderMap
	responseHeaders api.HeaderMap
	requestBody     *api.Buffer
	responseBody    *api.Buffer

	requestTransform  *transform.Transformation
	responseTransform *transform.Transformation

	requestState  streamState
	responseState streamState

	destroyed bool
}

// New builds a filter for one stream. accessor may be nil outside functional
// mode.
func New(registry *transform.Registry, stats *metrics.Collector, functional bool, accessor api.MetadataAccessor) *Filter {
	return &Filter{
		registry:     registry,
		stats:        stats,
		functional:   functional,
		accessor:     accessor,
		requestBody:  api.NewBuffer(nil),
		responseBody: api.NewBuffer(nil),
	}
}

// SetDecoderFilterCallbacks wires the request-direction host surface.
func (f *Filter) SetDecoderFilterCallbacks(cb api.DecoderFilterCallbacks) { f.decoder = cb }

// SetEncoderFilterCallbacks wires the response-direction host surface.
func (f *Filter) SetEncoderFilterCallbacks(cb api.EncoderFilterCallbacks) { f.encoder = cb }

// RequestBody returns the request accumulator. After a successful transform
// it holds the body to forward upstream.
func (f *Filter) RequestBody() *api.Buffer { return f.requestBody }

// ResponseBody returns the response accumulator.
func (f *Filter) ResponseBody() *api.Buffer { return f.responseBody }

// RequestErrored reports whether the request direction failed. The local
// reply has already been sent through the decoder callbacks.
func (f *Filter) RequestErrored() bool { return f.requestState == stateErrored }

// RequestTransformed reports whether a request transformation ran to
// completion. Unless the transformation is passthrough, the accumulator then
// holds the body to forward; a passthrough transformation buffers nothing.
func (f *Filter) RequestTransformed() bool { return f.requestState == stateDone }

// ResponseTransformed reports whether the response accumulator holds output to
// send: a successful non-passthrough transform or an in-place error rewrite.
func (f *Filter) ResponseTransformed() bool {
	if f.responseState == stateErrored {
		return true
	}
	return f.responseState == stateDone && !f.responseTransform.Passthrough()
}

// DecodeHeaders begins the request direction. With end of stream set the
// transformation runs immediately against an empty body.
func (f *Filter) DecodeHeaders(headers api.HeaderMap, endStream bool) api.HeaderStatus {
	f.requestHeaders = headers
	tr, fe := f.resolveTransformation(api.RequestTransformationKey, headers)
	if fe != nil {
		f.requestError(fe)
		return api.HeaderStopIteration
	}
	if tr == nil {
		f.requestState = stateInactive
		return api.HeaderContinue
	}
	f.requestTransform = tr
	f.requestState = stateActive
	if tr.Passthrough() || endStream {
		f.transformRequest()
		if f.requestState == stateErrored {
			return api.HeaderStopIteration
		}
		return api.HeaderContinue
	}
	return api.HeaderStopIteration
}

// DecodeData accumulates request body bytes, transforming once the stream
// ends.
func (f *Filter) DecodeData(data *api.Buffer, endStream bool) api.DataStatus {
	if f.requestState != stateActive {
		return api.DataContinue
	}
	if f.requestTransform.Passthrough() {
		return api.DataContinue
	}
	f.requestBody.Move(data)
	if f.requestBody.Len() > f.decoder.BufferLimit() {
		f.requestError(errors.New(errors.KindPayloadTooLarge, ""))
		return api.DataStopIterationNoBuffer
	}
	if endStream {
		f.transformRequest()
		if f.requestState == stateErrored {
			return api.DataStopIterationNoBuffer
		}
		return api.DataContinue
	}
	return api.DataStopIterationNoBuffer
}

// DecodeTrailers ends the request direction when the body carried trailers
// instead of an end-of-stream data frame.
func (f *Filter) DecodeTrailers(api.HeaderMap) api.TrailerStatus {
	if f.requestState != stateActive || f.requestTransform.Passthrough() {
		return api.TrailerContinue
	}
	f.transformRequest()
	if f.requestState == stateErrored {
		return api.TrailerStopIteration
	}
	return api.TrailerContinue
}

// EncodeHeaders begins the response direction.
func (f *Filter) EncodeHeaders(headers api.HeaderMap, endStream bool) api.HeaderStatus {
	f.responseHeaders = headers
	tr, _ := f.resolveTransformation(api.ResponseTransformationKey, headers)
	if tr == nil {
		f.responseState = stateInactive
		return api.HeaderContinue
	}
	f.responseTransform = tr
	f.responseState = stateActive
	if tr.Passthrough() || endStream {
		f.transformResponse()
		return api.HeaderContinue
	}
	return api.HeaderStopIteration
}

// EncodeData accumulates response body bytes, transforming once the stream
// ends. Errors rewrite the response in place, so iteration always continues
// at end of stream.
func (f *Filter) EncodeData(data *api.Buffer, endStream bool) api.DataStatus {
	if f.responseState != stateActive {
		return api.DataContinue
	}
	if f.responseTransform.Passthrough() {
		return api.DataContinue
	}
	f.responseBody.Move(data)
	if f.responseBody.Len() > f.encoder.BufferLimit() {
		f.responseError(errors.New(errors.KindPayloadTooLarge, ""))
		return api.DataContinue
	}
	if endStream {
		f.transformResponse()
		return api.DataContinue
	}
	return api.DataStopIterationNoBuffer
}

// EncodeTrailers ends the response direction.
func (f *Filter) EncodeTrailers(api.HeaderMap) api.TrailerStatus {
	if f.responseState != stateActive || f.responseTransform.Passthrough() {
		return api.TrailerContinue
	}
	f.transformResponse()
	return api.TrailerContinue
}

// OnDestroy releases per-stream state. A destroyed filter never attempts a
// local reply.
func (f *Filter) OnDestroy() {
	f.destroyed = true
	f.requestBody.Replace(nil)
	f.responseBody.Replace(nil)
}

// resolveTransformation looks up the transformation for one direction from
// the matched route's metadata. A nil transformation with a nil error means
// the direction is inactive. Functional mode resolution applies only to the
// request direction key.
func (f *Filter) resolveTransformation(key string, headers api.HeaderMap) (*transform.Transformation, *errors.FilterError) {
	route := f.decoder.Route()
	if route == nil {
		return nil, nil
	}
	v := route.Metadata().Value(api.MetadataNamespace, key)
	if v == nil {
		return nil, nil
	}

	var id string
	if f.functional && key == api.RequestTransformationKey {
		fn, ok := f.accessorFunction()
		if !ok {
			return nil, errors.New(errors.KindTransformationNotFound, "")
		}
		clusters := v.GetStructValue()
		if clusters == nil {
			return nil, errors.New(errors.KindTransformationNotFound, "")
		}
		functions := clusters.Fields[route.ClusterName()].GetStructValue()
		if functions == nil {
			return nil, errors.New(errors.KindTransformationNotFound, "")
		}
		id = functions.Fields[fn].GetStringValue()
		if id == "" {
			return nil, errors.New(errors.KindTransformationNotFound, "")
		}
	} else {
		id = v.GetStringValue()
		if id == "" {
			return nil, nil
		}
	}

	tr, ok := f.registry.Lookup(id)
	if !ok {
		if f.functional && key == api.RequestTransformationKey {
			return nil, errors.New(errors.KindTransformationNotFound, "")
		}
		return nil, nil
	}
	if !tr.Matches(f.requestLine(headers)) {
		return nil, nil
	}
	return tr, nil
}

func (f *Filter) accessorFunction() (string, bool) {
	if f.accessor == nil {
		return "", false
	}
	return f.accessor.FunctionName()
}

// requestLine reads the request method and path for condition evaluation.
// The direction's own headers participate in header matching.
func (f *Filter) requestLine(headers api.HeaderMap) (string, string, api.HeaderMap) {
	var method, path string
	if f.requestHeaders != nil {
		method, _ = f.requestHeaders.Get(":method")
		path, _ = f.requestHeaders.Get(":path")
	}
	return method, path, headers
}

func (f *Filter) transformRequest() {
	start := time.Now()
	f.stats.RecordBodyBytes("request", f.requestBody.Len())
	err := f.requestTransform.Transform(f.requestHeaders, nil, f.requestBody, f.decoder)
	if err != nil {
		f.requestError(asFilterError(err))
		return
	}
	f.requestState = stateDone
	f.stats.RecordTransform("request", "success", time.Since(start).Seconds())
}

func (f *Filter) transformResponse() {
	start := time.Now()
	f.stats.RecordBodyBytes("response", f.responseBody.Len())
	err := f.responseTransform.Transform(f.responseHeaders, f.requestHeaders, f.responseBody, f.encoder)
	if err != nil {
		f.responseError(asFilterError(err))
		return
	}
	f.responseState = stateDone
	f.stats.RecordTransform("response", "success", time.Since(start).Seconds())
}

// requestError surfaces a request-direction failure as a local reply and
// drops the buffered body.
func (f *Filter) requestError(fe *errors.FilterError) {
	f.requestState = stateErrored
	f.requestBody.Replace(nil)
	f.stats.RecordError("request", fe.Kind.String())
	if f.destroyed {
		return
	}
	f.decoder.Logger().Debug("request transformation failed",
		zap.String("kind", fe.Kind.String()),
		zap.Error(fe),
	)
	f.decoder.SendLocalReply(fe.Status, fe.Body())
}

// responseError rewrites the response in place: the upstream already started
// responding, so a local reply is no longer possible.
func (f *Filter) responseError(fe *errors.FilterError) {
	f.responseState = stateErrored
	f.stats.RecordError("response", fe.Kind.String())
	f.encoder.Logger().Debug("response transformation failed",
		zap.String("kind", fe.Kind.String()),
		zap.Error(fe),
	)
	f.responseHeaders.SetStatus(fe.Status)
	f.responseHeaders.Remove("Content-Type")
	f.responseBody.Replace([]byte(fe.Body()))
	api.SetContentLength(f.responseHeaders, f.responseBody.Len())
}

func asFilterError(err error) *errors.FilterError {
	if fe, ok := errors.AsFilterError(err); ok {
		return fe
	}
	return errors.Wrap(errors.KindTemplateRender, err)
}
