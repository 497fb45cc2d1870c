package gateway

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/morphproxy/morph/internal/api"
	"github.com/morphproxy/morph/internal/filter"
	"github.com/morphproxy/morph/internal/logging"
	"github.com/morphproxy/morph/internal/metrics"
	"github.com/morphproxy/morph/internal/natsstreaming"
)

// FunctionHeader selects the function name consulted in functional mode.
const FunctionHeader = "x-morph-function"

// Gateway proxies HTTP traffic through the transformation filter. The active
// runtime is swapped atomically on config reload; in-flight streams keep the
// generation they started with.
type Gateway struct {
	runtime   atomic.Pointer[Runtime]
	stats     *metrics.Collector
	client    *http.Client
	publisher *natsstreaming.Publisher
}

// NewGateway builds a gateway around an initial runtime. publisher may be
// nil.
func NewGateway(rt *Runtime, stats *metrics.Collector, publisher *natsstreaming.Publisher) *Gateway {
	g := &Gateway{
		stats:     stats,
		client:    &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }},
		publisher: publisher,
	}
	g.runtime.Store(rt)
	return g
}

// Swap activates a new runtime generation.
func (g *Gateway) Swap(rt *Runtime) { g.runtime.Store(rt) }

// Runtime returns the active generation.
func (g *Gateway) Runtime() *Runtime { return g.runtime.Load() }

// streamCallbacks is the host surface handed to the filter for one stream.
type streamCallbacks struct {
	route      api.Route
	cluster    api.ClusterInfo
	streamInfo api.StreamInfo
	logger     *zap.Logger
	limit      int
	localReply func(status int, body string)
}

func (s *streamCallbacks) Route() api.Route             { return s.route }
func (s *streamCallbacks) ClusterInfo() api.ClusterInfo { return s.cluster }
func (s *streamCallbacks) StreamInfo() api.StreamInfo   { return s.streamInfo }
func (s *streamCallbacks) Logger() *zap.Logger          { return s.logger }
func (s *streamCallbacks) BufferLimit() int             { return s.limit }

func (s *streamCallbacks) SendLocalReply(status int, body string) {
	s.localReply(status, body)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt := g.runtime.Load()
	cr := rt.Match(r)
	if cr == nil {
		http.Error(w, "no route", http.StatusNotFound)
		return
	}

	streamID := uuid.NewString()
	logger := logging.With(
		zap.String("stream_id", streamID),
		zap.String("route", cr.id),
	)

	reqHdr := r.Header.Clone()
	reqHdr[":method"] = []string{r.Method}
	reqHdr[":path"] = []string{r.URL.RequestURI()}
	reqHdr[":authority"] = []string{r.Host}
	reqHeaders := api.NewRequestHeaderMap(reqHdr)

	dynMeta := api.NewDynamicMetadataStore()
	replied := false

	decoderCbs := &streamCallbacks{
		route:      cr.route,
		cluster:    cr.cluster.info,
		streamInfo: dynMeta,
		logger:     logger,
		limit:      rt.decLimit,
		localReply: func(status int, body string) {
			replied = true
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(status)
			io.WriteString(w, body)
		},
	}
	encoderCbs := &streamCallbacks{
		route:      cr.route,
		cluster:    cr.cluster.info,
		streamInfo: dynMeta,
		logger:     logger,
		limit:      rt.encLimit,
	}

	functional := cr.functional()
	var accessor api.MetadataAccessor
	if functional {
		accessor = api.StaticFunction(r.Header.Get(FunctionHeader))
	}

	f := filter.New(rt.Registry(), g.stats, functional, accessor)
	f.SetDecoderFilterCallbacks(decoderCbs)
	f.SetEncoderFilterCallbacks(encoderCbs)
	defer f.OnDestroy()

	hStatus := f.DecodeHeaders(reqHeaders, r.ContentLength == 0)
	if replied {
		return
	}

	requestBuffered := false
	if hStatus == api.HeaderStopIteration {
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(rt.decLimit)+1))
		if err != nil {
			logger.Warn("reading request body failed", zap.Error(err))
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		requestBuffered = true
		f.DecodeData(api.NewBuffer(body), true)
		if replied {
			return
		}
	}

	resp, err := g.forward(r, reqHdr, cr, f, requestBuffered)
	if err != nil {
		logger.Warn("upstream request failed", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	respHdr := resp.Header.Clone()
	respHeaders := api.NewResponseHeaderMap(respHdr, &status)

	eStatus := f.EncodeHeaders(respHeaders, resp.ContentLength == 0)
	responseBuffered := false
	if eStatus == api.HeaderStopIteration {
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(rt.encLimit)+1))
		if err != nil {
			logger.Warn("reading upstream response failed", zap.Error(err))
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		responseBuffered = true
		f.EncodeData(api.NewBuffer(body), true)
	}

	for k, vs := range respHdr {
		w.Header()[k] = vs
	}
	w.WriteHeader(status)
	if responseBuffered || f.ResponseTransformed() {
		w.Write(f.ResponseBody().Bytes())
	} else {
		io.Copy(w, resp.Body)
	}

	g.publishEvent(streamID, cr, dynMeta, logger)
}

// forward sends the (possibly transformed) request upstream. Pseudo request
// headers never leave the process.
func (g *Gateway) forward(r *http.Request, reqHdr http.Header, cr *compiledRoute, f *filter.Filter, buffered bool) (*http.Response, error) {
	outHdr := make(http.Header, len(reqHdr))
	for k, vs := range reqHdr {
		if len(k) > 0 && k[0] == ':' {
			continue
		}
		outHdr[k] = vs
	}

	var body io.Reader = r.Body
	contentLength := r.ContentLength
	if buffered {
		b := f.RequestBody().Bytes()
		body = bytes.NewReader(b)
		contentLength = int64(len(b))
	}

	target := cr.cluster.pick() + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header = outHdr
	req.ContentLength = contentLength
	return g.client.Do(req)
}

// publishEvent emits one message per completed stream when the publish
// bridge is configured.
func (g *Gateway) publishEvent(streamID string, cr *compiledRoute, dynMeta api.StreamInfo, logger *zap.Logger) {
	if g.publisher == nil {
		return
	}
	evt := natsstreaming.Event{
		StreamID: streamID,
		RouteID:  cr.id,
		Cluster:  cr.cluster.info.Name(),
		Metadata: natsstreaming.FlattenMetadata(dynMeta.DynamicMetadata()),
	}
	if err := g.publisher.Publish(evt); err != nil {
		logger.Warn("event publish failed", zap.Error(err))
	}
}

// functional reports whether the route's request side resolves through a
// cluster/function table rather than a direct template id.
func (cr *compiledRoute) functional() bool {
	v := cr.route.Metadata().Value(api.MetadataNamespace, api.RequestTransformationKey)
	return v.GetStructValue() != nil
}
