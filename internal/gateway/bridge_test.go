package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/morphproxy/morph/internal/config"
	"github.com/morphproxy/morph/internal/metrics"
)

// upstreamRecorder captures the last request the upstream saw.
type upstreamRecorder struct {
	header http.Header
	body   string
	path   string

	respond func(w http.ResponseWriter)
}

func newUpstream(t *testing.T) (*upstreamRecorder, *httptest.Server) {
	t.Helper()
	rec := &upstreamRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.header = r.Header.Clone()
		rec.body = string(body)
		rec.path = r.URL.RequestURI()
		if rec.respond != nil {
			rec.respond(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func gatewayFor(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()
	rt, err := NewRuntime(cfg, nil)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	return NewGateway(rt, metrics.NewCollector(), nil)
}

func proxyConfig(backend string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Listeners = []config.ListenerConfig{{ID: "main", Address: ":0"}}
	cfg.Clusters = []config.ClusterConfig{
		{Name: "users", Backends: []string{backend}},
	}
	cfg.Transformations = map[string]config.TransformationConfig{}
	return cfg
}

func TestGatewayNoRoute(t *testing.T) {
	_, upstream := newUpstream(t)
	g := gatewayFor(t, proxyConfig(upstream.URL))

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest("GET", "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGatewayForwardsWithoutTransformation(t *testing.T) {
	up, upstream := newUpstream(t)
	cfg := proxyConfig(upstream.URL)
	cfg.Routes = []config.RouteConfig{
		{ID: "r", Path: "/users", Cluster: "users"},
	}
	g := gatewayFor(t, cfg)

	req := httptest.NewRequest("POST", "/users?q=1", strings.NewReader(`{"a":1}`))
	req.Header.Set("X-Custom", "v")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Fatalf("unexpected response body %q", rec.Body.String())
	}
	if up.body != `{"a":1}` {
		t.Fatalf("expected untouched body upstream, got %q", up.body)
	}
	if up.path != "/users?q=1" {
		t.Fatalf("expected query preserved, got %q", up.path)
	}
	if up.header.Get("X-Custom") != "v" {
		t.Fatal("expected request header forwarded")
	}
	for k := range up.header {
		if strings.HasPrefix(k, ":") {
			t.Fatalf("pseudo header %q leaked upstream", k)
		}
	}
}

func TestGatewayRequestTransformation(t *testing.T) {
	up, upstream := newUpstream(t)
	cfg := proxyConfig(upstream.URL)
	cfg.Transformations["reshape"] = config.TransformationConfig{
		Extractors: map[string]config.ExtractorConfig{
			"user": {Header: "x-id", Regex: `user-(\d+)`, Subgroup: 1},
		},
		Headers: map[string]string{
			"x-user-id": `{{ user }}`,
		},
		Body: strPtr(`{"id":"{{ user }}","name":"{{ name }}"}`),
	}
	cfg.Routes = []config.RouteConfig{
		{
			ID:                    "r",
			Path:                  "/users",
			Cluster:               "users",
			RequestTransformation: &config.TransformationRef{Template: "reshape"},
		},
	}
	g := gatewayFor(t, cfg)

	req := httptest.NewRequest("POST", "/users", strings.NewReader(`{"name":"alice"}`))
	req.Header.Set("x-id", "user-42")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if up.header.Get("x-user-id") != "42" {
		t.Fatalf("expected transformed header upstream, got %q", up.header.Get("x-user-id"))
	}
	if up.body != `{"id":"42","name":"alice"}` {
		t.Fatalf("expected rendered body upstream, got %q", up.body)
	}
}

func TestGatewayRequestPayloadTooLarge(t *testing.T) {
	_, upstream := newUpstream(t)
	cfg := proxyConfig(upstream.URL)
	cfg.Buffers.DecoderLimitBytes = 8
	cfg.Transformations["t"] = config.TransformationConfig{
		ParseBodyBehavior: config.DontParse,
	}
	cfg.Routes = []config.RouteConfig{
		{ID: "r", Path: "/users", Cluster: "users",
			RequestTransformation: &config.TransformationRef{Template: "t"}},
	}
	g := gatewayFor(t, cfg)

	req := httptest.NewRequest("POST", "/users", strings.NewReader(strings.Repeat("x", 100)))
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if rec.Body.String() != "payload too large" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestGatewayRequestParseErrorLocalReply(t *testing.T) {
	_, upstream := newUpstream(t)
	cfg := proxyConfig(upstream.URL)
	cfg.Transformations["t"] = config.TransformationConfig{}
	cfg.Routes = []config.RouteConfig{
		{ID: "r", Path: "/users", Cluster: "users",
			RequestTransformation: &config.TransformationRef{Template: "t"}},
	}
	g := gatewayFor(t, cfg)

	req := httptest.NewRequest("POST", "/users", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "bad request: ") {
		t.Fatalf("expected parse detail, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("expected text/plain local reply, got %q", ct)
	}
}

func TestGatewayResponseTransformation(t *testing.T) {
	up, upstream := newUpstream(t)
	up.respond = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"created","id":7}`))
	}
	cfg := proxyConfig(upstream.URL)
	cfg.Transformations["resp"] = config.TransformationConfig{
		Headers: map[string]string{
			"x-status":    `{{ status }}`,
			"x-requested": `{{ request_header("x-orig") }}`,
		},
	}
	cfg.Routes = []config.RouteConfig{
		{ID: "r", Path: "/users", Cluster: "users",
			ResponseTransformation: &config.TransformationRef{Template: "resp"}},
	}
	g := gatewayFor(t, cfg)

	req := httptest.NewRequest("GET", "/users", nil)
	req.Header.Set("x-orig", "from-request")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("x-status") != "created" {
		t.Fatalf("expected header from response body, got %q", rec.Header().Get("x-status"))
	}
	if rec.Header().Get("x-requested") != "from-request" {
		t.Fatalf("expected request header callback, got %q", rec.Header().Get("x-requested"))
	}
	if rec.Body.String() != `{"status":"created","id":7}` {
		t.Fatalf("expected body forwarded, got %q", rec.Body.String())
	}
}

func TestGatewayResponseErrorRewritesInPlace(t *testing.T) {
	up, upstream := newUpstream(t)
	up.respond = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not json</html>"))
	}
	cfg := proxyConfig(upstream.URL)
	cfg.Transformations["resp"] = config.TransformationConfig{}
	cfg.Routes = []config.RouteConfig{
		{ID: "r", Path: "/users", Cluster: "users",
			ResponseTransformation: &config.TransformationRef{Template: "resp"}},
	}
	g := gatewayFor(t, cfg)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest("GET", "/users", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 rewrite, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "bad request: ") {
		t.Fatalf("expected error body, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "" {
		t.Fatalf("expected Content-Type cleared, got %q", ct)
	}
}

func TestGatewayFunctionalMode(t *testing.T) {
	up, upstream := newUpstream(t)
	cfg := proxyConfig(upstream.URL)
	cfg.Transformations["create"] = config.TransformationConfig{
		Headers: map[string]string{"x-fn": "create"},
	}
	cfg.Routes = []config.RouteConfig{
		{ID: "r", Path: "/fn", Cluster: "users",
			RequestTransformation: &config.TransformationRef{
				Functions: map[string]map[string]string{
					"users": {"createUser": "create"},
				},
			}},
	}
	g := gatewayFor(t, cfg)

	req := httptest.NewRequest("POST", "/fn", strings.NewReader("{}"))
	req.Header.Set(FunctionHeader, "createUser")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if up.header.Get("x-fn") != "create" {
		t.Fatal("expected function transformation applied")
	}

	missing := httptest.NewRequest("POST", "/fn", strings.NewReader("{}"))
	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, missing)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without function header, got %d", rec.Code)
	}
	if rec.Body.String() != "transformation for function not found" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestGatewaySwapActivatesNewRuntime(t *testing.T) {
	up, upstream := newUpstream(t)
	cfg := proxyConfig(upstream.URL)
	cfg.Routes = []config.RouteConfig{
		{ID: "r", Path: "/users", Cluster: "users"},
	}
	g := gatewayFor(t, cfg)

	next := proxyConfig(upstream.URL)
	next.Transformations["tag"] = config.TransformationConfig{
		Passthrough: true,
		Headers:     map[string]string{"x-gen": "two"},
	}
	next.Routes = []config.RouteConfig{
		{ID: "r", Path: "/users", Cluster: "users",
			RequestTransformation: &config.TransformationRef{Template: "tag"}},
	}
	rt, err := NewRuntime(next, nil)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	g.Swap(rt)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest("GET", "/users", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if up.header.Get("x-gen") != "two" {
		t.Fatal("expected swapped runtime to transform")
	}
}

func strPtr(s string) *string { return &s }
