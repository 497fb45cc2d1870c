package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/morphproxy/morph/internal/api"
	"github.com/morphproxy/morph/internal/config"
	"github.com/morphproxy/morph/internal/transform"
)

// Runtime is one compiled configuration generation: the transformation
// registry plus the route and cluster tables derived from it. A Runtime is
// immutable; reloads build a new one and swap it in atomically.
type Runtime struct {
	cfg      *config.Config
	registry *transform.Registry
	routes   []*compiledRoute
	clusters map[string]*cluster
	decLimit int
	encLimit int
}

type compiledRoute struct {
	id      string
	path    string
	prefix  bool
	methods map[string]bool
	route   *api.StaticRoute
	cluster *cluster
}

type cluster struct {
	info     *api.StaticClusterInfo
	backends []string
	next     atomic.Uint64
}

// NewRuntime compiles cfg into a runnable generation. Template and extractor
// errors fail the whole build, so a broken config never becomes active.
func NewRuntime(cfg *config.Config, rng api.RandomGenerator) (*Runtime, error) {
	registry, err := transform.NewRegistry(cfg.Transformations, rng)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:      cfg,
		registry: registry,
		clusters: make(map[string]*cluster, len(cfg.Clusters)),
		decLimit: cfg.Buffers.DecoderLimitBytes,
		encLimit: cfg.Buffers.EncoderLimitBytes,
	}

	for _, cc := range cfg.Clusters {
		meta, err := clusterMetadata(cc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: metadata: %w", cc.Name, err)
		}
		rt.clusters[cc.Name] = &cluster{
			info: &api.StaticClusterInfo{
				ClusterName: cc.Name,
				Meta:        meta,
			},
			backends: append([]string(nil), cc.Backends...),
		}
	}

	for _, rc := range cfg.Routes {
		cl, ok := rt.clusters[rc.Cluster]
		if !ok {
			return nil, fmt.Errorf("route %s: unknown cluster %s", rc.ID, rc.Cluster)
		}
		meta, err := routeMetadata(rc)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.ID, err)
		}
		cr := &compiledRoute{
			id:      rc.ID,
			path:    rc.Path,
			prefix:  rc.PathPrefix,
			route:   &api.StaticRoute{Meta: meta, Cluster: rc.Cluster},
			cluster: cl,
		}
		if len(rc.Methods) > 0 {
			cr.methods = make(map[string]bool, len(rc.Methods))
			for _, m := range rc.Methods {
				cr.methods[m] = true
			}
		}
		rt.routes = append(rt.routes, cr)
	}

	return rt, nil
}

// Registry returns the compiled transformation registry.
func (rt *Runtime) Registry() *transform.Registry { return rt.registry }

// Config returns the configuration this runtime was built from.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Match returns the first route matching the request, or nil.
func (rt *Runtime) Match(r *http.Request) *compiledRoute {
	for _, cr := range rt.routes {
		if cr.methods != nil && !cr.methods[r.Method] {
			continue
		}
		if cr.prefix {
			if strings.HasPrefix(r.URL.Path, cr.path) {
				return cr
			}
			continue
		}
		if r.URL.Path == cr.path {
			return cr
		}
	}
	return nil
}

// pick returns the next backend in round-robin order.
func (c *cluster) pick() string {
	n := c.next.Add(1)
	return c.backends[(n-1)%uint64(len(c.backends))]
}

// routeMetadata builds the route's filter metadata block. Direct refs become
// a string value, functional refs a cluster-to-function-to-id struct.
func routeMetadata(rc config.RouteConfig) (*api.Metadata, error) {
	fields := make(map[string]*structpb.Value)
	if err := refValue(fields, api.RequestTransformationKey, rc.RequestTransformation); err != nil {
		return nil, err
	}
	if err := refValue(fields, api.ResponseTransformationKey, rc.ResponseTransformation); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return &api.Metadata{}, nil
	}
	return &api.Metadata{
		FilterMetadata: map[string]*structpb.Struct{
			api.MetadataNamespace: {Fields: fields},
		},
	}, nil
}

func refValue(fields map[string]*structpb.Value, key string, ref *config.TransformationRef) error {
	if ref == nil {
		return nil
	}
	if ref.Template != "" {
		fields[key] = structpb.NewStringValue(ref.Template)
		return nil
	}
	clusters := make(map[string]*structpb.Value, len(ref.Functions))
	for clusterName, fns := range ref.Functions {
		fnFields := make(map[string]*structpb.Value, len(fns))
		for fn, id := range fns {
			fnFields[fn] = structpb.NewStringValue(id)
		}
		clusters[clusterName] = structpb.NewStructValue(&structpb.Struct{Fields: fnFields})
	}
	fields[key] = structpb.NewStructValue(&structpb.Struct{Fields: clusters})
	return nil
}

func clusterMetadata(m map[string]any) (*api.Metadata, error) {
	if len(m) == 0 {
		return &api.Metadata{}, nil
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return &api.Metadata{
		FilterMetadata: map[string]*structpb.Struct{
			api.MetadataNamespace: st,
		},
	}, nil
}
