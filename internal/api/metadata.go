package api

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Metadata is a namespaced collection of structured values, the shape shared
// by route metadata and upstream cluster metadata.
type Metadata struct {
	FilterMetadata map[string]*structpb.Struct
}

// Value returns the value stored under namespace/key, or nil when absent.
func (m *Metadata) Value(namespace, key string) *structpb.Value {
	if m == nil {
		return nil
	}
	st, ok := m.FilterMetadata[namespace]
	if !ok || st == nil {
		return nil
	}
	return st.Fields[key]
}

// KeyValueStruct builds a single-entry struct {key: value}, the shape written
// to dynamic metadata sinks.
func KeyValueStruct(key, value string) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			key: structpb.NewStringValue(value),
		},
	}
}

// Route exposes the matched route's metadata and upstream cluster name.
type Route interface {
	Metadata() *Metadata
	ClusterName() string
}

// ClusterInfo exposes upstream cluster state consumed by templates.
type ClusterInfo interface {
	Name() string
	Metadata() *Metadata
}

// StreamInfo is the per-stream sink for dynamic metadata.
type StreamInfo interface {
	SetDynamicMetadata(namespace string, s *structpb.Struct)
	DynamicMetadata() map[string]*structpb.Struct
}

// StaticRoute is a Route backed by fixed values.
type StaticRoute struct {
	Meta    *Metadata
	Cluster string
}

func (r *StaticRoute) Metadata() *Metadata { return r.Meta }

func (r *StaticRoute) ClusterName() string { return r.Cluster }

// StaticClusterInfo is a ClusterInfo backed by fixed values.
type StaticClusterInfo struct {
	ClusterName string
	Meta        *Metadata
}

func (c *StaticClusterInfo) Name() string { return c.ClusterName }

func (c *StaticClusterInfo) Metadata() *Metadata { return c.Meta }

// DynamicMetadataStore is an in-memory StreamInfo. Struct writes to the same
// namespace merge field-wise, matching the host sink behavior.
type DynamicMetadataStore struct {
	namespaces map[string]*structpb.Struct
}

func NewDynamicMetadataStore() *DynamicMetadataStore {
	return &DynamicMetadataStore{namespaces: make(map[string]*structpb.Struct)}
}

func (d *DynamicMetadataStore) SetDynamicMetadata(namespace string, s *structpb.Struct) {
	existing, ok := d.namespaces[namespace]
	if !ok || existing == nil {
		d.namespaces[namespace] = s
		return
	}
	for k, v := range s.GetFields() {
		if existing.Fields == nil {
			existing.Fields = make(map[string]*structpb.Value)
		}
		existing.Fields[k] = v
	}
}

func (d *DynamicMetadataStore) DynamicMetadata() map[string]*structpb.Struct {
	return d.namespaces
}
