package config

import (
	"time"
)

// ParseBehavior selects how a transformation treats the message body before
// rendering.
type ParseBehavior string

const (
	// ParseAsJSON parses a non-empty body as JSON and exposes it to
	// templates as the message context.
	ParseAsJSON ParseBehavior = "parse_as_json"
	// DontParse leaves the body opaque; templates see a null context.
	DontParse ParseBehavior = "dont_parse"
)

// Config is the complete proxy configuration.
type Config struct {
	Listeners       []ListenerConfig                `yaml:"listeners"`
	Admin           AdminConfig                     `yaml:"admin"`
	Logging         LoggingConfig                   `yaml:"logging"`
	Buffers         BufferConfig                    `yaml:"buffers"`
	Clusters        []ClusterConfig                 `yaml:"clusters"`
	Routes          []RouteConfig                   `yaml:"routes"`
	Transformations map[string]TransformationConfig `yaml:"transformations"`
	Nats            NatsConfig                      `yaml:"nats"`
}

// ListenerConfig defines an HTTP listener.
type ListenerConfig struct {
	ID                string        `yaml:"id"`
	Address           string        `yaml:"address"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
}

// AdminConfig defines the admin endpoint serving health, metrics, and the
// active configuration.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig defines logger behavior.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json or console
	Output     string `yaml:"output"` // stdout, stderr, or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// BufferConfig caps how much body either direction may accumulate before the
// transformation rejects the message.
type BufferConfig struct {
	DecoderLimitBytes int `yaml:"decoder_limit_bytes"`
	EncoderLimitBytes int `yaml:"encoder_limit_bytes"`
}

// ClusterConfig names an upstream pool and carries the metadata templates can
// read through the clusterMetadata callback.
type ClusterConfig struct {
	Name     string         `yaml:"name"`
	Backends []string       `yaml:"backends"`
	Metadata map[string]any `yaml:"metadata"`
}

// RouteConfig binds a request matcher to an upstream cluster and the
// transformations applied on each direction.
type RouteConfig struct {
	ID                     string             `yaml:"id"`
	Path                   string             `yaml:"path"`
	PathPrefix             bool               `yaml:"path_prefix"`
	Methods                []string           `yaml:"methods"`
	Cluster                string             `yaml:"cluster"`
	RequestTransformation  *TransformationRef `yaml:"request_transformation"`
	ResponseTransformation *TransformationRef `yaml:"response_transformation"`
}

// TransformationRef selects a transformation for one direction of a route.
// Exactly one of Template (direct mode) or Functions (functional mode) is
// set. Functions maps cluster name to function name to template id.
type TransformationRef struct {
	Template  string                       `yaml:"template"`
	Functions map[string]map[string]string `yaml:"functions"`
}

// TransformationConfig is the template schema for one named transformation.
// Condition is an optional boolean expression over method, path, and headers;
// when it evaluates false the transformation is skipped for that message.
type TransformationConfig struct {
	Condition             string                    `yaml:"condition"`
	AdvancedTemplates     bool                      `yaml:"advanced_templates"`
	Extractors            map[string]ExtractorConfig `yaml:"extractors"`
	Headers               map[string]string         `yaml:"headers"`
	HeadersToAppend       []HeaderValueConfig       `yaml:"headers_to_append"`
	HeadersToRemove       []string                  `yaml:"headers_to_remove"`
	DynamicMetadataValues []DynamicMetadataConfig   `yaml:"dynamic_metadata_values"`
	ParseBodyBehavior     ParseBehavior             `yaml:"parse_body_behavior"`
	IgnoreErrorOnParse    bool                      `yaml:"ignore_error_on_parse"`

	// Body, Passthrough, and MergeExtractorsToBody are mutually exclusive
	// body modes. With none set, the body passes through untouched but is
	// still buffered and readable by templates.
	Body                  *string `yaml:"body"`
	Passthrough           bool    `yaml:"passthrough"`
	MergeExtractorsToBody bool    `yaml:"merge_extractors_to_body"`
}

// ExtractorConfig captures one value from a header or the body via a regex
// capture group. An empty Header selects the body as the source.
type ExtractorConfig struct {
	Header   string `yaml:"header"`
	Regex    string `yaml:"regex"`
	Subgroup int    `yaml:"subgroup"`
}

// HeaderValueConfig is one header-append entry.
type HeaderValueConfig struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// DynamicMetadataConfig emits one rendered value into dynamic metadata.
// An empty MetadataNamespace defaults to the filter's canonical namespace.
type DynamicMetadataConfig struct {
	MetadataNamespace string `yaml:"metadata_namespace"`
	Key               string `yaml:"key"`
	Value             string `yaml:"value"`
}

// NatsConfig defines the streaming publish bridge.
type NatsConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	ClusterID         string        `yaml:"cluster_id"`
	ClientID          string        `yaml:"client_id"`
	DiscoverPrefix    string        `yaml:"discover_prefix"`
	Subject           string        `yaml:"subject"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	MaxReconnectWait  time.Duration `yaml:"max_reconnect_wait"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns the configuration defaults applied before YAML
// unmarshaling.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Address: ":9901",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Buffers: BufferConfig{
			DecoderLimitBytes: 1 << 20,
			EncoderLimitBytes: 1 << 20,
		},
		Nats: NatsConfig{
			DiscoverPrefix:    "_STAN.discover",
			AckTimeout:        30 * time.Second,
			MaxReconnectWait:  30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
	}
}
