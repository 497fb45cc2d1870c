package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks the configuration for structural errors. Template syntax is
// checked separately when the transformation registry compiles.
func (l *Loader) validate(cfg *Config) error {
	if len(cfg.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}

	listenerIDs := make(map[string]bool)
	for i, listener := range cfg.Listeners {
		if listener.ID == "" {
			return fmt.Errorf("listener %d: id is required", i)
		}
		if listenerIDs[listener.ID] {
			return fmt.Errorf("duplicate listener id: %s", listener.ID)
		}
		listenerIDs[listener.ID] = true
		if listener.Address == "" {
			return fmt.Errorf("listener %s: address is required", listener.ID)
		}
	}

	if cfg.Buffers.DecoderLimitBytes <= 0 {
		return fmt.Errorf("buffers.decoder_limit_bytes must be > 0")
	}
	if cfg.Buffers.EncoderLimitBytes <= 0 {
		return fmt.Errorf("buffers.encoder_limit_bytes must be > 0")
	}

	clusterNames := make(map[string]bool)
	for i, c := range cfg.Clusters {
		if c.Name == "" {
			return fmt.Errorf("cluster %d: name is required", i)
		}
		if clusterNames[c.Name] {
			return fmt.Errorf("duplicate cluster name: %s", c.Name)
		}
		clusterNames[c.Name] = true
		if len(c.Backends) == 0 {
			return fmt.Errorf("cluster %s: at least one backend is required", c.Name)
		}
	}

	for name, t := range cfg.Transformations {
		if err := l.validateTransformation(name, t); err != nil {
			return err
		}
	}

	routeIDs := make(map[string]bool)
	for i, route := range cfg.Routes {
		if route.ID == "" {
			return fmt.Errorf("route %d: id is required", i)
		}
		if routeIDs[route.ID] {
			return fmt.Errorf("duplicate route id: %s", route.ID)
		}
		routeIDs[route.ID] = true
		if route.Path == "" {
			return fmt.Errorf("route %s: path is required", route.ID)
		}
		if route.Cluster == "" {
			return fmt.Errorf("route %s: cluster is required", route.ID)
		}
		if !clusterNames[route.Cluster] {
			return fmt.Errorf("route %s: references unknown cluster: %s", route.ID, route.Cluster)
		}
		for _, m := range route.Methods {
			if !validHTTPMethods[m] {
				return fmt.Errorf("route %s: invalid HTTP method: %s", route.ID, m)
			}
		}
		if err := l.validateRef(route.ID, "request_transformation", route.RequestTransformation, cfg); err != nil {
			return err
		}
		if err := l.validateRef(route.ID, "response_transformation", route.ResponseTransformation, cfg); err != nil {
			return err
		}
	}

	if cfg.Nats.Enabled {
		if cfg.Nats.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if cfg.Nats.Subject == "" {
			return fmt.Errorf("nats.subject is required when nats is enabled")
		}
	}

	return nil
}

func (l *Loader) validateTransformation(name string, t TransformationConfig) error {
	switch t.ParseBodyBehavior {
	case "", ParseAsJSON, DontParse:
	default:
		return fmt.Errorf("transformation %s: invalid parse_body_behavior %q", name, t.ParseBodyBehavior)
	}

	modes := 0
	if t.Body != nil {
		modes++
	}
	if t.Passthrough {
		modes++
	}
	if t.MergeExtractorsToBody {
		modes++
	}
	if modes > 1 {
		return fmt.Errorf("transformation %s: body, passthrough, and merge_extractors_to_body are mutually exclusive", name)
	}
	if t.MergeExtractorsToBody && t.ParseBodyBehavior == DontParse {
		return fmt.Errorf("transformation %s: merge_extractors_to_body requires body parsing", name)
	}

	for exName, ex := range t.Extractors {
		if ex.Regex == "" {
			return fmt.Errorf("transformation %s: extractor %s: regex is required", name, exName)
		}
		if ex.Subgroup < 0 {
			return fmt.Errorf("transformation %s: extractor %s: subgroup must be >= 0", name, exName)
		}
	}

	for i, h := range t.HeadersToAppend {
		if h.Key == "" {
			return fmt.Errorf("transformation %s: headers_to_append %d: key is required", name, i)
		}
	}
	for i, d := range t.DynamicMetadataValues {
		if d.Key == "" {
			return fmt.Errorf("transformation %s: dynamic_metadata_values %d: key is required", name, i)
		}
	}
	return nil
}

func (l *Loader) validateRef(routeID, field string, ref *TransformationRef, cfg *Config) error {
	if ref == nil {
		return nil
	}
	if ref.Template != "" && len(ref.Functions) > 0 {
		return fmt.Errorf("route %s: %s: template and functions are mutually exclusive", routeID, field)
	}
	if ref.Template == "" && len(ref.Functions) == 0 {
		return fmt.Errorf("route %s: %s: one of template or functions is required", routeID, field)
	}
	if ref.Template != "" {
		if _, ok := cfg.Transformations[ref.Template]; !ok {
			return fmt.Errorf("route %s: %s: references unknown transformation: %s", routeID, field, ref.Template)
		}
	}
	for cluster, fns := range ref.Functions {
		for fn, id := range fns {
			if _, ok := cfg.Transformations[id]; !ok {
				return fmt.Errorf("route %s: %s: function %s/%s references unknown transformation: %s", routeID, field, cluster, fn, id)
			}
		}
	}
	return nil
}
