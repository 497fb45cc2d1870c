package transform

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/morphproxy/morph/internal/api"
)

// Instance binds one message's state to the template callback surface. It is
// built fresh per transformed message and discarded afterwards.
type Instance struct {
	headers        api.HeaderMap
	requestHeaders api.HeaderMap
	body           func() string
	extractions    map[string]string
	ctx            *Context
	environ        map[string]string
	clusterMeta    *api.Metadata
	rng            api.RandomGenerator

	replacements map[string]string
}

// NewInstance assembles the callback state for a single message.
// requestHeaders is nil while transforming a request, where header() already
// reads the request headers.
func NewInstance(
	headers, requestHeaders api.HeaderMap,
	body func() string,
	extractions map[string]string,
	ctx *Context,
	environ map[string]string,
	clusterMeta *api.Metadata,
	rng api.RandomGenerator,
) *Instance {
	return &Instance{
		headers:        headers,
		requestHeaders: requestHeaders,
		body:           body,
		extractions:    extractions,
		ctx:            ctx,
		environ:        environ,
		clusterMeta:    clusterMeta,
		rng:            rng,
	}
}

func (in *Instance) Header(name string) string {
	v, _ := in.headers.Get(name)
	return v
}

func (in *Instance) RequestHeader(name string) string {
	if in.requestHeaders == nil {
		return ""
	}
	v, _ := in.requestHeaders.Get(name)
	return v
}

func (in *Instance) Extraction(name string) string {
	return in.extractions[name]
}

func (in *Instance) Context() any {
	return in.ctx.Value()
}

func (in *Instance) ContextLookup(path []string) (any, error) {
	v, ok := in.ctx.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("no element found at path %q", strings.Join(path, "."))
	}
	return v, nil
}

func (in *Instance) Body() string {
	return in.body()
}

func (in *Instance) Env(key string) string {
	return in.environ[key]
}

// ClusterMetadata resolves key inside the canonical namespace of the upstream
// cluster's metadata. Strings and numbers pass through, bools become "true"
// or "false", and a list joins its primitive elements with commas. Anything
// else yields the empty string.
func (in *Instance) ClusterMetadata(key string) any {
	if in.clusterMeta == nil {
		return ""
	}
	v := in.clusterMeta.Value(api.MetadataNamespace, key)
	if v == nil {
		return ""
	}
	switch k := v.Kind.(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return k.NumberValue
	case *structpb.Value_BoolValue:
		if k.BoolValue {
			return "true"
		}
		return "false"
	case *structpb.Value_ListValue:
		parts := make([]string, 0, len(k.ListValue.Values))
		for _, lv := range k.ListValue.Values {
			switch e := lv.Kind.(type) {
			case *structpb.Value_StringValue:
				parts = append(parts, e.StringValue)
			case *structpb.Value_NumberValue:
				parts = append(parts, strconv.FormatFloat(e.NumberValue, 'f', -1, 64))
			case *structpb.Value_BoolValue:
				parts = append(parts, strconv.FormatBool(e.BoolValue))
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}

func (in *Instance) Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func (in *Instance) Base64Decode(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	return string(b)
}

// Substring indexes by byte. An out-of-range start yields the empty string;
// a non-positive or overlong length yields the suffix from start.
func (in *Instance) Substring(s string, start, length int64, hasLength bool) string {
	n := int64(len(s))
	if start < 0 || start >= n {
		return ""
	}
	if !hasLength || length <= 0 || length > n-start {
		return s[start:]
	}
	return s[start : start+length]
}

// ReplaceWithRandom swaps every occurrence of pattern in s for a random
// string. The same pattern maps to the same random string for the lifetime
// of the message, so correlated occurrences stay correlated.
func (in *Instance) ReplaceWithRandom(s, pattern string) string {
	if in.replacements == nil {
		in.replacements = make(map[string]string)
	}
	r, ok := in.replacements[pattern]
	if !ok {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], in.rng.Random())
		binary.LittleEndian.PutUint64(buf[8:16], in.rng.Random())
		r = base64.RawStdEncoding.EncodeToString(buf[:])
		in.replacements[pattern] = r
	}
	return strings.ReplaceAll(s, pattern, r)
}
