package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Callbacks is the host surface a template can reach during rendering: one
// method per callback name. Values cross this boundary JSON-typed (string,
// float64, bool, map[string]any, []any, nil).
type Callbacks interface {
	Header(name string) string
	RequestHeader(name string) string
	Extraction(name string) string
	Context() any
	// ContextLookup resolves an element path against the message context.
	// It fails when the path does not exist.
	ContextLookup(path []string) (any, error)
	Body() string
	Env(key string) string
	ClusterMetadata(key string) any
	Base64Encode(s string) string
	Base64Decode(s string) string
	Substring(s string, start, length int64, hasLength bool) string
	ReplaceWithRandom(s, pattern string) string
}

// Render evaluates the template against cb and returns the output text.
// Rendering the same template twice against the same callbacks yields the
// same output.
func (t *Template) Render(cb Callbacks) (string, error) {
	var sb strings.Builder
	for _, n := range t.nodes {
		switch n := n.(type) {
		case literalNode:
			sb.WriteString(n.text)
		case *exprNode:
			v, err := t.eval(n, cb)
			if err != nil {
				return "", err
			}
			sb.WriteString(stringify(v))
		}
	}
	return sb.String(), nil
}

func (t *Template) eval(e *exprNode, cb Callbacks) (any, error) {
	var v any
	switch prim := e.primary.(type) {
	case pathPrimary:
		full := append(append([]string(nil), prim.segments...), e.selectors...)
		return cb.ContextLookup(full)
	case callPrimary:
		var err error
		v, err = t.call(prim, cb)
		if err != nil {
			return nil, err
		}
	}
	for _, sel := range e.selectors {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot select %q from non-object value", sel)
		}
		child, ok := obj[sel]
		if !ok {
			return nil, fmt.Errorf("key %q not found", sel)
		}
		v = child
	}
	return v, nil
}

func (t *Template) call(c callPrimary, cb Callbacks) (any, error) {
	vals := make([]any, len(c.args))
	for i, a := range c.args {
		switch a.kind {
		case argString:
			vals[i] = a.str
		case argInt:
			vals[i] = a.num
		case argExpr:
			v, err := t.eval(a.expr, cb)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
	}

	str := func(i int) (string, error) {
		s, ok := vals[i].(string)
		if !ok {
			return "", fmt.Errorf("callback %q: argument %d must be a string", c.name, i+1)
		}
		return s, nil
	}

	switch c.name {
	case "header":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return cb.Header(s), nil
	case "request_header":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return cb.RequestHeader(s), nil
	case "extraction":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return cb.Extraction(s), nil
	case "context":
		return cb.Context(), nil
	case "body":
		return cb.Body(), nil
	case "env":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return cb.Env(s), nil
	case "clusterMetadata":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return cb.ClusterMetadata(s), nil
	case "base64_encode":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return cb.Base64Encode(s), nil
	case "base64_decode":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		return cb.Base64Decode(s), nil
	case "substring":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		start, ok := asInt(vals[1])
		if !ok {
			return "", nil
		}
		var length int64
		hasLength := len(vals) == 3
		if hasLength {
			if length, ok = asInt(vals[2]); !ok {
				return "", nil
			}
		}
		return cb.Substring(s, start, length, hasLength), nil
	case "replace_with_random":
		s, err := str(0)
		if err != nil {
			return nil, err
		}
		pattern, err := str(1)
		if err != nil {
			return nil, err
		}
		return cb.ReplaceWithRandom(s, pattern), nil
	}
	return nil, fmt.Errorf("unknown callback %q", c.name)
}

// asInt accepts integer-valued arguments; anything else is rejected so the
// caller can degrade to an empty string.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// stringify emits a JSON-typed value into template output. Strings emit
// verbatim; everything else uses its JSON form.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
