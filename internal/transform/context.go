package transform

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Context is the parsed JSON body a message's templates evaluate against.
// The zero value is the null context. Extraction injection (basic mode)
// mutates the document in place, so later lookups and the merge body mode
// observe injected values.
type Context struct {
	raw []byte
}

// ParseContext parses body as JSON. The returned error carries the decoder's
// description for the client-visible detail.
func ParseContext(body []byte) (*Context, error) {
	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}
	return &Context{raw: append([]byte(nil), body...)}, nil
}

// NullContext returns the null context.
func NullContext() *Context { return &Context{} }

// IsObject reports whether the context document is a JSON object.
func (c *Context) IsObject() bool {
	if c == nil || len(c.raw) == 0 {
		return false
	}
	return gjson.ParseBytes(c.raw).IsObject()
}

// Value returns the context document as a JSON-typed value. The null context
// yields nil.
func (c *Context) Value() any {
	if c == nil || len(c.raw) == 0 {
		return nil
	}
	return gjson.ParseBytes(c.raw).Value()
}

// Lookup resolves an element path. Lookups against a non-object context fail,
// so templates that do not touch the context still render.
func (c *Context) Lookup(path []string) (any, bool) {
	if !c.IsObject() {
		return nil, false
	}
	res := gjson.GetBytes(c.raw, joinPath(path))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Inject assigns value at the dotted path, creating intermediate objects.
// Non-object intermediates are overwritten, and a null document becomes an
// object holding the path.
func (c *Context) Inject(path []string, value string) {
	raw := c.raw
	if len(raw) == 0 || !gjson.ParseBytes(raw).IsObject() {
		raw = []byte("{}")
	}
	out, err := sjson.SetBytes(raw, joinPath(path), value)
	if err != nil {
		return
	}
	c.raw = out
}

// Dump serializes the context document. The null context dumps as "null".
func (c *Context) Dump() []byte {
	if c == nil || len(c.raw) == 0 {
		return []byte("null")
	}
	return c.raw
}

// joinPath builds a gjson path from raw segments, escaping path
// metacharacters so segments match literally.
func joinPath(segments []string) string {
	var sb strings.Builder
	for i, seg := range segments {
		if i > 0 {
			sb.WriteByte('.')
		}
		for j := 0; j < len(seg); j++ {
			switch seg[j] {
			case '.', '*', '?', '\\', '|', '#', '@':
				sb.WriteByte('\\')
			}
			sb.WriteByte(seg[j])
		}
	}
	return sb.String()
}
