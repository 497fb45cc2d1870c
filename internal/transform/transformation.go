// Package transform compiles transformation configs into executable
// transformations and applies them to buffered HTTP messages. Compilation
// happens once at config load; the compiled form is immutable and shared
// across streams.
package transform

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/morphproxy/morph/internal/api"
	"github.com/morphproxy/morph/internal/config"
	"github.com/morphproxy/morph/internal/errors"
	"github.com/morphproxy/morph/internal/template"
)

type headerTemplate struct {
	name string
	tmpl *template.Template
}

type metadataTemplate struct {
	namespace string
	key       string
	tmpl      *template.Template
}

type namedExtractor struct {
	name string
	path []string
	ex   *Extractor
}

// Transformation is one compiled transformation. It carries no per-message
// state and is safe for concurrent use.
type Transformation struct {
	advanced    bool
	parseBody   bool
	ignoreParse bool
	passthrough bool
	mergeToBody bool

	condition  *vm.Program
	extractors []namedExtractor
	headers    []headerTemplate
	appends    []headerTemplate
	removes    []string
	metadata   []metadataTemplate
	body       *template.Template

	environ map[string]string
	rng     api.RandomGenerator
}

// New compiles cfg. Template or extractor errors reject the whole
// transformation. The process environment is snapshotted here, so later
// environment changes are invisible to rendering.
func New(cfg config.TransformationConfig, rng api.RandomGenerator) (*Transformation, error) {
	notation := template.NotationDot
	if cfg.AdvancedTemplates {
		notation = template.NotationPointer
	}
	parse := func(what, src string) (*template.Template, error) {
		t, err := template.Parse(src, notation)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		return t, nil
	}

	tr := &Transformation{
		advanced:    cfg.AdvancedTemplates,
		parseBody:   cfg.ParseBodyBehavior != config.DontParse && !cfg.Passthrough,
		ignoreParse: cfg.IgnoreErrorOnParse,
		passthrough: cfg.Passthrough,
		mergeToBody: cfg.MergeExtractorsToBody,
		removes:     append([]string(nil), cfg.HeadersToRemove...),
		environ:     environSnapshot(),
		rng:         rng,
	}
	if tr.rng == nil {
		tr.rng = api.DefaultRandom{}
	}

	if cfg.Condition != "" {
		prog, err := expr.Compile(cfg.Condition, expr.Env(conditionEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("condition: %w", err)
		}
		tr.condition = prog
	}

	for _, name := range sortedKeys(cfg.Extractors) {
		ec := cfg.Extractors[name]
		ex, err := NewExtractor(ec.Header, ec.Regex, ec.Subgroup)
		if err != nil {
			return nil, fmt.Errorf("extractor %q: %w", name, err)
		}
		tr.extractors = append(tr.extractors, namedExtractor{
			name: name,
			path: strings.Split(name, "."),
			ex:   ex,
		})
	}

	for _, name := range sortedKeys(cfg.Headers) {
		t, err := parse(fmt.Sprintf("header %q", name), cfg.Headers[name])
		if err != nil {
			return nil, err
		}
		tr.headers = append(tr.headers, headerTemplate{name: name, tmpl: t})
	}
	for _, h := range cfg.HeadersToAppend {
		t, err := parse(fmt.Sprintf("header append %q", h.Key), h.Value)
		if err != nil {
			return nil, err
		}
		tr.appends = append(tr.appends, headerTemplate{name: h.Key, tmpl: t})
	}
	for _, d := range cfg.DynamicMetadataValues {
		t, err := parse(fmt.Sprintf("dynamic metadata %q", d.Key), d.Value)
		if err != nil {
			return nil, err
		}
		ns := d.MetadataNamespace
		if ns == "" {
			ns = api.MetadataNamespace
		}
		tr.metadata = append(tr.metadata, metadataTemplate{namespace: ns, key: d.Key, tmpl: t})
	}
	if cfg.Body != nil {
		t, err := parse("body", *cfg.Body)
		if err != nil {
			return nil, err
		}
		tr.body = t
	}

	return tr, nil
}

// Passthrough reports whether the transformation ignores the message body
// entirely, so the filter can skip buffering it.
func (tr *Transformation) Passthrough() bool { return tr.passthrough }

type conditionEnv struct {
	Method  string            `expr:"method"`
	Path    string            `expr:"path"`
	Headers map[string]string `expr:"headers"`
}

// Matches evaluates the optional condition against the request line. A
// transformation without a condition matches everything. Evaluation errors
// count as no match.
func (tr *Transformation) Matches(method, path string, headers api.HeaderMap) bool {
	if tr.condition == nil {
		return true
	}
	hs := make(map[string]string)
	headers.Range(func(name, value string) bool {
		if _, ok := hs[name]; !ok {
			hs[name] = value
		}
		return true
	})
	out, err := expr.Run(tr.condition, conditionEnv{Method: method, Path: path, Headers: hs})
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// Transform applies the transformation to one buffered message.
// requestHeaders is nil on the request path. Errors are FilterError values
// carrying the client-visible status and body.
func (tr *Transformation) Transform(
	headers api.HeaderMap,
	requestHeaders api.HeaderMap,
	body *api.Buffer,
	cb api.StreamFilterCallbacks,
) error {
	getBody := func() string { return body.String() }

	ctx := NullContext()
	if tr.parseBody && body.Len() > 0 {
		parsed, err := ParseContext(body.Bytes())
		if err != nil {
			if !tr.ignoreParse {
				return errors.Wrap(errors.KindJSONParse, err)
			}
		} else {
			ctx = parsed
		}
	}

	extractions := make(map[string]string, len(tr.extractors))
	for _, ne := range tr.extractors {
		v := ne.ex.Extract(cb.Logger(), headers, getBody)
		if tr.advanced {
			extractions[ne.name] = v
		} else {
			ctx.Inject(ne.path, v)
		}
	}

	var clusterMeta *api.Metadata
	if ci := cb.ClusterInfo(); ci != nil {
		clusterMeta = ci.Metadata()
	}
	inst := NewInstance(headers, requestHeaders, getBody, extractions, ctx, tr.environ, clusterMeta, tr.rng)

	var newBody []byte
	switch {
	case tr.body != nil:
		out, err := tr.body.Render(inst)
		if err != nil {
			return errors.Wrap(errors.KindTemplateRender, err)
		}
		newBody = []byte(out)
	case tr.mergeToBody:
		newBody = ctx.Dump()
	}

	for _, m := range tr.metadata {
		out, err := m.tmpl.Render(inst)
		if err != nil {
			return errors.Wrap(errors.KindTemplateRender, err)
		}
		if out == "" {
			continue
		}
		cb.StreamInfo().SetDynamicMetadata(m.namespace, api.KeyValueStruct(m.key, out))
	}

	for _, h := range tr.headers {
		out, err := h.tmpl.Render(inst)
		if err != nil {
			return errors.Wrap(errors.KindTemplateRender, err)
		}
		headers.Remove(h.name)
		if out != "" {
			headers.Add(h.name, out)
		}
	}

	for _, name := range tr.removes {
		headers.Remove(name)
	}

	for _, h := range tr.appends {
		out, err := h.tmpl.Render(inst)
		if err != nil {
			return errors.Wrap(errors.KindTemplateRender, err)
		}
		if out != "" {
			headers.Add(h.name, out)
		}
	}

	if newBody != nil {
		headers.Remove("Content-Length")
		body.Replace(newBody)
		api.SetContentLength(headers, body.Len())
	}

	return nil
}

func environSnapshot() map[string]string {
	env := os.Environ()
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
