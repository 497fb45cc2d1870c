package transform

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/morphproxy/morph/internal/api"
)

// seqRandom yields a deterministic sequence for random-replacement tests.
type seqRandom struct{ n uint64 }

func (s *seqRandom) Random() uint64 {
	s.n++
	return s.n
}

func newTestInstance(meta *api.Metadata) *Instance {
	return NewInstance(
		headerMap("x-user", "alice"),
		headerMap("x-req", "orig"),
		func() string { return "the body" },
		map[string]string{"id": "42"},
		NullContext(),
		map[string]string{"HOME": "/home/alice"},
		meta,
		&seqRandom{},
	)
}

func TestInstanceBasicCallbacks(t *testing.T) {
	in := newTestInstance(nil)

	if got := in.Header("x-user"); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
	if got := in.Header("missing"); got != "" {
		t.Fatalf("expected empty string for missing header, got %q", got)
	}
	if got := in.RequestHeader("x-req"); got != "orig" {
		t.Fatalf("expected orig, got %q", got)
	}
	if got := in.Extraction("id"); got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
	if got := in.Body(); got != "the body" {
		t.Fatalf("expected body text, got %q", got)
	}
	if got := in.Env("HOME"); got != "/home/alice" {
		t.Fatalf("expected env value, got %q", got)
	}
	if got := in.Env("NOPE"); got != "" {
		t.Fatalf("expected empty string for missing env, got %q", got)
	}
}

func TestInstanceRequestHeaderNilOnRequestPath(t *testing.T) {
	in := NewInstance(headerMap(), nil, emptyBody, nil, NullContext(), nil, nil, &seqRandom{})
	if got := in.RequestHeader("anything"); got != "" {
		t.Fatalf("expected empty string with nil request headers, got %q", got)
	}
}

func TestInstanceContextLookupError(t *testing.T) {
	in := newTestInstance(nil)
	if _, err := in.ContextLookup([]string{"a", "b"}); err == nil {
		t.Fatal("expected lookup error on null context")
	}
}

func TestInstanceClusterMetadata(t *testing.T) {
	st, err := structpb.NewStruct(map[string]any{
		"region": "us-east",
		"weight": 2.5,
		"canary": true,
		"zones":  []any{"a", "b"},
		"mixed":  []any{"a", 1.0, true, map[string]any{"x": "y"}},
		"nested": map[string]any{"x": "y"},
	})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	meta := &api.Metadata{
		FilterMetadata: map[string]*structpb.Struct{api.MetadataNamespace: st},
	}
	in := newTestInstance(meta)

	if got := in.ClusterMetadata("region"); got != "us-east" {
		t.Fatalf("expected us-east, got %v", got)
	}
	if got := in.ClusterMetadata("weight"); got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
	if got := in.ClusterMetadata("canary"); got != "true" {
		t.Fatalf("expected true, got %v", got)
	}
	if got := in.ClusterMetadata("zones"); got != "a,b" {
		t.Fatalf("expected comma-joined list, got %v", got)
	}
	if got := in.ClusterMetadata("mixed"); got != "a,1,true" {
		t.Fatalf("expected primitives joined and non-primitives skipped, got %v", got)
	}
	if got := in.ClusterMetadata("nested"); got != "" {
		t.Fatalf("expected empty string for nested struct, got %v", got)
	}
	if got := in.ClusterMetadata("missing"); got != "" {
		t.Fatalf("expected empty string for absent key, got %v", got)
	}
	if got := newTestInstance(nil).ClusterMetadata("region"); got != "" {
		t.Fatalf("expected empty string with nil metadata, got %v", got)
	}
}

func TestInstanceBase64(t *testing.T) {
	in := newTestInstance(nil)
	enc := in.Base64Encode("hello")
	if enc != "aGVsbG8=" {
		t.Fatalf("expected aGVsbG8=, got %q", enc)
	}
	if got := in.Base64Decode(enc); got != "hello" {
		t.Fatalf("expected round trip, got %q", got)
	}
	if got := in.Base64Decode("%%%"); got != "" {
		t.Fatalf("expected empty string for invalid input, got %q", got)
	}
}

func TestInstanceSubstring(t *testing.T) {
	in := newTestInstance(nil)
	cases := []struct {
		start, length int64
		hasLength     bool
		want          string
	}{
		{1, 3, true, "bcd"},
		{2, 0, false, "cdef"},
		{2, 0, true, "cdef"},
		{0, 100, true, "abcdef"},
		{0, -1, true, "abcdef"},
		{-1, 2, true, ""},
		{6, 1, true, ""},
		{10, 1, true, ""},
	}
	for _, tc := range cases {
		got := in.Substring("abcdef", tc.start, tc.length, tc.hasLength)
		if got != tc.want {
			t.Errorf("substring(abcdef, %d, %d, %v): expected %q, got %q",
				tc.start, tc.length, tc.hasLength, tc.want, got)
		}
	}
}

func TestInstanceReplaceWithRandomIsStablePerPattern(t *testing.T) {
	in := newTestInstance(nil)
	first := in.ReplaceWithRandom("abc", "abc")
	second := in.ReplaceWithRandom("abc-abc", "abc")
	if first == "" || first == "abc" {
		t.Fatalf("expected a replacement, got %q", first)
	}
	if second != first+"-"+first {
		t.Fatalf("expected stable replacement within a message, got %q vs %q", first, second)
	}

	other := newTestInstance(nil)
	other.rng = &seqRandom{n: 100}
	if got := other.ReplaceWithRandom("abc", "abc"); got == first {
		t.Fatal("expected different messages to draw different replacements")
	}
}

func TestInstanceReplaceWithRandomDistinctPatterns(t *testing.T) {
	in := newTestInstance(nil)
	a := in.ReplaceWithRandom("x", "x")
	b := in.ReplaceWithRandom("y", "y")
	if a == b {
		t.Fatalf("expected distinct replacements for distinct patterns, got %q", a)
	}
}
