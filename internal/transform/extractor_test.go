package transform

import (
	"net/http"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/morphproxy/morph/internal/api"
)

func headerMap(pairs ...string) api.HeaderMap {
	h := http.Header{}
	for i := 0; i < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return api.NewRequestHeaderMap(h)
}

func emptyBody() string { return "" }

func TestNewExtractorRejectsBadGroup(t *testing.T) {
	_, err := NewExtractor("x-id", `(\d+)`, 2)
	if err == nil {
		t.Fatal("expected error for out-of-range group")
	}
	if !strings.Contains(err.Error(), "group 2 requested for regex with only 1 sub groups") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestNewExtractorRejectsBadRegex(t *testing.T) {
	if _, err := NewExtractor("x-id", `(`, 0); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestExtractHeaderSubgroup(t *testing.T) {
	ex, err := NewExtractor("x-id", `user-(\d+)`, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := ex.Extract(zap.NewNop(), headerMap("x-id", "user-42"), emptyBody)
	if got != "42" {
		t.Fatalf("expected 42, got %q", got)
	}
}

func TestExtractFullMatch(t *testing.T) {
	ex, err := NewExtractor("x-id", `user-\d+`, 0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := ex.Extract(zap.NewNop(), headerMap("x-id", "user-42"), emptyBody)
	if got != "user-42" {
		t.Fatalf("expected whole match, got %q", got)
	}
}

func TestExtractRequiresWholeSourceMatch(t *testing.T) {
	ex, err := NewExtractor("x-id", `user-(\d+)`, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := ex.Extract(zap.NewNop(), headerMap("x-id", "prefix user-42 suffix"), emptyBody)
	if got != "" {
		t.Fatalf("expected empty string for partial match, got %q", got)
	}
}

func TestExtractMissingHeader(t *testing.T) {
	ex, err := NewExtractor("x-id", `.*`, 0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := ex.Extract(zap.NewNop(), headerMap(), emptyBody)
	if got != "" {
		t.Fatalf("expected empty string for absent header, got %q", got)
	}
}

func TestExtractFromBody(t *testing.T) {
	ex, err := NewExtractor("", `\{"id":"(\w+)"\}`, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := ex.Extract(zap.NewNop(), headerMap(), func() string { return `{"id":"abc"}` })
	if got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestExtractUnmatchedOptionalGroup(t *testing.T) {
	ex, err := NewExtractor("x-id", `a(b)?c`, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := ex.Extract(zap.NewNop(), headerMap("x-id", "ac"), emptyBody)
	if got != "" {
		t.Fatalf("expected empty string for unmatched group, got %q", got)
	}
}
