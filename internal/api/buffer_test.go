package api

import "testing"

func TestBufferMoveDrainsSource(t *testing.T) {
	dst := NewBuffer([]byte("abc"))
	src := NewBuffer([]byte("def"))
	dst.Move(src)

	if dst.String() != "abcdef" {
		t.Fatalf("expected abcdef, got %q", dst.String())
	}
	if src.Len() != 0 {
		t.Fatalf("expected source drained, got %q", src.String())
	}
}

func TestBufferDrain(t *testing.T) {
	b := NewBuffer([]byte("abcdef"))
	b.Drain(2)
	if b.String() != "cdef" {
		t.Fatalf("expected cdef, got %q", b.String())
	}
	b.Drain(100)
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %q", b.String())
	}
}

func TestBufferPrepend(t *testing.T) {
	b := NewBuffer([]byte("world"))
	b.Prepend([]byte("hello "))
	if b.String() != "hello world" {
		t.Fatalf("expected hello world, got %q", b.String())
	}

	empty := NewBuffer(nil)
	empty.Prepend([]byte("x"))
	if empty.String() != "x" {
		t.Fatalf("expected x, got %q", empty.String())
	}
}

func TestBufferReplace(t *testing.T) {
	b := NewBuffer([]byte("old"))
	b.Replace([]byte("new"))
	if b.String() != "new" {
		t.Fatalf("expected new, got %q", b.String())
	}
	b.Replace(nil)
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %q", b.String())
	}
}
