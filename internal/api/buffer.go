package api

import "bytes"

// Buffer accumulates body bytes for one direction of a stream. It mirrors the
// host connection buffer contract: length, drain, prepend, and a string view.
type Buffer struct {
	b bytes.Buffer
}

// NewBuffer creates a Buffer seeded with p.
func NewBuffer(p []byte) *Buffer {
	buf := &Buffer{}
	buf.b.Write(p)
	return buf
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.b.Len() }

// Bytes returns the buffered bytes. The slice is valid until the next
// mutation.
func (b *Buffer) Bytes() []byte { return b.b.Bytes() }

// String returns the buffered bytes as a string.
func (b *Buffer) String() string { return b.b.String() }

// Write appends p, satisfying io.Writer.
func (b *Buffer) Write(p []byte) (int, error) { return b.b.Write(p) }

// Move appends the contents of other and drains it.
func (b *Buffer) Move(other *Buffer) {
	b.b.Write(other.b.Bytes())
	other.b.Reset()
}

// Drain discards the first n bytes. Draining more than Len empties the
// buffer.
func (b *Buffer) Drain(n int) {
	if n >= b.b.Len() {
		b.b.Reset()
		return
	}
	b.b.Next(n)
}

// Prepend inserts p before the buffered bytes.
func (b *Buffer) Prepend(p []byte) {
	if b.b.Len() == 0 {
		b.b.Write(p)
		return
	}
	rest := append([]byte(nil), b.b.Bytes()...)
	b.b.Reset()
	b.b.Write(p)
	b.b.Write(rest)
}

// Replace swaps the buffered contents for p.
func (b *Buffer) Replace(p []byte) {
	b.b.Reset()
	b.b.Write(p)
}
