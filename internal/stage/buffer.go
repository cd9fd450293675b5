package stage

import "strings"

// Buffer is the single shared text accumulator of one pipeline run. The
// orchestrator owns it, the transformer appends one rendered batch, the
// loader reads it and truncates it afterwards so the next batch starts
// clean. It is never touched concurrently: the sequential batch loop
// guarantees write → read → truncate ordering within each iteration.
type Buffer struct {
	b strings.Builder
}

// NewBuffer returns an empty shared buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// WriteString appends s.
func (b *Buffer) WriteString(s string) { b.b.WriteString(s) }

// String returns the accumulated text without consuming it.
func (b *Buffer) String() string { return b.b.String() }

// Len reports the accumulated byte count.
func (b *Buffer) Len() int { return b.b.Len() }

// Truncate discards all accumulated text.
func (b *Buffer) Truncate() { b.b.Reset() }
