package finder

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives access records as they are produced.
type Sink interface {
	Write(rec Record) error
}

// TextSink writes one line per record to an io.Writer.
type TextSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextSink creates a sink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

// Write implements Sink.
func (s *TextSink) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, rec.Line())
	return err
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(rec Record) error

// Write implements Sink.
func (f SinkFunc) Write(rec Record) error {
	return f(rec)
}
