// Package logging provides the slog plumbing shared by the core: a ring
// buffer that captures recent records for live streaming, and the Reporter
// that turns operation failures into user-facing messages.
package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer stores the most recent entries and fans new ones out to
// subscribers. Slow subscribers miss entries rather than block writers.
type RingBuffer[T any] struct {
	entries []T
	size    int
	head    int
	count   int
	mu      sync.RWMutex

	subscribers map[chan T]struct{}
	subMu       sync.RWMutex
}

// NewRingBuffer creates a new ring buffer holding up to size entries
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer[T]{
		entries:     make([]T, size),
		size:        size,
		subscribers: make(map[chan T]struct{}),
	}
}

// Add appends an entry, overwriting the oldest one when full
func (rb *RingBuffer[T]) Add(entry T) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.RLock()
	for ch := range rb.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	rb.subMu.RUnlock()
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything.
func (rb *RingBuffer[T]) Recent(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}

	result := make([]T, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Len returns the number of stored entries
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Subscribe creates a channel that receives new entries
func (rb *RingBuffer[T]) Subscribe() chan T {
	ch := make(chan T, 100)
	rb.subMu.Lock()
	rb.subscribers[ch] = struct{}{}
	rb.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription
func (rb *RingBuffer[T]) Unsubscribe(ch chan T) {
	rb.subMu.Lock()
	defer rb.subMu.Unlock()
	if _, ok := rb.subscribers[ch]; ok {
		delete(rb.subscribers, ch)
		close(ch)
	}
}

// StreamHandler is a slog handler that captures records into a ring buffer
// before passing them on.
type StreamHandler struct {
	buffer   *RingBuffer[LogEntry]
	fallback slog.Handler
	level    slog.Level
	attrs    []slog.Attr
}

// NewStreamHandler creates a capturing handler writing JSON to w
func NewStreamHandler(buffer *RingBuffer[LogEntry], w io.Writer, level slog.Level) *StreamHandler {
	return &StreamHandler{
		buffer:   buffer,
		fallback: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
		level:    level,
	}
}

// Enabled implements slog.Handler
func (h *StreamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	collect := func(a slog.Attr) {
		if a.Key == "component" {
			component = a.Value.String()
			return
		}
		attrs[a.Key] = a.Value.Any()
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})

	if h.buffer != nil {
		h.buffer.Add(LogEntry{
			Time:      r.Time,
			Level:     r.Level.String(),
			Message:   r.Message,
			Component: component,
			Attrs:     attrs,
		})
	}

	return h.fallback.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithAttrs(attrs),
		level:    h.level,
		attrs:    merged,
	}
}

// WithGroup implements slog.Handler
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithGroup(name),
		level:    h.level,
		attrs:    h.attrs,
	}
}

// NewLogger builds the process logger. Records go to w as JSON (or text
// when format is "text") and are captured into buffer.
func NewLogger(buffer *RingBuffer[LogEntry], w io.Writer, level slog.Level, format string) *slog.Logger {
	h := NewStreamHandler(buffer, w, level)
	if format == "text" {
		h.fallback = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// ParseLevel maps a config level name to a slog level
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
