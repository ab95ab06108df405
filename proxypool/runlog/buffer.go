package runlog

import (
	"sync"

	"proxyfinder/internal/shared/logger"
)

// Sink receives one line per discrete run event.
type Sink interface {
	Emit(line string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(line string)

func (f SinkFunc) Emit(line string) { f(line) }

// Multi fans a line out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(line string) {
	for _, s := range m {
		if s != nil {
			s.Emit(line)
		}
	}
}

// Discard drops every line.
var Discard Sink = SinkFunc(func(string) {})

// Console forwards run lines to the structured operator log.
func Console() Sink {
	l := logger.WithComponent("ProxyPool/Run")
	return SinkFunc(func(line string) {
		l.Info().Msg(line)
	})
}

// Buffer is a fixed-capacity ring of the most recent lines; the oldest entry is
// evicted once capacity is reached.
type Buffer struct {
	mu      sync.Mutex
	entries []string
	start   int
	count   int
}

// NewBuffer creates a Buffer holding at most capacity lines.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &Buffer{entries: make([]string, capacity)}
}

// Emit appends a line, evicting the oldest one if the buffer is full.
func (b *Buffer) Emit(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.entries)
	if b.count < capacity {
		b.entries[(b.start+b.count)%capacity] = line
		b.count++
		return
	}
	b.entries[b.start] = line
	b.start = (b.start + 1) % capacity
}

// Snapshot returns the retained lines, oldest first.
func (b *Buffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.start+i)%len(b.entries)]
	}
	return out
}

// Len returns the number of retained lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
