package trace

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sarchlab/akita/v4/sim"
)

// A Sink stores events.
type Sink interface {
	Write(e Event)
	Flush() error
}

// A Tracer is a hook that forwards events to sinks. Events may arrive from
// several goroutines, so delivery is serialized.
type Tracer struct {
	mu        sync.Mutex
	sinks     []Sink
	positions map[*sim.HookPos]bool
	channels  map[string]bool
}

// NewTracer creates a tracer that writes to the given sinks.
func NewTracer(sinks ...Sink) *Tracer {
	return &Tracer{sinks: sinks}
}

// Only restricts the tracer to the given hook positions.
func (t *Tracer) Only(positions ...*sim.HookPos) *Tracer {
	t.positions = make(map[*sim.HookPos]bool, len(positions))
	for _, p := range positions {
		t.positions[p] = true
	}

	return t
}

// Channels restricts channel events to the named channels. Other positions
// are not affected.
func (t *Tracer) Channels(names ...string) *Tracer {
	t.channels = make(map[string]bool, len(names))
	for _, n := range names {
		t.channels[strings.ToUpper(strings.TrimSpace(n))] = true
	}

	return t
}

// channelOf extracts AW from a source such as "AXIBus:AW:recv".
func channelOf(source string) string {
	parts := strings.Split(source, ":")
	if len(parts) < 3 {
		return ""
	}

	return parts[len(parts)-2]
}

// Attach registers the tracer as a hook on every domain.
func (t *Tracer) Attach(domains ...sim.Hookable) {
	for _, d := range domains {
		d.AcceptHook(t)
	}
}

// Func implements sim.Hook.
func (t *Tracer) Func(ctx sim.HookCtx) {
	e, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	if t.positions != nil && !t.positions[ctx.Pos] {
		return
	}

	if t.channels != nil && ctx.Pos == HookPosChannel &&
		!t.channels[channelOf(e.Source)] {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sinks {
		s.Write(e)
	}
}

// Flush flushes every sink and reports all failures.
func (t *Tracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, s := range t.sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// TextSink writes one line per event.
type TextSink struct {
	w io.Writer
}

// NewTextSink creates a sink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

// Write writes the event line.
func (s *TextSink) Write(e Event) {
	fmt.Fprintln(s.w, e.String())
}

// Flush flushes the underlying writer if it buffers.
func (s *TextSink) Flush() error {
	if f, ok := s.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}

	return nil
}
