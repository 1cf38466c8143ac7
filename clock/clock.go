// Package clock generates the rising edges and the active-low reset that
// drive the bus.
package clock

import (
	"context"
	"errors"
	"sync"

	"github.com/sarchlab/akita/v4/sim"
)

// ErrStopped is returned to waiters when the generator stops before the
// awaited cycle.
var ErrStopped = errors.New("clock stopped")

// A Signal is one rising edge.
type Signal struct {
	Cycle  uint64
	Time   sim.VTimeInSec
	ResetN bool
}

// A Generator produces rising edges at a fixed frequency. Edges are sent on
// an unbuffered channel, so the generator never runs ahead of its consumer
// by more than one edge.
type Generator struct {
	freq        sim.Freq
	resetCycles uint64
	maxCycles   uint64

	edges chan Signal

	mu      sync.Mutex
	cond    *sync.Cond
	cycle   uint64
	stopped bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithResetCycles holds reset low for the first n edges.
func WithResetCycles(n uint64) Option {
	return func(g *Generator) {
		g.resetCycles = n
	}
}

// WithMaxCycles stops the generator after n edges. Zero means no limit.
func WithMaxCycles(n uint64) Option {
	return func(g *Generator) {
		g.maxCycles = n
	}
}

// NewGenerator creates a generator.
func NewGenerator(freq sim.Freq, opts ...Option) *Generator {
	if freq <= 0 {
		panic("clock frequency must be positive")
	}

	g := &Generator{
		freq:  freq,
		edges: make(chan Signal),
	}
	g.cond = sync.NewCond(&g.mu)

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Edges returns the channel of rising edges. It is closed when Run returns.
func (g *Generator) Edges() <-chan Signal {
	return g.edges
}

// Freq returns the clock frequency.
func (g *Generator) Freq() sim.Freq {
	return g.freq
}

// TimeOf returns the time of the rising edge of a cycle.
func (g *Generator) TimeOf(cycle uint64) sim.VTimeInSec {
	return sim.VTimeInSec(float64(cycle) / float64(g.freq))
}

// Run produces edges until the cycle limit or until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	defer g.stop()

	for c := uint64(0); g.maxCycles == 0 || c < g.maxCycles; c++ {
		s := Signal{
			Cycle:  c,
			Time:   g.TimeOf(c),
			ResetN: c >= g.resetCycles,
		}

		select {
		case g.edges <- s:
		case <-ctx.Done():
			return ctx.Err()
		}

		g.mu.Lock()
		g.cycle = c + 1
		g.cond.Broadcast()
		g.mu.Unlock()
	}

	return nil
}

func (g *Generator) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return
	}

	g.stopped = true
	close(g.edges)
	g.cond.Broadcast()
}

// Cycle returns the number of edges delivered so far.
func (g *Generator) Cycle() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cycle
}

// CurrentTime returns the time of the last delivered edge.
func (g *Generator) CurrentTime() sim.VTimeInSec {
	c := g.Cycle()
	if c == 0 {
		return 0
	}

	return g.TimeOf(c - 1)
}

// WaitCycles blocks until n more edges have been delivered.
func (g *Generator) WaitCycles(ctx context.Context, n uint64) error {
	return g.WaitUntil(ctx, g.Cycle()+n)
}

// WaitUntil blocks until cycle edges have been delivered.
func (g *Generator) WaitUntil(ctx context.Context, cycle uint64) error {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.cond.Broadcast()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.cycle < cycle {
		if err := ctx.Err(); err != nil {
			return err
		}

		if g.stopped {
			return ErrStopped
		}

		g.cond.Wait()
	}

	return nil
}
