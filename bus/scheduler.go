package bus

import (
	"context"
	"math"
	"runtime"

	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/clock"
	"github.com/sarchlab/axisim/trace"
)

type phase struct {
	update   func(b *Bus, c axi.Channel) error
	channels []axi.Channel
}

// Requests move before responses, and on each side a channel is received
// before it is driven, so that a sender sees whether its payload was taken
// on this edge.
var phases = []phase{
	{(*Bus).receive, []axi.Channel{axi.AW, axi.W, axi.AR}},
	{(*Bus).send, []axi.Channel{axi.AW, axi.W, axi.AR}},
	{(*Bus).receive, []axi.Channel{axi.B, axi.R}},
	{(*Bus).send, []axi.Channel{axi.B, axi.R}},
}

// drive updates the channels once per rising edge.
func (b *Bus) drive(ctx context.Context, edges <-chan clock.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-edges:
			if !ok {
				return nil
			}

			if err := b.onEdge(s); err != nil {
				return b.fatal(err)
			}
		}
	}
}

func (b *Bus) onEdge(s clock.Signal) error {
	b.now.Store(math.Float64bits(float64(s.Time)))
	b.cycle.Store(s.Cycle)

	if !s.ResetN {
		b.reset()
		return nil
	}

	b.release()

	for _, p := range phases {
		b.settle()

		if err := b.runPhase(p); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bus) runPhase(p phase) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p.channels {
		if err := p.update(b, c); err != nil {
			return err
		}
	}

	return nil
}

// settle yields to the workers so that they can react to the previous
// phase before the next one is evaluated. Simulated time does not advance.
func (b *Bus) settle() {
	for i := 0; i < b.settleRounds; i++ {
		runtime.Gosched()
	}
}

// reset forces every signal low and drops every beat and outstanding entry.
// Workers blocked on a queue or a pool give up on the transaction they were
// handling. Transactions submitted while reset is held wait in issue.
func (b *Bus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range axi.Channels {
		b.wires[c] = wire{}
		b.recvQ[c].Clear()
		b.sendQ[c].Clear()
	}

	b.readPool.Clear()
	b.writePool.Clear()
	b.ids.Reset()
	b.epoch++
	b.inReset = true

	b.work.Broadcast()
	b.sendRoom.Broadcast()

	b.emit(trace.HookPosChannel, "", trace.ActionReset, "")
}

// release ends a reset window and wakes the transactions held during it.
func (b *Bus) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inReset {
		return
	}

	b.inReset = false
	b.work.Broadcast()
}
