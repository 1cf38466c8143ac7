package bus

import (
	"fmt"
	"strings"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/axi/outstanding"
)

const (
	toSubordinate = iota
	toManager
	numBoundaries
)

// WireState is the state of one channel.
type WireState struct {
	Channel   string `json:"channel"`
	Valid     bool   `json:"valid"`
	Ready     bool   `json:"ready"`
	Payload   string `json:"payload"`
	RecvState string `json:"recv_state"`
	SendState string `json:"send_state"`

	RecvQueue QueueState   `json:"recv_queue"`
	SendQueue QueueState   `json:"send_queue"`
	Stats     ChannelStats `json:"stats"`
}

// QueueState is the fill level of one queue.
type QueueState struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

// EntryState is one outstanding entry.
type EntryState struct {
	ID       uint32 `json:"id"`
	Addr     string `json:"addr"`
	Length   int    `json:"length"`
	Progress int    `json:"progress"`
	Answered bool   `json:"answered"`
}

// PoolState is the content of one outstanding pool.
type PoolState struct {
	Name    string       `json:"name"`
	Size    int          `json:"size"`
	Max     int          `json:"max"`
	Vacancy int          `json:"vacancy"`
	Entries []EntryState `json:"entries"`
}

// Snapshot is a consistent view of the whole bus.
type Snapshot struct {
	Name      string         `json:"name"`
	Cycle     uint64         `json:"cycle"`
	Time      sim.VTimeInSec `json:"time"`
	Progress  uint64         `json:"progress"`
	Wires     []WireState    `json:"wires"`
	Read      PoolState      `json:"read"`
	Write     PoolState      `json:"write"`
	Ambiguous uint64         `json:"ambiguous"`

	ForwardedToSubordinate uint64 `json:"forwarded_to_subordinate"`
	ForwardedToManager     uint64 `json:"forwarded_to_manager"`
}

// Snapshot captures the state of the bus.
func (b *Bus) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:      b.name,
		Cycle:     b.Cycle(),
		Time:      b.CurrentTime(),
		Progress:  b.Progress(),
		Read:      poolState(b.readPool),
		Write:     poolState(b.writePool),
		Ambiguous: b.ambiguous,

		ForwardedToSubordinate: b.forwarded[toSubordinate],
		ForwardedToManager:     b.forwarded[toManager],
	}

	for _, c := range axi.Channels {
		w := b.wires[c]
		s.Wires = append(s.Wires, WireState{
			Channel:   c.String(),
			Valid:     w.valid,
			Ready:     w.ready,
			Payload:   w.payload.String(),
			RecvState: w.recvState,
			SendState: w.sendState,
			RecvQueue: queueState(b.recvQ[c]),
			SendQueue: queueState(b.sendQ[c]),
			Stats:     b.stats[c],
		})
	}

	return s
}

// Stats returns the counters of one channel.
func (b *Bus) Stats(c axi.Channel) ChannelStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stats[c]
}

// Idle reports whether no beat and no outstanding entry is left in the bus.
func (s Snapshot) Idle() bool {
	if s.Read.Size > 0 || s.Write.Size > 0 {
		return false
	}

	for _, w := range s.Wires {
		if w.Valid || w.RecvQueue.Size > 0 || w.SendQueue.Size > 0 {
			return false
		}
	}

	return true
}

// Queues lists every queue of the bus.
func (s Snapshot) Queues() []QueueState {
	var queues []QueueState
	for _, w := range s.Wires {
		queues = append(queues, w.RecvQueue, w.SendQueue)
	}

	return queues
}

func (s Snapshot) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s at cycle %d, progress %d\n", s.Name, s.Cycle, s.Progress)

	for _, w := range s.Wires {
		fmt.Fprintf(&sb, "  %-2s valid=%t ready=%t recv=%s(%d/%d) send=%s(%d/%d)\n",
			w.Channel, w.Valid, w.Ready,
			w.RecvState, w.RecvQueue.Size, w.RecvQueue.Capacity,
			w.SendState, w.SendQueue.Size, w.SendQueue.Capacity)
	}

	for _, p := range []PoolState{s.Read, s.Write} {
		fmt.Fprintf(&sb, "  %s pool %d/%d\n", p.Name, p.Size, p.Max)

		for _, e := range p.Entries {
			fmt.Fprintf(&sb, "    id=%d addr=%s progress=%d/%d answered=%t\n",
				e.ID, e.Addr, e.Progress, e.Length, e.Answered)
		}
	}

	return sb.String()
}

func queueState(buf sim.Buffer) QueueState {
	return QueueState{
		Name:     buf.Name(),
		Size:     buf.Size(),
		Capacity: buf.Capacity(),
	}
}

func poolState(p *outstanding.Pool) PoolState {
	s := PoolState{
		Name:    p.Name(),
		Size:    p.Size(),
		Max:     p.Max(),
		Vacancy: p.Vacancy(),
		Entries: []EntryState{},
	}

	for _, e := range p.Entries() {
		s.Entries = append(s.Entries, EntryState{
			ID:       e.ID,
			Addr:     axi.FormatAddress(e.Addr),
			Length:   e.Length,
			Progress: e.Progress,
			Answered: e.Answered,
		})
	}

	return s
}
