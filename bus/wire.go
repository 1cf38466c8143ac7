package bus

import (
	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/trace"
)

// A wire is the valid, ready and payload signals of one channel.
type wire struct {
	valid   bool
	ready   bool
	payload axi.Beat

	// accepted is set when the receiver captured the payload on the
	// current edge.
	accepted bool

	recvState string
	sendState string
}

// ChannelStats counts what happened on one channel.
type ChannelStats struct {
	Handshakes    uint64 `json:"handshakes"`
	StalledEdges  uint64 `json:"stalled_edges"`
	NotReadyEdges uint64 `json:"not_ready_edges"`
}

// canAccept reports whether the receiving side of a channel may take one
// more beat. The write address channel also needs a free slot in the write
// pool for every address beat it holds, so that every accepted address
// beat can be admitted without waiting.
func (b *Bus) canAccept(c axi.Channel) bool {
	if !b.recvQ[c].CanPush() {
		return false
	}

	if c == axi.AW {
		return b.writePool.Vacancy() > b.recvQ[c].Size()
	}

	return true
}

// receive updates the receiving side of a channel for one edge.
func (b *Bus) receive(c axi.Channel) error {
	if !c.Valid() {
		return axi.Errorf(axi.KindUnknownChannel, "receive on %s", c)
	}

	w := &b.wires[c]
	w.accepted = false

	switch {
	case !w.ready:
		if b.canAccept(c) {
			w.ready = true
			b.setRecvState(c, trace.ActionReady, "")
		} else {
			b.stats[c].NotReadyEdges++
			b.setRecvState(c, trace.ActionNotReady, "")
		}
	case w.valid:
		beat := w.payload
		b.recvQ[c].Push(beat)
		w.accepted = true
		b.stats[c].Handshakes++
		b.progress.Add(1)
		b.work.Broadcast()

		if b.canAccept(c) {
			b.setRecvState(c, trace.ActionRecv, beat.String())
		} else {
			w.ready = false
			b.setRecvState(c, trace.ActionRecvFull, beat.String())
		}
	default:
		b.setRecvState(c, trace.ActionWaitValid, "")
	}

	return nil
}

// send updates the sending side of a channel for one edge. A payload that
// is valid but not yet accepted is held.
func (b *Bus) send(c axi.Channel) error {
	if !c.Valid() {
		return axi.Errorf(axi.KindUnknownChannel, "send on %s", c)
	}

	w := &b.wires[c]
	q := b.sendQ[c]

	if w.valid && !w.accepted {
		b.stats[c].StalledEdges++
		b.setSendState(c, trace.ActionWaitReady, w.payload.String())

		return nil
	}

	if q.Size() > 0 {
		beat := q.Pop().(axi.Beat).On(c)
		action := trace.ActionSend
		if w.valid {
			action = trace.ActionSendCont
		}

		w.payload = beat
		w.valid = true
		b.sendRoom.Broadcast()
		b.setSendState(c, action, beat.String())

		return nil
	}

	w.valid = false
	w.payload = axi.Beat{}
	b.setSendState(c, trace.ActionIdle, "")

	return nil
}

func (b *Bus) setRecvState(c axi.Channel, state, detail string) {
	b.wires[c].recvState = state
	b.emit(trace.HookPosChannel, c.String()+":recv", state, detail)
}

func (b *Bus) setSendState(c axi.Channel, state, detail string) {
	b.wires[c].sendState = state
	b.emit(trace.HookPosChannel, c.String()+":send", state, detail)
}
