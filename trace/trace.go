// Package trace records the diagnostic events of the bus simulation. Events
// are delivered through Akita hooks, so tracing can be attached to any
// hookable part of the simulation and removed without changing its
// behavior.
package trace

import (
	"math"
	"strconv"

	"github.com/sarchlab/akita/v4/sim"
)

// Hook positions used by the simulation.
var (
	// HookPosChannel marks a per-edge channel state update.
	HookPosChannel = &sim.HookPos{Name: "AXI Channel"}

	// HookPosTransaction marks a transaction entering or leaving the bus.
	HookPosTransaction = &sim.HookPos{Name: "AXI Transaction"}

	// HookPosOutstanding marks a change in an outstanding pool.
	HookPosOutstanding = &sim.HookPos{Name: "AXI Outstanding"}
)

// Channel states.
const (
	ActionNotReady  = "NOT_READY"
	ActionReady     = "READY"
	ActionRecv      = "RECV"
	ActionRecvFull  = "RECV_FULL"
	ActionWaitValid = "WAIT_V"
	ActionSend      = "SEND"
	ActionSendCont  = "SENDC"
	ActionWaitReady = "WAIT_R"
	ActionIdle      = "IDLE"
	ActionReset     = "RESET"
)

// Transaction and pool events.
const (
	ActionGotRequest   = "GOT_REQUEST"
	ActionSentRequest  = "SENT_REQUEST"
	ActionGotResponse  = "GOT_RESPONSE"
	ActionSentResponse = "SENT_RESPONSE"
	ActionWaitRoom     = "WAIT_ROOM"
	ActionAmbiguous    = "AMBIGUOUS"
	ActionFatal        = "FATAL"

	ActionCreate    = "CREATE"
	ActionTooMany   = "TOO_MANY"
	ActionDuplicate = "DUPLICATE"
	ActionPlusOne   = "PLUS_ONE"
	ActionLastOne   = "LAST_ONE"
	ActionRemove    = "REMOVE"
	ActionNoID      = "NO_ID"
	ActionClear     = "CLEAR"
)

// An Event is one diagnostic record.
type Event struct {
	Time   sim.VTimeInSec
	Source string
	Action string
	Detail string
}

// String renders the event as <time>:<source>:<action>:<detail>.
func (e Event) String() string {
	return FormatTime(e.Time) + ":" + e.Source + ":" + e.Action + ":" + e.Detail
}

// FormatTime renders a simulation time in nanoseconds, rounded to the
// picosecond.
func FormatTime(t sim.VTimeInSec) string {
	ns := math.Round(float64(t)*1e12) / 1e3
	return strconv.FormatFloat(ns, 'f', -1, 64) + " ns"
}

// A Domain is a named hookable object that emits events.
type Domain interface {
	sim.Named
	sim.Hookable
	InvokeHook(ctx sim.HookCtx)
}

// Emit delivers an event to every hook attached to the domain.
func Emit(domain Domain, pos *sim.HookPos, e Event) {
	domain.InvokeHook(sim.HookCtx{
		Domain: domain,
		Pos:    pos,
		Item:   e,
	})
}
