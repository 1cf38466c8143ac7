package bus

import (
	"errors"
	"log"

	"github.com/sarchlab/axisim/trace"
)

// FatalPolicy selects what the bus does when it detects a protocol
// violation.
type FatalPolicy int

const (
	// FatalPropagate stops every worker and makes Run return the error.
	FatalPropagate FatalPolicy = iota

	// FatalPanic panics with the error message.
	FatalPanic
)

// ErrClosed is returned by the boundary calls once the bus has stopped.
var ErrClosed = errors.New("bus closed")

var errReset = errors.New("bus reset")

// fatal reports a protocol violation and applies the policy. The caller
// returns the result so that the run stops.
func (b *Bus) fatal(err error) error {
	b.log.Error("protocol violation", "bus", b.name, "error", err)
	b.emit(trace.HookPosTransaction, "", trace.ActionFatal, err.Error())

	if b.policy == FatalPanic {
		log.Panicf("%s: %v", b.name, err)
	}

	return err
}

// Fault lets a collaborator report a fatal condition, such as an access to
// an address that the Subordinate does not hold. The running bus stops and
// Run returns the error.
func (b *Bus) Fault(err error) {
	err = b.fatal(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.faultErr == nil {
		b.faultErr = err
	}

	if b.cancel != nil {
		b.cancel()
	}
}
