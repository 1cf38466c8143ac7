// Package outstanding tracks the bursts that are in flight inside the bus.
//
// A Pool maps transaction IDs to entries. Its capacity is the admission
// limit of one direction. A pool does not lock itself. It shares the lock of
// the bus that owns it, so that conditions spanning several structures can
// be checked and acted upon atomically.
package outstanding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/trace"
)

// ErrNoRoom is returned by Create when the pool is full. It is a
// backpressure condition, not a protocol violation.
var ErrNoRoom = errors.New("outstanding pool full")

// Result is the outcome of Update.
type Result int

// Results of Update.
const (
	OK Result = iota
	OKLast
	NoSuchID
	PrematureLast
	Overflow
)

var resultNames = [...]string{"OK", "OK_LAST", "NO_SUCH_ID", "PREMATURE_LAST", "OVERFLOW"}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}

	return fmt.Sprintf("Result(%d)", int(r))
}

// Err converts a failed result into the matching protocol error. It returns
// nil for OK and OKLast.
func (r Result) Err(b axi.Beat) error {
	switch r {
	case NoSuchID:
		return axi.Errorf(axi.KindNoSuchID, "update %s", b)
	case PrematureLast:
		return axi.Errorf(axi.KindPrematureLast, "update %s", b)
	case Overflow:
		return axi.Errorf(axi.KindOverflow, "update %s", b)
	default:
		return nil
	}
}

// An Entry is one outstanding burst.
type Entry struct {
	ID       uint32
	Addr     uint64
	Length   int
	Write    bool
	Progress int
	Data     []axi.Word

	// Answered is set once the Subordinate has responded to the burst.
	Answered bool

	seq uint64
}

// Complete reports whether every beat of the burst has been collected.
func (e *Entry) Complete() bool {
	return e.Progress == e.Length
}

// Transaction rebuilds the burst carried by the entry.
func (e *Entry) Transaction() axi.Transaction {
	data := make([]axi.Word, len(e.Data))
	copy(data, e.Data)

	return axi.Transaction{
		Addr:     e.Addr,
		Length:   e.Length,
		Write:    e.Write,
		Data:     data,
		Progress: e.Progress,
	}
}

func (e *Entry) String() string {
	return fmt.Sprintf("id=%d, addr=%s, progress=%d/%d, wr=%t",
		e.ID, axi.FormatAddress(e.Addr), e.Progress, e.Length, e.Write)
}

// A Pool is a bounded table of outstanding bursts of one direction.
type Pool struct {
	*sim.HookableBase

	name    string
	write   bool
	max     int
	entries map[uint32]*Entry
	nextSeq uint64

	room *sync.Cond
	tt   sim.TimeTeller
}

// NewPool creates a pool. The locker must be held by every caller of every
// method; it is also the lock released while waiting for room.
func NewPool(name string, write bool, max int, locker sync.Locker) *Pool {
	if max < 1 {
		panic("outstanding pool needs room for at least one entry")
	}

	return &Pool{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		write:        write,
		max:          max,
		entries:      make(map[uint32]*Entry),
		room:         sync.NewCond(locker),
	}
}

// Name returns the name of the pool.
func (p *Pool) Name() string {
	return p.name
}

// SetTimeTeller sets the clock used to time-stamp trace events.
func (p *Pool) SetTimeTeller(tt sim.TimeTeller) {
	p.tt = tt
}

// Max returns the capacity.
func (p *Pool) Max() int {
	return p.max
}

// Size returns the number of live entries.
func (p *Pool) Size() int {
	return len(p.entries)
}

// Vacancy returns the number of free slots.
func (p *Pool) Vacancy() int {
	return p.max - len(p.entries)
}

// Create admits the burst announced by an address beat.
func (p *Pool) Create(b axi.Beat) (*Entry, error) {
	if len(p.entries) >= p.max {
		p.emit(trace.ActionTooMany, b.String())
		return nil, ErrNoRoom
	}

	if _, found := p.entries[b.ID]; found {
		p.emit(trace.ActionDuplicate, b.String())
		return nil, axi.Errorf(axi.KindDuplicateID,
			"%s pool already holds id %d", p.name, b.ID)
	}

	e := &Entry{
		ID:     b.ID,
		Addr:   b.Addr,
		Length: b.Length(),
		Write:  p.write,
		Data:   make([]axi.Word, b.Length()),
		seq:    p.nextSeq,
	}
	p.nextSeq++
	p.entries[b.ID] = e

	p.emit(trace.ActionCreate, e.String())

	return e, nil
}

// Update records one data beat of an outstanding burst.
func (p *Pool) Update(b axi.Beat) Result {
	e, found := p.entries[b.ID]
	if !found {
		p.emit(trace.ActionNoID, b.String())
		return NoSuchID
	}

	if e.Progress >= e.Length {
		p.emit(trace.ActionTooMany, e.String())
		return Overflow
	}

	if b.Last && e.Progress < e.Length-1 {
		p.emit(trace.ActionTooMany, e.String())
		return PrematureLast
	}

	e.Data[e.Progress] = b.Data
	e.Progress++

	if e.Progress == e.Length && b.Last {
		p.emit(trace.ActionLastOne, e.String())
		return OKLast
	}

	p.emit(trace.ActionPlusOne, e.String())

	return OK
}

// Remove erases an entry and wakes every worker waiting for room.
func (p *Pool) Remove(id uint32) error {
	e, found := p.entries[id]
	if !found {
		p.emit(trace.ActionNoID, fmt.Sprintf("id=%d", id))
		return axi.Errorf(axi.KindNoSuchID,
			"%s pool cannot remove id %d", p.name, id)
	}

	delete(p.entries, id)
	p.emit(trace.ActionRemove, e.String())
	p.room.Broadcast()

	return nil
}

// FindByID returns the entry with the given ID.
func (p *Pool) FindByID(id uint32) (*Entry, bool) {
	e, found := p.entries[id]
	return e, found
}

// FindByAddress returns the oldest entry at the address.
func (p *Pool) FindByAddress(addr uint64) (*Entry, bool) {
	all := p.FindAllByAddress(addr)
	if len(all) == 0 {
		return nil, false
	}

	return all[0], true
}

// FindAllByAddress returns every entry at the address, oldest first.
func (p *Pool) FindAllByAddress(addr uint64) []*Entry {
	var found []*Entry

	for _, e := range p.entries {
		if e.Addr == addr {
			found = append(found, e)
		}
	}

	sortBySeq(found)

	return found
}

// Entries returns every live entry, oldest first.
func (p *Pool) Entries() []*Entry {
	all := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		all = append(all, e)
	}

	sortBySeq(all)

	return all
}

// WaitForRoom blocks until an entry is removed or the pool is cleared. The
// caller must hold the locker and must re-check the condition it waits for.
func (p *Pool) WaitForRoom() {
	p.room.Wait()
}

// NotifyRoom wakes every worker waiting for room.
func (p *Pool) NotifyRoom() {
	p.room.Broadcast()
}

// Clear drops every entry.
func (p *Pool) Clear() {
	p.entries = make(map[uint32]*Entry)
	p.emit(trace.ActionClear, "")
	p.room.Broadcast()
}

// Dump renders every entry, one per line.
func (p *Pool) Dump() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s: %d/%d\n", p.name, len(p.entries), p.max)

	for _, e := range p.Entries() {
		sb.WriteString("  ")
		sb.WriteString(e.String())
		sb.WriteString("\n")
	}

	return sb.String()
}

func (p *Pool) emit(action, detail string) {
	var now sim.VTimeInSec
	if p.tt != nil {
		now = p.tt.CurrentTime()
	}

	trace.Emit(p, trace.HookPosOutstanding, trace.Event{
		Time:   now,
		Source: "OUTSTANDING:" + p.name,
		Action: action,
		Detail: detail,
	})
}

func sortBySeq(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
}
