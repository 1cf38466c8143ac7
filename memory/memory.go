// Package memory provides the Subordinate: a flat store of bus words that
// serves the requests forwarded by the bus.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/internal/logging"
)

// Default latencies in cycles.
const (
	DefaultReadLatency  = 2
	DefaultWriteLatency = 3
)

// A Port is the Subordinate side of the bus.
type Port interface {
	SubordinateRequests() <-chan axi.Transaction
	Respond(ctx context.Context, txn axi.Transaction) error
	Fault(err error)
}

// A Waiter delays an access by a number of cycles.
type Waiter interface {
	WaitCycles(ctx context.Context, n uint64) error
}

// Subordinate is an address-indexed memory.
type Subordinate struct {
	mu     sync.Mutex
	words  map[uint64]axi.Word
	stride uint64

	readLatency  uint64
	writeLatency uint64
	waiter       Waiter

	log *slog.Logger

	reads  uint64
	writes uint64
}

// Option configures a Subordinate.
type Option func(*Subordinate)

// WithLatency delays reads and writes by the given number of cycles of the
// waiter.
func WithLatency(read, write uint64, w Waiter) Option {
	return func(s *Subordinate) {
		s.readLatency = read
		s.writeLatency = write
		s.waiter = w
	}
}

// WithStride sets the distance in bytes between consecutive beats.
func WithStride(stride uint64) Option {
	return func(s *Subordinate) {
		s.stride = stride
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subordinate) {
		s.log = l
	}
}

// NewSubordinate creates an empty memory.
func NewSubordinate(opts ...Option) *Subordinate {
	s := &Subordinate{
		words:  make(map[uint64]axi.Word),
		stride: axi.WordBytes,
		log:    logging.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Serve answers requests until ctx is done or the port closes. An access to
// an address that was never written is reported to the port as a fault and
// ends the loop.
func (s *Subordinate) Serve(ctx context.Context, port Port) error {
	for {
		var txn axi.Transaction
		var ok bool

		select {
		case <-ctx.Done():
			return nil
		case txn, ok = <-port.SubordinateRequests():
			if !ok {
				return nil
			}
		}

		// The clock stopping ends the simulation like a cancellation does.
		if err := s.delay(ctx, txn.Write); err != nil {
			return nil
		}

		resp, err := s.Access(txn)
		if err != nil {
			s.log.Error("access failed", "txn", txn.String(), "error", err)
			port.Fault(err)

			return err
		}

		if err := port.Respond(ctx, resp); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to respond: %w", err)
		}
	}
}

func (s *Subordinate) delay(ctx context.Context, write bool) error {
	if s.waiter == nil {
		return nil
	}

	n := s.readLatency
	if write {
		n = s.writeLatency
	}

	if n == 0 {
		return nil
	}

	return s.waiter.WaitCycles(ctx, n)
}

// Access performs a whole burst. Writes store every beat. Reads return the
// transaction with its data filled in.
func (s *Subordinate) Access(txn axi.Transaction) (axi.Transaction, error) {
	if err := txn.Validate(); err != nil {
		return txn, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := txn.Clone()

	if txn.Write {
		for i := 0; i < txn.Length; i++ {
			s.words[s.beatAddr(txn.Addr, i)] = txn.Data[i]
		}

		s.writes++
		s.log.Debug("write", "txn", txn.String())

		return resp, nil
	}

	resp.Data = make([]axi.Word, txn.Length)

	for i := 0; i < txn.Length; i++ {
		addr := s.beatAddr(txn.Addr, i)

		w, found := s.words[addr]
		if !found {
			return txn, axi.Errorf(axi.KindAddressOutOfRange,
				"read %s", axi.FormatAddress(addr))
		}

		resp.Data[i] = w
	}

	s.reads++
	s.log.Debug("read", "txn", resp.String())

	return resp, nil
}

func (s *Subordinate) beatAddr(base uint64, i int) uint64 {
	return base + uint64(i)*s.stride
}

// Read returns the word at an address.
func (s *Subordinate) Read(addr uint64) (axi.Word, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, found := s.words[addr]

	return w, found
}

// Write stores one word.
func (s *Subordinate) Write(addr uint64, w axi.Word) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.words[addr] = w
}

// Each calls fn for every stored word in address order.
func (s *Subordinate) Each(fn func(addr uint64, w axi.Word)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.sortedAddrs() {
		fn(a, s.words[a])
	}
}

// Len returns the number of stored words.
func (s *Subordinate) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.words)
}

// Accesses returns the number of reads and writes served.
func (s *Subordinate) Accesses() (reads, writes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reads, s.writes
}

func (s *Subordinate) sortedAddrs() []uint64 {
	addrs := make([]uint64, 0, len(s.words))
	for a := range s.words {
		addrs = append(addrs, a)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	return addrs
}
