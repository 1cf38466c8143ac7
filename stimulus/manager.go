package stimulus

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/internal/logging"
	"golang.org/x/sync/errgroup"
)

// A Port is the Manager side of the bus.
type Port interface {
	Submit(ctx context.Context, txn axi.Transaction) error
	ManagerResponses() <-chan axi.Transaction
}

// A Clock tells and waits for cycles.
type Clock interface {
	Cycle() uint64
	WaitUntil(ctx context.Context, cycle uint64) error
}

// LatencyStats summarizes the cycles between submission and response.
type LatencyStats struct {
	Count uint64 `json:"count"`
	Min   uint64 `json:"min"`
	Max   uint64 `json:"max"`
	Total uint64 `json:"total"`
}

// Mean returns the average latency.
func (s LatencyStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}

	return float64(s.Total) / float64(s.Count)
}

func (s *LatencyStats) add(cycles uint64) {
	if s.Count == 0 || cycles < s.Min {
		s.Min = cycles
	}

	if cycles > s.Max {
		s.Max = cycles
	}

	s.Count++
	s.Total += cycles
}

// A Mismatch is a read that returned data different from what was written.
type Mismatch struct {
	Addr     uint64
	Got      axi.Word
	Expected axi.Word
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: got %s, expected %s",
		axi.FormatAddress(m.Addr), m.Got, m.Expected)
}

// Report is the outcome of a run.
type Report struct {
	Writes     int          `json:"writes"`
	Reads      int          `json:"reads"`
	Verified   int          `json:"verified"`
	Unverified int          `json:"unverified"`
	Mismatches []Mismatch   `json:"mismatches"`
	WriteLat   LatencyStats `json:"write_latency"`
	ReadLat    LatencyStats `json:"read_latency"`
}

// OK reports whether every checked read matched.
func (r Report) OK() bool {
	return len(r.Mismatches) == 0
}

func (r Report) String() string {
	return fmt.Sprintf(
		"writes=%d reads=%d verified=%d unverified=%d mismatches=%d "+
			"write_latency=%.2f read_latency=%.2f",
		r.Writes, r.Reads, r.Verified, r.Unverified, len(r.Mismatches),
		r.WriteLat.Mean(), r.ReadLat.Mean())
}

type pendingKey struct {
	addr   uint64
	length int
	write  bool
}

type pending struct {
	access    Access
	submitted uint64

	// expected is nil when the read cannot be checked because a write to
	// the same words was in flight.
	expected []axi.Word
}

// Manager issues accesses and checks the responses.
type Manager struct {
	port  Port
	clock Clock
	log   *slog.Logger

	mu      sync.Mutex
	shadow  map[uint64]axi.Word
	pending map[pendingKey][]*pending
	report  Report
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock makes the Manager wait for access stamps and measure latency.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates a Manager.
func NewManager(port Port, opts ...Option) *Manager {
	m := &Manager{
		port:    port,
		log:     logging.NewNop(),
		shadow:  make(map[uint64]axi.Word),
		pending: make(map[pendingKey][]*pending),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Preload tells the Manager what memory holds before the run.
func (m *Manager) Preload(addr uint64, w axi.Word) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shadow[addr] = w
}

// Run issues every access in order and waits for all responses.
func (m *Manager) Run(ctx context.Context, accesses []Access) (Report, error) {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.issue(ctx, accesses)
	})
	g.Go(func() error {
		return m.collect(ctx, len(accesses))
	})

	err := g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.report, err
}

func (m *Manager) cycle() uint64 {
	if m.clock == nil {
		return 0
	}

	return m.clock.Cycle()
}

func (m *Manager) issue(ctx context.Context, accesses []Access) error {
	for _, a := range accesses {
		if m.clock != nil {
			if err := m.clock.WaitUntil(ctx, a.Stamp); err != nil {
				return fmt.Errorf("waiting for stamp %d: %w", a.Stamp, err)
			}
		}

		txn := a.Transaction()
		m.track(a)

		if err := m.port.Submit(ctx, txn); err != nil {
			return fmt.Errorf("submit %s: %w", txn, err)
		}

		m.log.Debug("submitted", "cycle", m.cycle(), "txn", txn.String())
	}

	return nil
}

func overlaps(a, b Access) bool {
	aEnd := a.Addr + uint64(a.Length)*axi.WordBytes
	bEnd := b.Addr + uint64(b.Length)*axi.WordBytes

	return a.Addr < bEnd && b.Addr < aEnd
}

// track records an access before it is submitted. A write taints every
// overlapping read in flight, and a read overlapping a write in flight is
// not checked.
func (m *Manager) track(a Access) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &pending{access: a, submitted: m.cycle()}

	if a.Write {
		for key, list := range m.pending {
			if key.write {
				continue
			}

			for _, r := range list {
				if overlaps(r.access, a) {
					r.expected = nil
				}
			}
		}
	} else {
		p.expected = m.expect(a)
	}

	key := pendingKey{addr: a.Addr, length: a.Length, write: a.Write}
	m.pending[key] = append(m.pending[key], p)
}

func (m *Manager) expect(a Access) []axi.Word {
	for key, list := range m.pending {
		if !key.write {
			continue
		}

		for _, w := range list {
			if overlaps(w.access, a) {
				return nil
			}
		}
	}

	expected := make([]axi.Word, a.Length)
	for i := range expected {
		w, found := m.shadow[a.Addr+uint64(i)*axi.WordBytes]
		if !found {
			return nil
		}

		expected[i] = w
	}

	return expected
}

func (m *Manager) collect(ctx context.Context, n int) error {
	for got := 0; got < n; got++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case txn := <-m.port.ManagerResponses():
			if err := m.complete(txn); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Manager) complete(txn axi.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pendingKey{addr: txn.Addr, length: txn.Length, write: txn.Write}

	list := m.pending[key]
	if len(list) == 0 {
		return fmt.Errorf("response to nothing pending: %s", txn)
	}

	p := list[0]
	if len(list) == 1 {
		delete(m.pending, key)
	} else {
		m.pending[key] = list[1:]
	}

	latency := m.cycle() - p.submitted

	if txn.Write {
		m.report.Writes++
		m.report.WriteLat.add(latency)

		for i, w := range p.access.Data {
			m.shadow[txn.BeatAddr(i)] = w
		}

		return nil
	}

	m.report.Reads++
	m.report.ReadLat.add(latency)

	if p.expected == nil {
		m.report.Unverified++
		return nil
	}

	m.report.Verified++

	for i, want := range p.expected {
		var got axi.Word
		if i < len(txn.Data) {
			got = txn.Data[i]
		}

		if got != want {
			mm := Mismatch{Addr: txn.BeatAddr(i), Got: got, Expected: want}
			m.report.Mismatches = append(m.report.Mismatches, mm)
			m.log.Warn("read mismatch", "detail", mm.String())
		}
	}

	return nil
}

// DumpCSV writes the data the Manager believes memory holds, sorted by
// address, in the memory CSV format.
func (m *Manager) DumpCSV(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addrs := make([]uint64, 0, len(m.shadow))
	for a := range m.shadow {
		addrs = append(addrs, a)
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	writer := csv.NewWriter(w)
	for _, a := range addrs {
		if err := writer.Write([]string{axi.FormatAddress(a), m.shadow[a].String()}); err != nil {
			return fmt.Errorf("failed to write memory: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}
