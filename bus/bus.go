// Package bus models an AXI interconnect between one Manager and one
// Subordinate.
//
// The bus owns five channels (AW, W, B, AR, R), a receive and a send queue
// per channel, and the read and write outstanding pools. Four workers
// translate between whole transactions at the boundaries and beats on the
// channels, while a fifth drives the channel handshakes once per rising
// edge. All of them share one lock.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/axi/outstanding"
	"github.com/sarchlab/axisim/clock"
	"github.com/sarchlab/axisim/internal/logging"
	"github.com/sarchlab/axisim/trace"
	"golang.org/x/sync/errgroup"
)

// Default sizes.
const (
	DefaultRecvQueueSize  = 1
	DefaultSendQueueSize  = 2
	DefaultOutstandingMax = 4
	DefaultSettleRounds   = 10
)

// Bus is the AXI interconnect.
type Bus struct {
	*sim.HookableBase

	name         string
	log          *slog.Logger
	policy       FatalPolicy
	settleRounds int
	recvSize     int
	sendSize     int
	readMax      int
	writeMax     int
	hooked       bool

	mu        sync.Mutex
	work      *sync.Cond
	sendRoom  *sync.Cond
	wires     [axi.NumChannels]wire
	recvQ     [axi.NumChannels]sim.Buffer
	sendQ     [axi.NumChannels]sim.Buffer
	readPool  *outstanding.Pool
	writePool *outstanding.Pool
	ids       *IDGenerator
	stats     [axi.NumChannels]ChannelStats
	ambiguous uint64
	forwarded [numBoundaries]uint64
	epoch     uint64
	inReset   bool
	closed    bool
	running   bool
	faultErr  error
	cancel    context.CancelFunc

	now      atomic.Uint64
	cycle    atomic.Uint64
	progress atomic.Uint64

	managerReq  chan axi.Transaction
	managerResp chan axi.Transaction
	subReq      chan axi.Transaction
	subResp     chan axi.Transaction
	done        chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithName sets the name used in traces and queue names. It must be a valid
// Akita name, for example "AXIBus".
func WithName(name string) Option {
	return func(b *Bus) {
		b.name = name
	}
}

// WithRecvQueueSize sets the capacity of every receive queue.
func WithRecvQueueSize(n int) Option {
	return func(b *Bus) {
		b.recvSize = n
	}
}

// WithSendQueueSize sets the capacity of every send queue.
func WithSendQueueSize(n int) Option {
	return func(b *Bus) {
		b.sendSize = n
	}
}

// WithOutstandingMax sets the admission limits of the read and write pools.
func WithOutstandingMax(read, write int) Option {
	return func(b *Bus) {
		b.readMax = read
		b.writeMax = write
	}
}

// WithSettleRounds sets how many times the edge driver yields before each
// phase of an edge.
func WithSettleRounds(n int) Option {
	return func(b *Bus) {
		b.settleRounds = n
	}
}

// WithFatalPolicy selects how protocol violations are reported.
func WithFatalPolicy(p FatalPolicy) Option {
	return func(b *Bus) {
		b.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.log = l
	}
}

// WithIDGenerator replaces the ID generator.
func WithIDGenerator(g *IDGenerator) Option {
	return func(b *Bus) {
		b.ids = g
	}
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		HookableBase: sim.NewHookableBase(),
		name:         "AXIBus",
		log:          logging.NewNop(),
		settleRounds: DefaultSettleRounds,
		recvSize:     DefaultRecvQueueSize,
		sendSize:     DefaultSendQueueSize,
		readMax:      DefaultOutstandingMax,
		writeMax:     DefaultOutstandingMax,
		managerReq:   make(chan axi.Transaction),
		managerResp:  make(chan axi.Transaction),
		subReq:       make(chan axi.Transaction),
		subResp:      make(chan axi.Transaction),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.ids == nil {
		b.ids = NewIDGenerator()
	}

	if b.recvSize < 1 || b.sendSize < 1 {
		panic("bus queues need room for at least one beat")
	}

	b.work = sync.NewCond(&b.mu)
	b.sendRoom = sync.NewCond(&b.mu)

	for _, c := range axi.Channels {
		b.recvQ[c] = sim.NewBuffer(fmt.Sprintf("%s.%s.RecvBuf", b.name, c), b.recvSize)
		b.sendQ[c] = sim.NewBuffer(fmt.Sprintf("%s.%s.SendBuf", b.name, c), b.sendSize)
	}

	b.readPool = outstanding.NewPool("Read", false, b.readMax, &b.mu)
	b.writePool = outstanding.NewPool("Write", true, b.writeMax, &b.mu)
	b.readPool.SetTimeTeller(b)
	b.writePool.SetTimeTeller(b)

	return b
}

// Name returns the name of the bus.
func (b *Bus) Name() string {
	return b.name
}

// AcceptHook registers a hook on the bus and on both outstanding pools.
// Hooks must be registered before Run.
func (b *Bus) AcceptHook(hook sim.Hook) {
	b.hooked = true
	b.HookableBase.AcceptHook(hook)
	b.readPool.AcceptHook(hook)
	b.writePool.AcceptHook(hook)
}

// CurrentTime returns the time of the last rising edge.
func (b *Bus) CurrentTime() sim.VTimeInSec {
	return sim.VTimeInSec(math.Float64frombits(b.now.Load()))
}

// Cycle returns the index of the last rising edge.
func (b *Bus) Cycle() uint64 {
	return b.cycle.Load()
}

// Progress returns a counter that increases with every handshake and every
// transaction forwarded across a boundary. A counter that stops moving while
// work is pending indicates a stall.
func (b *Bus) Progress() uint64 {
	return b.progress.Load()
}

// Submit hands a transaction from the Manager to the bus. It blocks until
// the Manager ingress worker takes it.
func (b *Bus) Submit(ctx context.Context, txn axi.Transaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}

	select {
	case b.managerReq <- txn.Clone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// ManagerResponses delivers completed transactions to the Manager.
func (b *Bus) ManagerResponses() <-chan axi.Transaction {
	return b.managerResp
}

// SubordinateRequests delivers requests to the Subordinate.
func (b *Bus) SubordinateRequests() <-chan axi.Transaction {
	return b.subReq
}

// Respond hands a completed request from the Subordinate to the bus. For
// reads the Subordinate fills in the data words.
func (b *Bus) Respond(ctx context.Context, txn axi.Transaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}

	select {
	case b.subResp <- txn.Clone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// Done is closed when Run returns.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Run starts the workers and drives the channels with the given edges. It
// returns when the edge channel is closed or ctx is done, in which case the
// result is nil, or when a protocol violation stops the bus, in which case
// the violation is returned. Run may be called only once.
func (b *Bus) Run(ctx context.Context, edges <-chan clock.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("%s is already running", b.name)
	}

	b.running = true
	b.cancel = cancel
	// Nothing is issued before the first edge with ResetN high.
	b.inReset = true
	faulted := b.faultErr != nil
	b.mu.Unlock()

	if faulted {
		cancel()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return b.drive(gctx, edges)
	})
	g.Go(func() error { return b.managerIngress(gctx) })
	g.Go(func() error { return b.managerEgress(gctx) })
	g.Go(func() error { return b.subordinateRequests(gctx) })
	g.Go(func() error { return b.subordinateResponses(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		b.close()
		return nil
	})

	err := g.Wait()
	close(b.done)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		err = b.faultErr
	}

	return err
}

func (b *Bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.work.Broadcast()
	b.sendRoom.Broadcast()
	b.readPool.NotifyRoom()
	b.writePool.NotifyRoom()
}

// push appends a beat to a send queue, waiting for room. It fails when the
// bus closes or resets while waiting.
func (b *Bus) push(buf sim.Buffer, beat axi.Beat, epoch uint64) error {
	for !buf.CanPush() {
		if b.closed {
			return ErrClosed
		}

		if b.epoch != epoch {
			return errReset
		}

		b.sendRoom.Wait()
	}

	if b.closed {
		return ErrClosed
	}

	if b.epoch != epoch {
		return errReset
	}

	buf.Push(beat)

	return nil
}

// admit creates a pool entry for an address beat, waiting for room.
func (b *Bus) admit(pool *outstanding.Pool, beat axi.Beat, epoch uint64) error {
	for {
		if b.closed {
			return ErrClosed
		}

		if b.epoch != epoch {
			return errReset
		}

		_, err := pool.Create(beat)
		if err == nil {
			return nil
		}

		if !errors.Is(err, outstanding.ErrNoRoom) {
			return err
		}

		b.log.Debug("waiting for outstanding room",
			"bus", b.name, "pool", pool.Name(), "id", beat.ID)
		b.emit(trace.HookPosTransaction, pool.Name(),
			trace.ActionWaitRoom, beat.String())

		pool.WaitForRoom()
	}
}

// forward hands a transaction to a boundary channel without holding the
// lock. It reports false when the bus stopped before the hand-off.
func (b *Bus) forward(
	ctx context.Context,
	out chan<- axi.Transaction,
	txn axi.Transaction,
) bool {
	b.mu.Unlock()
	defer b.mu.Lock()

	select {
	case out <- txn:
		b.progress.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bus) emit(pos *sim.HookPos, sub, action, detail string) {
	if !b.hooked {
		return
	}

	source := b.name
	if sub != "" {
		source += ":" + sub
	}

	trace.Emit(b, pos, trace.Event{
		Time:   b.CurrentTime(),
		Source: source,
		Action: action,
		Detail: detail,
	})
}
