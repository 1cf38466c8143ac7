package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/bus"
	"github.com/sarchlab/axisim/clock"
	"github.com/sarchlab/axisim/config"
	"github.com/sarchlab/axisim/internal/logging"
	"github.com/sarchlab/axisim/memory"
	"github.com/sarchlab/axisim/monitoring"
	"github.com/sarchlab/axisim/stimulus"
	"github.com/sarchlab/axisim/trace"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrMaxCycles is returned when the clock stops before every access
	// has completed.
	ErrMaxCycles = errors.New("cycle limit reached")

	// ErrStalled is returned when the bus holds work but makes no progress.
	ErrStalled = errors.New("bus stalled")
)

type simOptions struct {
	config *config.Config

	accessPath string
	memoryPath string
	memoryOut  string
	managerOut string

	traceKind     string
	traceOut      string
	traceChannels []string
	traceWriter   io.Writer

	// monitorPort < 0 disables the monitoring server.
	monitorPort int

	stallCycles uint64
	maxCycles   uint64

	log *slog.Logger
}

type outcome struct {
	report   stimulus.Report
	snapshot bus.Snapshot
	cycles   uint64
	reads    uint64
	writes   uint64
}

func (o outcome) String() string {
	return fmt.Sprintf("cycles=%d memory_reads=%d memory_writes=%d %s",
		o.cycles, o.reads, o.writes, o.report)
}

// simulate wires the clock, the bus, the memory and the Manager together
// and runs every access of the access file.
func simulate(ctx context.Context, opts simOptions) (outcome, error) {
	cfg := opts.config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	log := opts.log
	if log == nil {
		log = logging.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return outcome{}, fmt.Errorf("invalid config: %w", err)
	}

	accesses, err := stimulus.LoadFile(opts.accessPath)
	if err != nil {
		return outcome{}, err
	}

	gen := clock.NewGenerator(sim.Freq(cfg.ClockMHz)*sim.MHz,
		clock.WithResetCycles(cfg.ResetCycles),
		clock.WithMaxCycles(opts.maxCycles))

	b := bus.New(
		bus.WithRecvQueueSize(cfg.RecvQueueSize),
		bus.WithSendQueueSize(cfg.SendQueueSize),
		bus.WithOutstandingMax(cfg.ReadOutstandingMax, cfg.WriteOutstandingMax),
		bus.WithSettleRounds(cfg.SettleRounds),
		bus.WithLogger(log),
	)

	mem := memory.NewSubordinate(
		memory.WithLatency(cfg.ReadLatency, cfg.WriteLatency, gen),
		memory.WithStride(cfg.WordStride),
		memory.WithLogger(log),
	)

	if opts.memoryPath != "" {
		skipped, err := mem.LoadFile(opts.memoryPath)
		if err != nil {
			return outcome{}, err
		}

		log.Info("memory loaded", "words", mem.Len(), "skipped", skipped)
	}

	mgr := stimulus.NewManager(b,
		stimulus.WithClock(gen),
		stimulus.WithLogger(log))
	mem.Each(mgr.Preload)

	tracer, err := newTracer(opts)
	if err != nil {
		return outcome{}, err
	}

	if tracer != nil {
		tracer.Attach(b)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.monitorPort >= 0 {
		reg := prometheus.NewRegistry()
		b.AcceptHook(monitoring.NewMetricsHook(reg))

		_, err := monitoring.NewServer(b, reg).
			WithLogger(log).
			WithPortNumber(opts.monitorPort).
			Start(ctx)
		if err != nil {
			return outcome{}, err
		}
	}

	var (
		report      stimulus.Report
		managerDone = make(chan struct{})
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := gen.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		if err := b.Run(gctx, gen.Edges()); err != nil {
			return err
		}

		select {
		case <-managerDone:
			return nil
		default:
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		return ErrMaxCycles
	})

	g.Go(func() error {
		return mem.Serve(gctx, b)
	})

	g.Go(func() error {
		var err error

		report, err = mgr.Run(gctx, accesses)
		if errors.Is(err, clock.ErrStopped) {
			return ErrMaxCycles
		}

		if err != nil {
			return err
		}

		close(managerDone)
		cancel()

		return nil
	})

	if opts.stallCycles > 0 {
		g.Go(func() error {
			return watch(gctx, gen, b, opts.stallCycles, log)
		})
	}

	runErr := g.Wait()

	out := outcome{
		report:   report,
		snapshot: b.Snapshot(),
		cycles:   gen.Cycle(),
	}
	out.reads, out.writes = mem.Accesses()

	if tracer != nil {
		if err := tracer.Flush(); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("failed to flush trace: %w", err))
		}
	}

	if opts.memoryOut != "" {
		if err := mem.DumpFile(opts.memoryOut); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if opts.managerOut != "" {
		if err := dumpManager(mgr, opts.managerOut); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	return out, runErr
}

// watch fails the run when the bus holds work and no handshake or
// forwarded transaction happens for a whole window.
func watch(
	ctx context.Context,
	gen *clock.Generator,
	b *bus.Bus,
	window uint64,
	log *slog.Logger,
) error {
	last := b.Progress()

	for {
		if err := gen.WaitCycles(ctx, window); err != nil {
			return nil
		}

		now := b.Progress()
		if now != last {
			last = now
			continue
		}

		s := b.Snapshot()
		if s.Idle() {
			continue
		}

		log.Error("no progress", "cycles", window, "cycle", s.Cycle)

		return fmt.Errorf("%w for %d cycles:\n%s", ErrStalled, window, s)
	}
}

func newTracer(opts simOptions) (*trace.Tracer, error) {
	var sink trace.Sink

	switch opts.traceKind {
	case "":
		return nil, nil
	case "text":
		w := opts.traceWriter
		if w == nil {
			w = os.Stdout
		}

		sink = trace.NewTextSink(w)
	case "csv":
		s := trace.NewCSVSink(opts.traceOut)
		if err := s.Init(); err != nil {
			return nil, err
		}

		sink = s
	case "sqlite":
		s := trace.NewSQLiteSink(opts.traceOut)
		if err := s.Init(); err != nil {
			return nil, err
		}

		sink = s
	default:
		return nil, fmt.Errorf("unknown trace format %q", opts.traceKind)
	}

	t := trace.NewTracer(sink)
	if len(opts.traceChannels) > 0 {
		t.Channels(opts.traceChannels...)
	}

	return t, nil
}

func dumpManager(mgr *stimulus.Manager, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manager dump: %w", err)
	}

	if err := mgr.DumpCSV(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
