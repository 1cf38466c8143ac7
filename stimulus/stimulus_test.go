package stimulus_test

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/bus"
	"github.com/sarchlab/axisim/clock"
	"github.com/sarchlab/axisim/memory"
	"github.com/sarchlab/axisim/stimulus"
)

// loopback answers every submission straight from a memory.
type loopback struct {
	mem       *memory.Subordinate
	responses chan axi.Transaction
	corrupt   bool
}

func newLoopback() *loopback {
	return &loopback{
		mem:       memory.NewSubordinate(),
		responses: make(chan axi.Transaction, 64),
	}
}

func (l *loopback) Submit(_ context.Context, txn axi.Transaction) error {
	resp, err := l.mem.Access(txn)
	if err != nil {
		return err
	}

	if l.corrupt && !resp.Write {
		resp.Data[0] = axi.WordFromUint64(0xbad)
	}

	l.responses <- resp

	return nil
}

func (l *loopback) ManagerResponses() <-chan axi.Transaction {
	return l.responses
}

func word(v uint64) axi.Word {
	return axi.WordFromUint64(v)
}

var _ = Describe("Access CSV", func() {
	It("should parse reads and writes", func() {
		in := strings.Join([]string{
			"# stamp,type,address,length,data",
			"0,W,0x0000000000000100,2,a,0x0b",
			"5, r, 0x100, 2",
		}, "\n")

		accesses, err := stimulus.ParseCSV(strings.NewReader(in))
		Expect(err).ToNot(HaveOccurred())
		Expect(accesses).To(Equal([]stimulus.Access{
			{Stamp: 0, Write: true, Addr: 0x100, Length: 2,
				Data: []axi.Word{word(0xa), word(0xb)}},
			{Stamp: 5, Addr: 0x100, Length: 2},
		}))
	})

	DescribeTable("should reject bad rows",
		func(row string) {
			_, err := stimulus.ParseCSV(strings.NewReader(row))
			Expect(err).To(MatchError(ContainSubstring("row 1")))
		},
		Entry("too few fields", "0,W,0x0"),
		Entry("bad stamp", "x,R,0x0,1"),
		Entry("bad type", "0,X,0x0,1"),
		Entry("bad address", "0,R,zz,1"),
		Entry("zero length", "0,R,0x0,0"),
		Entry("too long", "0,R,0x0,257"),
		Entry("read with data", "0,R,0x0,1,a"),
		Entry("write without enough data", "0,W,0x0,2,a"),
		Entry("bad data", "0,W,0x0,1,xyz"),
	)

	It("should write what it parses", func() {
		accesses := []stimulus.Access{
			{Stamp: 3, Write: true, Addr: 0x20, Length: 1, Data: []axi.Word{word(7)}},
			{Stamp: 9, Addr: 0x20, Length: 1},
		}

		buf := new(bytes.Buffer)
		Expect(stimulus.WriteCSV(buf, accesses)).To(Succeed())

		back, err := stimulus.ParseCSV(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(back).To(Equal(accesses))
	})
})

var _ = Describe("Generate", func() {
	It("should only read what was written", func() {
		opts := stimulus.DefaultGenerateOptions()
		opts.N = 200

		accesses := stimulus.Generate(rand.New(rand.NewSource(0)), opts)
		Expect(accesses).To(HaveLen(200))
		Expect(accesses[0].Write).To(BeTrue())

		written := map[uint64]int{}
		var stamp uint64

		for _, a := range accesses {
			Expect(a.Stamp).To(BeNumerically(">=", stamp))
			Expect(a.Length).To(BeNumerically(">=", 1))
			Expect(a.Length).To(BeNumerically("<=", opts.LengthMax))
			Expect(a.Addr % axi.WordBytes).To(BeZero())
			stamp = a.Stamp

			if a.Write {
				Expect(a.Data).To(HaveLen(a.Length))
				written[a.Addr] = max(written[a.Addr], a.Length)

				continue
			}

			Expect(written).To(HaveKey(a.Addr))
		}
	})

	It("should be reproducible", func() {
		opts := stimulus.DefaultGenerateOptions()
		a := stimulus.Generate(rand.New(rand.NewSource(42)), opts)
		b := stimulus.Generate(rand.New(rand.NewSource(42)), opts)
		Expect(a).To(Equal(b))
	})

	It("should honor a fixed length", func() {
		opts := stimulus.DefaultGenerateOptions()
		opts.VariableLength = false
		opts.LengthMax = 3

		for _, a := range stimulus.Generate(rand.New(rand.NewSource(1)), opts) {
			Expect(a.Length).To(Equal(3))
		}
	})
})

var _ = Describe("Manager", func() {
	It("should verify reads against earlier writes", func(ctx SpecContext) {
		port := newLoopback()
		m := stimulus.NewManager(port)

		_, err := m.Run(ctx, []stimulus.Access{
			{Write: true, Addr: 0x100, Length: 2, Data: []axi.Word{word(1), word(2)}},
		})
		Expect(err).ToNot(HaveOccurred())

		report, err := m.Run(ctx, []stimulus.Access{
			{Addr: 0x100, Length: 2},
			{Addr: 0x110, Length: 1},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Writes).To(Equal(1))
		Expect(report.Reads).To(Equal(2))
		Expect(report.Verified).To(Equal(2))
		Expect(report.OK()).To(BeTrue())
	})

	It("should report mismatches", func(ctx SpecContext) {
		port := newLoopback()
		port.corrupt = true
		m := stimulus.NewManager(port)

		_, err := m.Run(ctx, []stimulus.Access{
			{Write: true, Addr: 0x40, Length: 1, Data: []axi.Word{word(5)}},
		})
		Expect(err).ToNot(HaveOccurred())

		report, err := m.Run(ctx, []stimulus.Access{{Addr: 0x40, Length: 1}})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.OK()).To(BeFalse())
		Expect(report.Mismatches[0].Expected).To(Equal(word(5)))
		Expect(report.Mismatches[0].String()).To(ContainSubstring("0x0000000000000040"))
	})

	It("should not check reads of unknown data", func(ctx SpecContext) {
		port := newLoopback()
		port.mem.Write(0x40, word(9))
		m := stimulus.NewManager(port)

		report, err := m.Run(ctx, []stimulus.Access{{Addr: 0x40, Length: 1}})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Unverified).To(Equal(1))

		m = stimulus.NewManager(port)
		m.Preload(0x40, word(9))

		report, err = m.Run(ctx, []stimulus.Access{{Addr: 0x40, Length: 1}})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Verified).To(Equal(1))
	})

	It("should fail when a submission fails", func(ctx SpecContext) {
		m := stimulus.NewManager(newLoopback())

		_, err := m.Run(ctx, []stimulus.Access{{Addr: 0x40, Length: 1}})
		Expect(err).To(MatchError(axi.ErrAddressOutOfRange))
	})

	It("should dump its view of memory", func(ctx SpecContext) {
		m := stimulus.NewManager(newLoopback())

		_, err := m.Run(ctx, []stimulus.Access{
			{Write: true, Addr: 0x10, Length: 1, Data: []axi.Word{word(1)}},
		})
		Expect(err).ToNot(HaveOccurred())

		buf := new(bytes.Buffer)
		Expect(m.DumpCSV(buf)).To(Succeed())
		Expect(buf.String()).To(Equal(
			"0x0000000000000010,00000000000000000000000000000001\n"))
	})

	It("should drive the whole bus", func(ctx SpecContext) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		gen := clock.NewGenerator(1*sim.GHz, clock.WithResetCycles(2))
		b := bus.New()
		mem := memory.NewSubordinate(memory.WithLatency(2, 3, gen))

		go func() { _ = gen.Run(runCtx) }()
		go func() { _ = b.Run(runCtx, gen.Edges()) }()
		go func() { _ = mem.Serve(runCtx, b) }()

		opts := stimulus.DefaultGenerateOptions()
		opts.N = 40
		accesses := stimulus.Generate(rand.New(rand.NewSource(7)), opts)
		for i := range accesses {
			accesses[i].Stamp += 3
		}

		m := stimulus.NewManager(b, stimulus.WithClock(gen))
		report, err := m.Run(runCtx, accesses)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Writes + report.Reads).To(Equal(len(accesses)))
		Expect(report.OK()).To(BeTrue(), report.String())
		Expect(report.WriteLat.Min).To(BeNumerically(">", 0))
	}, SpecTimeout(30*time.Second))
})
