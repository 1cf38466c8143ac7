package main

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/bus"
	"github.com/sarchlab/axisim/clock"
	"github.com/sarchlab/axisim/config"
	"github.com/sarchlab/axisim/internal/logging"
	"github.com/sarchlab/axisim/stimulus"
)

func writeAccesses(path string, accesses []stimulus.Access) {
	f, err := os.Create(path)
	Expect(err).ToNot(HaveOccurred())
	defer f.Close()

	Expect(stimulus.WriteCSV(f, accesses)).To(Succeed())
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ResetCycles = 2

	return cfg
}

var _ = Describe("simulate", func() {
	var (
		tempDir string
		opts    simOptions
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		opts = simOptions{
			config:      testConfig(),
			accessPath:  filepath.Join(tempDir, "access.csv"),
			monitorPort: -1,
			stallCycles: 1000,
			log:         logging.NewNop(),
		}
	})

	It("should run generated accesses and agree with memory", func(ctx SpecContext) {
		gen := stimulus.DefaultGenerateOptions()
		gen.N = 30
		gen.StampStepMin = 3

		writeAccesses(opts.accessPath, stimulus.Generate(rand.New(rand.NewSource(7)), gen))

		memPath := filepath.Join(tempDir, "mem.csv")
		Expect(os.WriteFile(memPath,
			[]byte("0x0000000000100000,0x1\n"), 0644)).To(Succeed())

		opts.memoryPath = memPath
		opts.memoryOut = filepath.Join(tempDir, "mem_out.csv")
		opts.managerOut = filepath.Join(tempDir, "manager_out.csv")

		out, err := simulate(ctx, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.report.OK()).To(BeTrue(), out.String())
		Expect(out.report.Writes + out.report.Reads).To(Equal(30))
		Expect(out.snapshot.Idle()).To(BeTrue())

		memDump, err := os.ReadFile(opts.memoryOut)
		Expect(err).ToNot(HaveOccurred())
		managerDump, err := os.ReadFile(opts.managerOut)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(managerDump)).To(Equal(string(memDump)))
		Expect(string(memDump)).To(ContainSubstring("0x0000000000100000"))
	}, SpecTimeout(30*time.Second))

	It("should complete accesses issued before reset is released", func(ctx SpecContext) {
		opts.config = config.DefaultConfig()
		opts.maxCycles = 2000

		writeAccesses(opts.accessPath, []stimulus.Access{
			{Stamp: 0, Write: true, Addr: 0x40, Length: 1,
				Data: []axi.Word{axi.WordFromUint64(5)}},
			{Stamp: 1, Write: true, Addr: 0x80, Length: 2,
				Data: []axi.Word{axi.WordFromUint64(6), axi.WordFromUint64(7)}},
		})

		out, err := simulate(ctx, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.report.OK()).To(BeTrue(), out.String())
		Expect(out.report.Writes).To(Equal(2))
		Expect(out.writes).To(Equal(uint64(2)))
	}, SpecTimeout(30*time.Second))

	It("should trace to a CSV file", func(ctx SpecContext) {
		writeAccesses(opts.accessPath, []stimulus.Access{{
			Stamp: 3, Write: true, Addr: 0x40, Length: 1,
			Data: []axi.Word{axi.WordFromUint64(9)},
		}})

		opts.traceKind = "csv"
		opts.traceOut = filepath.Join(tempDir, "trace")
		opts.traceChannels = []string{"AW"}

		_, err := simulate(ctx, opts)
		Expect(err).ToNot(HaveOccurred())

		content, err := os.ReadFile(opts.traceOut + ".csv")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("AXIBus:AW:recv"))
		Expect(string(content)).ToNot(ContainSubstring("AXIBus:W:recv"))
	}, SpecTimeout(30*time.Second))

	It("should write a text trace", func(ctx SpecContext) {
		writeAccesses(opts.accessPath, []stimulus.Access{{Stamp: 3, Addr: 0x40, Length: 1}})

		var buf bytes.Buffer
		opts.memoryPath = filepath.Join(tempDir, "mem.csv")
		Expect(os.WriteFile(opts.memoryPath,
			[]byte("0x40,0x5\n"), 0644)).To(Succeed())
		opts.traceKind = "text"
		opts.traceWriter = &buf

		out, err := simulate(ctx, opts)
		Expect(err).ToNot(HaveOccurred())
		Expect(out.report.Verified).To(Equal(1))
		Expect(buf.String()).To(ContainSubstring("GOT_REQUEST"))
	}, SpecTimeout(30*time.Second))

	It("should stop at the cycle limit", func(ctx SpecContext) {
		writeAccesses(opts.accessPath, []stimulus.Access{{
			Stamp: 500, Write: true, Addr: 0x40, Length: 1,
			Data: []axi.Word{axi.WordFromUint64(1)},
		}})

		opts.maxCycles = 50

		_, err := simulate(ctx, opts)
		Expect(err).To(MatchError(ErrMaxCycles))
	}, SpecTimeout(30*time.Second))

	It("should fail on a read of unknown memory", func(ctx SpecContext) {
		writeAccesses(opts.accessPath, []stimulus.Access{{Stamp: 3, Addr: 0x80, Length: 2}})

		_, err := simulate(ctx, opts)
		Expect(err).To(MatchError(axi.ErrAddressOutOfRange))
	}, SpecTimeout(30*time.Second))

	It("should reject an unknown trace format", func(ctx SpecContext) {
		writeAccesses(opts.accessPath, nil)
		opts.traceKind = "vcd"

		_, err := simulate(ctx, opts)
		Expect(err).To(MatchError(ContainSubstring("unknown trace format")))
	})

	It("should fail on a missing access file", func(ctx SpecContext) {
		_, err := simulate(ctx, opts)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("watch", func() {
	It("should report a bus that holds work without progress", func(ctx SpecContext) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		gen := clock.NewGenerator(1*sim.GHz, clock.WithResetCycles(2))
		b := bus.New()

		go func() { _ = b.Run(runCtx, gen.Edges()) }()
		go func() { _ = gen.Run(runCtx) }()

		Eventually(b.Cycle).Should(BeNumerically(">=", 2))
		Expect(b.Submit(runCtx, axi.NewRead(0x40, 1))).To(Succeed())

		err := watch(runCtx, gen, b, 50, logging.NewNop())
		Expect(err).To(MatchError(ErrStalled))
		Expect(err.Error()).To(ContainSubstring("Read pool 1/"))
	}, SpecTimeout(30*time.Second))

	It("should return quietly when the run ends", func(ctx SpecContext) {
		runCtx, cancel := context.WithCancel(ctx)

		gen := clock.NewGenerator(1 * sim.GHz)
		b := bus.New()
		go func() { _ = gen.Run(runCtx) }()

		cancel()
		Expect(watch(runCtx, gen, b, 10, logging.NewNop())).To(Succeed())
	}, SpecTimeout(10*time.Second))
})

var _ = Describe("commands", func() {
	It("should generate an access file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "access.csv")

		rootCmd.SetArgs([]string{"gen", "--seed", "3", "--n", "12", "-o", path})
		Expect(rootCmd.Execute()).To(Succeed())

		accesses, err := stimulus.LoadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(accesses).To(HaveLen(12))
		Expect(accesses[0].Write).To(BeTrue())
	})

	It("should save the effective configuration", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "axisim.yaml")
		GinkgoT().Setenv("AXISIM_WRITE_OUTSTANDING_MAX", "6")

		rootCmd.SetArgs([]string{"config", path})
		Expect(rootCmd.Execute()).To(Succeed())

		cfg, err := config.LoadConfig(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.WriteOutstandingMax).To(Equal(6))
	})
})
