package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axisim/config"
)

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("Defaults", func() {
		It("should describe the reference system", func() {
			c := config.DefaultConfig()
			Expect(c.ClockMHz).To(Equal(1000.0))
			Expect(c.RecvQueueSize).To(Equal(1))
			Expect(c.SendQueueSize).To(Equal(2))
			Expect(c.ReadLatency).To(Equal(uint64(2)))
			Expect(c.WriteLatency).To(Equal(uint64(3)))
			Expect(c.WordStride).To(Equal(uint64(16)))
			Expect(c.Validate()).To(Succeed())
		})
	})

	Describe("Validate", func() {
		DescribeTable("should reject",
			func(mutate func(*config.Config), msg string) {
				c := config.DefaultConfig()
				mutate(c)
				Expect(c.Validate()).To(MatchError(ContainSubstring(msg)))
			},
			Entry("no clock", func(c *config.Config) { c.ClockMHz = 0 }, "clock_mhz"),
			Entry("no receive room", func(c *config.Config) { c.RecvQueueSize = 0 }, "recv_queue_size"),
			Entry("no send room", func(c *config.Config) { c.SendQueueSize = 0 }, "send_queue_size"),
			Entry("no reads", func(c *config.Config) { c.ReadOutstandingMax = 0 }, "read_outstanding_max"),
			Entry("no writes", func(c *config.Config) { c.WriteOutstandingMax = 0 }, "write_outstanding_max"),
			Entry("negative settle", func(c *config.Config) { c.SettleRounds = -1 }, "settle_rounds"),
			Entry("no stride", func(c *config.Config) { c.WordStride = 0 }, "word_stride"),
		)
	})

	Describe("Clone", func() {
		It("should copy independently", func() {
			saved := config.DefaultConfig()
			clone := saved.Clone()
			clone.ReadOutstandingMax = 99

			Expect(saved.ReadOutstandingMax).To(Equal(4))
		})
	})

	Describe("Files", func() {
		It("should round trip JSON", func() {
			path := filepath.Join(tempDir, "axisim.json")
			saved := config.DefaultConfig()
			saved.WriteOutstandingMax = 8
			Expect(saved.SaveConfig(path)).To(Succeed())

			loaded, err := config.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(saved))
		})

		It("should round trip YAML", func() {
			path := filepath.Join(tempDir, "axisim.yaml")
			saved := config.DefaultConfig()
			saved.ClockMHz = 500
			Expect(saved.SaveConfig(path)).To(Succeed())

			loaded, err := config.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(saved))
		})

		It("should keep defaults for missing fields", func() {
			path := filepath.Join(tempDir, "partial.yml")
			Expect(os.WriteFile(path, []byte("read_latency: 7\n"), 0644)).To(Succeed())

			loaded, err := config.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ReadLatency).To(Equal(uint64(7)))
			Expect(loaded.WriteLatency).To(Equal(uint64(3)))
		})

		It("should return error for non-existent file", func() {
			_, err := config.LoadConfig("/nonexistent/path/axisim.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			Expect(os.WriteFile(path, []byte("not valid json"), 0644)).To(Succeed())

			_, err := config.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Environment", func() {
		env := func(vars map[string]string) func(string) (string, bool) {
			return func(k string) (string, bool) {
				v, ok := vars[k]
				return v, ok
			}
		}

		It("should override fields", func() {
			c := config.DefaultConfig()
			err := c.ApplyEnv(env(map[string]string{
				"AXISIM_READ_OUTSTANDING_MAX": "2",
				"AXISIM_CLOCK_MHZ":            " 250.5 ",
				"AXISIM_WRITE_LATENCY":        "9",
			}))

			Expect(err).ToNot(HaveOccurred())
			Expect(c.ReadOutstandingMax).To(Equal(2))
			Expect(c.ClockMHz).To(Equal(250.5))
			Expect(c.WriteLatency).To(Equal(uint64(9)))
			Expect(c.SendQueueSize).To(Equal(2))
		})

		It("should name the bad variable", func() {
			c := config.DefaultConfig()
			err := c.ApplyEnv(env(map[string]string{"AXISIM_RESET_CYCLES": "-1"}))
			Expect(err).To(MatchError(ContainSubstring("AXISIM_RESET_CYCLES")))
		})
	})
})
