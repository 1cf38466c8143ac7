package monitoring_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/axi"
	"github.com/sarchlab/axisim/axi/outstanding"
	"github.com/sarchlab/axisim/bus"
	"github.com/sarchlab/axisim/monitoring"
	"github.com/sarchlab/axisim/trace"
)

type fixedSource struct {
	snapshot bus.Snapshot
}

func (s fixedSource) Snapshot() bus.Snapshot {
	return s.snapshot
}

func queue(name string, size, capacity int) bus.QueueState {
	return bus.QueueState{Name: name, Size: size, Capacity: capacity}
}

func get(handler http.Handler, url string) (int, string) {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	body, err := io.ReadAll(rec.Result().Body)
	Expect(err).ToNot(HaveOccurred())

	return rec.Code, string(body)
}

var _ = Describe("Server", func() {
	var (
		router http.Handler
		source fixedSource
	)

	BeforeEach(func() {
		source = fixedSource{snapshot: bus.Snapshot{
			Name:  "AXIBus",
			Cycle: 42,
			Wires: []bus.WireState{
				{
					Channel:   "AW",
					RecvQueue: queue("AXIBus.AW.RecvBuf", 1, 1),
					SendQueue: queue("AXIBus.AW.SendBuf", 1, 2),
				},
				{
					Channel:   "W",
					RecvQueue: queue("AXIBus.W.RecvBuf", 0, 1),
					SendQueue: queue("AXIBus.W.SendBuf", 2, 4),
				},
			},
			Read: bus.PoolState{Name: "Read", Max: 4, Vacancy: 4},
			Write: bus.PoolState{
				Name: "Write", Size: 1, Max: 4, Vacancy: 3,
				Entries: []bus.EntryState{{ID: 3, Addr: "0x100", Length: 2}},
			},
		}}

		router = monitoring.NewServer(source, nil).Router()
	})

	It("should report the bus", func() {
		code, body := get(router, "/api/bus")
		Expect(code).To(Equal(http.StatusOK))

		var got bus.Snapshot
		Expect(json.Unmarshal([]byte(body), &got)).To(Succeed())
		Expect(got.Cycle).To(Equal(uint64(42)))
		Expect(got.Wires).To(HaveLen(2))
	})

	It("should report one outstanding pool", func() {
		code, body := get(router, "/api/outstanding/write")
		Expect(code).To(Equal(http.StatusOK))

		var got bus.PoolState
		Expect(json.Unmarshal([]byte(body), &got)).To(Succeed())
		Expect(got.Entries).To(ConsistOf(bus.EntryState{ID: 3, Addr: "0x100", Length: 2}))

		code, _ = get(router, "/api/outstanding/sideways")
		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("should sort buffers by percent", func() {
		_, body := get(router, "/api/hangdetector/buffers")
		Expect(body).To(MatchJSON(`[
			{"buffer":"AXIBus.AW.RecvBuf","level":1,"cap":1},
			{"buffer":"AXIBus.W.SendBuf","level":2,"cap":4},
			{"buffer":"AXIBus.AW.SendBuf","level":1,"cap":2},
			{"buffer":"AXIBus.W.RecvBuf","level":0,"cap":1}
		]`))
	})

	It("should sort buffers by level and limit", func() {
		_, body := get(router, "/api/hangdetector/buffers?sort=level&limit=2")
		Expect(body).To(MatchJSON(`[
			{"buffer":"AXIBus.W.SendBuf","level":2,"cap":4},
			{"buffer":"AXIBus.AW.RecvBuf","level":1,"cap":1}
		]`))
	})

	It("should reject a bad sort method", func() {
		code, body := get(router, "/api/hangdetector/buffers?sort=name")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(body).To(ContainSubstring("invalid sort method"))
	})

	It("should report process resources", func() {
		code, body := get(router, "/api/resource")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring("memory_size"))
	})

	It("should serve until cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		addr, err := monitoring.NewServer(source, nil).Start(ctx)
		Expect(err).ToNot(HaveOccurred())

		url := fmt.Sprintf("http://%s/api/bus", addr)
		Eventually(func() error {
			rsp, err := http.Get(url)
			if err == nil {
				rsp.Body.Close()
			}
			return err
		}).Should(Succeed())
	})
})

var _ = Describe("MetricsHook", func() {
	var (
		reg    *prometheus.Registry
		hook   *monitoring.MetricsHook
		router http.Handler
	)

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
		hook = monitoring.NewMetricsHook(reg)
		router = monitoring.NewServer(fixedSource{}, reg).Router()
	})

	metrics := func() string {
		code, body := get(router, "/metrics")
		Expect(code).To(Equal(http.StatusOK))
		return body
	}

	It("should count handshakes per channel", func() {
		for _, action := range []string{trace.ActionRecv, trace.ActionRecvFull, trace.ActionWaitValid} {
			hook.Func(sim.HookCtx{
				Pos:  trace.HookPosChannel,
				Item: trace.Event{Source: "AXIBus:AW:recv", Action: action},
			})
		}

		hook.Func(sim.HookCtx{
			Pos:  trace.HookPosChannel,
			Item: trace.Event{Source: "AXIBus:AW:send", Action: trace.ActionSend},
		})

		Expect(metrics()).To(ContainSubstring(`axisim_handshakes_total{channel="AW"} 2`))
	})

	It("should count forwarded transactions", func() {
		for _, action := range []string{trace.ActionSentRequest, trace.ActionSentResponse, trace.ActionSentResponse} {
			hook.Func(sim.HookCtx{
				Pos:  trace.HookPosTransaction,
				Item: trace.Event{Source: "AXIBus", Action: action},
			})
		}

		body := metrics()
		Expect(body).To(ContainSubstring(`axisim_transactions_total{boundary="subordinate"} 1`))
		Expect(body).To(ContainSubstring(`axisim_transactions_total{boundary="manager"} 2`))
	})

	It("should follow a pool", func() {
		pool := outstanding.NewPool("Write", true, 2, &sync.Mutex{})
		pool.AcceptHook(hook)

		_, err := pool.Create(axi.Beat{ID: 1, Addr: 0x10})
		Expect(err).ToNot(HaveOccurred())
		_, err = pool.Create(axi.Beat{ID: 2, Addr: 0x20})
		Expect(err).ToNot(HaveOccurred())
		Expect(pool.Remove(1)).To(Succeed())

		body := metrics()
		Expect(body).To(ContainSubstring(`axisim_outstanding_ops_total{op="create",pool="write"} 2`))
		Expect(body).To(ContainSubstring(`axisim_outstanding_ops_total{op="remove",pool="write"} 1`))
		Expect(body).To(ContainSubstring(`axisim_outstanding_entries{pool="write"} 1`))
	})

	It("should ignore items that are not events", func() {
		hook.Func(sim.HookCtx{Pos: trace.HookPosChannel, Item: 3})
		Expect(metrics()).ToNot(ContainSubstring("axisim_handshakes_total{"))
	})
})
