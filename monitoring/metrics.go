package monitoring

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/axisim/axi/outstanding"
	"github.com/sarchlab/axisim/trace"
)

// MetricsHook counts bus activity into Prometheus metrics. Attach it to the
// bus with AcceptHook.
type MetricsHook struct {
	handshakes   *prometheus.CounterVec
	transactions *prometheus.CounterVec
	poolOps      *prometheus.CounterVec
	outstanding  *prometheus.GaugeVec
}

// NewMetricsHook creates the metrics and registers them with reg.
func NewMetricsHook(reg prometheus.Registerer) *MetricsHook {
	h := &MetricsHook{
		handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axisim_handshakes_total",
				Help: "Beats transferred, per channel",
			},
			[]string{"channel"},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axisim_transactions_total",
				Help: "Transactions forwarded out of the bus, per boundary",
			},
			[]string{"boundary"},
		),
		poolOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axisim_outstanding_ops_total",
				Help: "Outstanding pool operations",
			},
			[]string{"pool", "op"},
		),
		outstanding: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "axisim_outstanding_entries",
				Help: "Transactions in flight, per pool",
			},
			[]string{"pool"},
		),
	}

	reg.MustRegister(h.handshakes, h.transactions, h.poolOps, h.outstanding)

	return h
}

// Func implements sim.Hook.
func (h *MetricsHook) Func(ctx sim.HookCtx) {
	e, ok := ctx.Item.(trace.Event)
	if !ok {
		return
	}

	switch ctx.Pos {
	case trace.HookPosChannel:
		h.countHandshake(e)
	case trace.HookPosTransaction:
		h.countTransaction(e)
	case trace.HookPosOutstanding:
		h.countPoolOp(ctx, e)
	}
}

// countHandshake counts receive-side captures. Sources look like
// "AXIBus:AW:recv".
func (h *MetricsHook) countHandshake(e trace.Event) {
	if e.Action != trace.ActionRecv && e.Action != trace.ActionRecvFull {
		return
	}

	parts := strings.Split(e.Source, ":")
	if len(parts) < 3 || parts[len(parts)-1] != "recv" {
		return
	}

	h.handshakes.WithLabelValues(parts[len(parts)-2]).Inc()
}

func (h *MetricsHook) countTransaction(e trace.Event) {
	switch e.Action {
	case trace.ActionSentRequest:
		h.transactions.WithLabelValues("subordinate").Inc()
	case trace.ActionSentResponse:
		h.transactions.WithLabelValues("manager").Inc()
	}
}

func (h *MetricsHook) countPoolOp(ctx sim.HookCtx, e trace.Event) {
	pool, ok := ctx.Domain.(*outstanding.Pool)
	if !ok {
		return
	}

	name := strings.ToLower(pool.Name())

	h.poolOps.WithLabelValues(name, strings.ToLower(e.Action)).Inc()
	h.outstanding.WithLabelValues(name).Set(float64(pool.Size()))
}
