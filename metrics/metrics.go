// Package metrics exposes guard, order, cycle and cost counters to
// Prometheus. A *Metrics satisfies risk.Observer, cost.Observer and
// orchestrator.Observer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/riskguard/cost"
	"github.com/rustyeddy/riskguard/risk"
)

const namespace = "riskguard"

type Metrics struct {
	guardPass  *prometheus.CounterVec
	guardBlock *prometheus.CounterVec

	submitTotal   *prometheus.CounterVec
	submitSuccess *prometheus.CounterVec
	submitReject  *prometheus.CounterVec

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram

	costCalls *prometheus.CounterVec
	costUSD   *prometheus.CounterVec
	costLeft  prometheus.Gauge

	equityPeak  prometheus.Gauge
	realizedPnL prometheus.Gauge
	exposure    *prometheus.GaugeVec
}

// New builds the collectors and registers them on reg. Use a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		guardPass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_pass_total",
			Help:      "Guard checks that approved an order.",
		}, []string{"reason"}),
		guardBlock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_block_total",
			Help:      "Guard checks that rejected an order, by reason.",
		}, []string{"reason"}),

		submitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submit_total",
			Help:      "Orders handed to the exchange.",
		}, []string{"mode"}),
		submitSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submit_success_total",
			Help:      "Orders the exchange accepted.",
		}, []string{"mode"}),
		submitReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submit_reject_total",
			Help:      "Orders the exchange refused.",
		}, []string{"mode", "code"}),

		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Decision cycles by outcome.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a decision cycle.",
			Buckets:   prometheus.DefBuckets,
		}),

		costCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_calls_total",
			Help:      "Decision-model calls by tier.",
		}, []string{"tier"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Decision-model spend in USD by tier.",
		}, []string{"tier"}),
		costLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cost_budget_left_usd",
			Help:      "Decision-model budget left today.",
		}),

		equityPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity_peak",
			Help:      "Highest equity observed by the guard.",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized pnl since the last daily reset.",
		}),
		exposure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "symbol_exposure",
			Help:      "Open notional per symbol.",
		}, []string{"symbol"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.guardPass, m.guardBlock,
			m.submitTotal, m.submitSuccess, m.submitReject,
			m.cycles, m.cycleDuration,
			m.costCalls, m.costUSD, m.costLeft,
			m.equityPeak, m.realizedPnL, m.exposure,
		)
	}
	return m
}

// Handler serves the text exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveVerdict(_ string, v risk.Verdict) {
	if v.Allowed {
		m.guardPass.WithLabelValues(string(v.Reason)).Inc()
		return
	}
	m.guardBlock.WithLabelValues(string(v.Reason)).Inc()
}

func (m *Metrics) ObserveState(s risk.State) {
	m.equityPeak.Set(s.EquityPeak)
	m.realizedPnL.Set(s.RealizedPnL)
	m.exposure.Reset()
	for sym, v := range s.SymbolExposure {
		m.exposure.WithLabelValues(sym).Set(v)
	}
}

func (m *Metrics) ObserveSpend(tier string, usd float64) {
	m.costCalls.WithLabelValues(tier).Inc()
	m.costUSD.WithLabelValues(tier).Add(usd)
}

func (m *Metrics) ObserveBudget(b cost.Budget) {
	m.costLeft.Set(b.Remaining)
}

// ObserveSubmit counts one order submission. code is empty on success.
func (m *Metrics) ObserveSubmit(mode string, ok bool, code string) {
	m.submitTotal.WithLabelValues(mode).Inc()
	if ok {
		m.submitSuccess.WithLabelValues(mode).Inc()
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.submitReject.WithLabelValues(mode, code).Inc()
}

func (m *Metrics) ObserveCycle(status string, d time.Duration) {
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(d.Seconds())
}
