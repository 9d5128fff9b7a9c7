package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"aitrade/internal/trader"
)

// Metrics Prometheus 指标：
//   - aitrade_cycles_total{result}                交易周期结果 (success|failed)
//   - aitrade_cycle_duration_seconds              周期耗时
//   - aitrade_exchange_requests_total{endpoint,outcome}
//   - aitrade_exchange_retries_total{reason}
//   - aitrade_sync_actions_total{kind}            对账修正动作
//   - aitrade_protective_exits_total{kind}        止盈止损
//   - aitrade_orders_total{signal,result}
//   - aitrade_equity_usd{model}
//   - aitrade_alerts_total{type}
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	requests      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	syncActions   *prometheus.CounterVec
	exits         *prometheus.CounterVec
	orders        *prometheus.CounterVec
	equity        *prometheus.GaugeVec
	alerts        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "aitrade_cycles_total", Help: "Trading cycles by result"},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aitrade_cycle_duration_seconds",
			Help:    "Trading cycle wall time",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "aitrade_exchange_requests_total", Help: "Signed exchange requests by endpoint and outcome"},
			[]string{"endpoint", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "aitrade_exchange_retries_total", Help: "Exchange request retries by reason"},
			[]string{"reason"},
		),
		syncActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "aitrade_sync_actions_total", Help: "Reconciliation corrections by kind"},
			[]string{"kind"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "aitrade_protective_exits_total", Help: "Stop-loss / take-profit closes"},
			[]string{"kind"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "aitrade_orders_total", Help: "Order attempts by signal and result"},
			[]string{"signal", "result"},
		),
		equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "aitrade_equity_usd", Help: "Account value per bot"},
			[]string{"model"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "aitrade_alerts_total", Help: "Alerts raised by type"},
			[]string{"type"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleDuration, m.requests, m.retries,
		m.syncActions, m.exits, m.orders, m.equity, m.alerts,
	)
	return m
}

// Registry 供 /metrics 暴露。
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest 实现 okx.Observer。
func (m *Metrics) ObserveRequest(endpoint, outcome string) {
	m.requests.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) ObserveRetry(reason string) {
	m.retries.WithLabelValues(reason).Inc()
}

// ObserveCycle 实现 manager.CycleObserver。
func (m *Metrics) ObserveCycle(res trader.Result) {
	result := "success"
	if !res.Success {
		result = "failed"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(res.Duration.Seconds())
	for _, a := range res.Sync {
		m.syncActions.WithLabelValues(string(a.Kind)).Inc()
	}
	for _, e := range res.Exits {
		if e.Status == trader.StatusFilled || e.Status == trader.StatusAlreadyClosed {
			m.exits.WithLabelValues(string(e.Exit)).Inc()
		}
	}
	for _, e := range res.Executions {
		if e.Status == trader.StatusHold {
			continue
		}
		m.orders.WithLabelValues(string(e.Signal), e.Status).Inc()
	}
	if res.Portfolio != nil {
		m.equity.WithLabelValues(strconv.FormatInt(res.ModelID, 10)).Set(res.Portfolio.TotalValue)
	}
}

func (m *Metrics) observeAlert(alertType string) {
	m.alerts.WithLabelValues(alertType).Inc()
}
