package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set is the Prometheus instrument set for the trading process. One Set is
// created per process and threaded through the live loop.
type Set struct {
	Cycles        prometheus.Counter
	CycleErrors   prometheus.Counter
	Orders        *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Notifications prometheus.Counter
	OpenPositions prometheus.Gauge
	Equity        prometheus.Gauge
	DailyPnL      prometheus.Gauge
	BreakerHalted prometheus.Gauge
	UniverseSize  prometheus.Gauge
}

// New registers the metric set on the given registerer.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "cointrader_cycles_total",
			Help: "Completed trading cycles.",
		}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "cointrader_cycle_errors_total",
			Help: "Trading cycles that ended with an error.",
		}),
		Orders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cointrader_orders_total",
			Help: "Orders placed, by side.",
		}, []string{"side"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cointrader_rejections_total",
			Help: "Entry signals rejected by risk checks, by reason.",
		}, []string{"reason"}),
		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "cointrader_notifications_total",
			Help: "Notification events dispatched.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cointrader_open_positions",
			Help: "Currently open positions.",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cointrader_equity",
			Help: "Portfolio equity in quote currency.",
		}),
		DailyPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cointrader_daily_pnl",
			Help: "Realized P&L since the daily reset.",
		}),
		BreakerHalted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cointrader_breaker_halted",
			Help: "1 when the daily loss breaker has halted new entries.",
		}),
		UniverseSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cointrader_universe_size",
			Help: "Instruments in the tradable universe.",
		}),
	}
}

// NewDefault registers on the default Prometheus registry.
func NewDefault() *Set {
	return New(prometheus.DefaultRegisterer)
}
