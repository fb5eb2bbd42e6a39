package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are the Prometheus series exported on /metrics. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	Orders          *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Liquidations    *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	Fees            *prometheus.CounterVec
	Equity          *prometheus.GaugeVec
	OpenPositions   *prometheus.GaugeVec
	Emergency       prometheus.Gauge
	Ticks           prometheus.Counter
	PlaceLatency    prometheus.Histogram
}

// NewCollectors creates and registers the collectors on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_orders_total",
			Help: "Orders by final status.",
		}, []string{"account", "status"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_rejections_total",
			Help: "Rejected proposals by error kind.",
		}, []string{"kind"}),
		Liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_liquidations_total",
			Help: "Forced closes at the liquidation price.",
		}, []string{"account", "symbol"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_positions_closed_total",
			Help: "Positions closed by reason.",
		}, []string{"account", "reason"}),
		Fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sim_fees_total",
			Help: "Trading and liquidation fees charged.",
		}, []string{"account"}),
		Equity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sim_account_equity",
			Help: "Balance plus unrealized P&L.",
		}, []string{"account"}),
		OpenPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sim_open_positions",
			Help: "Open positions per account.",
		}, []string{"account"}),
		Emergency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sim_emergency_active",
			Help: "1 while the emergency flag is set.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sim_price_ticks_total",
			Help: "Price ticks applied.",
		}),
		PlaceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sim_place_order_seconds",
			Help:    "Time spent in placeOrder, including the fill.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(c.Orders, c.Rejections, c.Liquidations, c.PositionsClosed, c.Fees,
			c.Equity, c.OpenPositions, c.Emergency, c.Ticks, c.PlaceLatency)
	}
	return c
}

func (c *Collectors) ObserveOrder(account, status string) {
	if c == nil {
		return
	}
	c.Orders.WithLabelValues(account, status).Inc()
}

func (c *Collectors) ObserveRejection(kind string) {
	if c == nil {
		return
	}
	c.Rejections.WithLabelValues(kind).Inc()
}

func (c *Collectors) ObserveLiquidation(account, symbol string) {
	if c == nil {
		return
	}
	c.Liquidations.WithLabelValues(account, symbol).Inc()
}

func (c *Collectors) ObserveClose(account, reason string) {
	if c == nil {
		return
	}
	c.PositionsClosed.WithLabelValues(account, reason).Inc()
}

func (c *Collectors) ObserveFee(account string, fee float64) {
	if c == nil || fee <= 0 {
		return
	}
	c.Fees.WithLabelValues(account).Add(fee)
}

func (c *Collectors) SetAccount(account string, equity float64, open int) {
	if c == nil {
		return
	}
	c.Equity.WithLabelValues(account).Set(equity)
	c.OpenPositions.WithLabelValues(account).Set(float64(open))
}

func (c *Collectors) SetEmergency(active bool) {
	if c == nil {
		return
	}
	if active {
		c.Emergency.Set(1)
		return
	}
	c.Emergency.Set(0)
}

func (c *Collectors) ObserveTick() {
	if c == nil {
		return
	}
	c.Ticks.Inc()
}

func (c *Collectors) ObservePlaceLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.PlaceLatency.Observe(d.Seconds())
}
