package hub

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Subscribers   *prometheus.GaugeVec
	Tickers       *prometheus.GaugeVec
	Ticks         *prometheus.CounterVec
	LiveFallbacks prometheus.Counter
}

// NewMetrics registers the registry's collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "feed",
			Name:      "subscribers",
			Help:      "Connected subscribers per channel kind.",
		}, []string{"channel"}),
		Tickers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "feed",
			Name:      "active_tickers",
			Help:      "Running per-entity tickers per channel kind.",
		}, []string{"channel"}),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "ticks_total",
			Help:      "Frames broadcast by tickers.",
		}, []string{"channel", "source"}),
		LiveFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "live_book_fallbacks_total",
			Help:      "Order-book ticks that fell back to the synthetic book.",
		}),
	}
	reg.MustRegister(m.Subscribers, m.Tickers, m.Ticks, m.LiveFallbacks)
	return m
}
