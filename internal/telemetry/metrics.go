package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	OrdersRanked      = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_orders_ranked_total", Help: "Open orders assigned a position"})
	Resets            = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_resets_total", Help: "Full queue recomputes"})
	ReorderFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_reorder_failed_ids_total", Help: "Order numbers skipped during manual reorder"})
	CrossTierReorders = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_cross_tier_reorders_total", Help: "Manual reorder pages that mixed priority tiers"})
	DateParseFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_date_parse_failures_total", Help: "Legacy date fields that failed to parse"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "queue_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	OpenOrders        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_open_orders", Help: "Open work orders in the queue"})
	TierDepth         = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "queue_tier_depth", Help: "Open work orders per priority tier"}, []string{"tier"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			OrdersRanked,
			Resets,
			ReorderFailures,
			CrossTierReorders,
			DateParseFailures,
			RateLimitRejects,
			OpenOrders,
			TierDepth,
		)
	})
	return promhttp.Handler()
}
