package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts requests by how they were resolved
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xfilter_requests_total",
		Help: "Query requests by outcome (cache_hit, consolidated, dispatched)",
	}, []string{"outcome"})

	// deliveriesTotal counts results handed to clients and results dropped
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xfilter_deliveries_total",
		Help: "Query results by delivery outcome (delivered, failed, stale)",
	}, []string{"outcome"})

	// connectorDuration tracks connector latency
	connectorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xfilter_connector_duration_seconds",
		Help:    "Connector execution time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"result"})

	// pendingRequests tracks requests waiting for or running on the connector
	pendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xfilter_pending_requests",
		Help: "Distinct request keys pending or in flight",
	})

	// cacheClearsTotal counts explicit cache invalidations
	cacheClearsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xfilter_cache_clears_total",
		Help: "Explicit cache invalidations",
	})
)

const (
	outcomeCacheHit     = "cache_hit"
	outcomeConsolidated = "consolidated"
	outcomeDispatched   = "dispatched"
	outcomeDelivered    = "delivered"
	outcomeFailed       = "failed"
	outcomeStale        = "stale"
)
