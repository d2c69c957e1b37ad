package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	transportREST      = "rest"
	transportWebSocket = "websocket"

	resultOK      = "ok"
	resultError   = "error"
	resultInvalid = "invalid"
)

var (
	// requestsTotal counts remote requests by transport and result
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xfilter_server_requests_total",
		Help: "Remote query requests by transport (rest, websocket) and result (ok, error, invalid)",
	}, []string{"transport", "result"})

	// queryDuration tracks execution time as seen by the server
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xfilter_server_query_duration_seconds",
		Help:    "Server-side query execution time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"transport"})

	// wsConnections tracks open WebSocket connections
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xfilter_server_websocket_connections",
		Help: "Open WebSocket connections",
	})
)
