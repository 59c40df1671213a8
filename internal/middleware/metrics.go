package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_http_requests_total",
			Help: "Total HTTP requests by route template",
		},
		[]string{"method", "route", "status"},
	)

	// 메시지 전송/조회는 대부분 수십 ms 이내
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	wsHandshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_ws_handshakes_total",
			Help: "Websocket upgrade attempts",
		},
		[]string{"result"}, // "upgraded" or "rejected"
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_http_active_requests",
			Help: "Number of in-flight HTTP requests, websocket handshakes excluded",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_db_connections_open",
			Help: "Number of open message store connections",
		},
	)
)

// Metrics collects request metrics by route template. Websocket requests are
// counted as handshakes only; their lifetime is tracked by the hub.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		if c.IsWebsocket() {
			c.Next()
			// A hijacked connection leaves the recorded status untouched
			result := "upgraded"
			if c.Writer.Status() >= 400 {
				result = "rejected"
			}
			wsHandshakes.WithLabelValues(result).Inc()
			return
		}

		start := time.Now()
		activeRequests.Inc()
		c.Next()
		activeRequests.Dec()

		route := routeLabel(c)
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// SetDBConnectionsOpen updates the DB connection gauge (call from main)
func SetDBConnectionsOpen(count float64) {
	dbConnectionsOpen.Set(count)
}

// routeLabel is the matched template (e.g. /api/v1/messages/:id/read).
// Unmatched paths share one label so scanners cannot blow up cardinality.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
