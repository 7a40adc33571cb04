package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes application-level instruments for partner callbacks,
// outbound gateway calls and the HTTP surface.
type Metrics struct {
	callbacks    *prometheus.CounterVec
	gatewayCalls *prometheus.CounterVec
	gatewayTime  *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the instruments on a registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_callbacks_total",
			Help: "Partner callbacks processed, by action and ack.",
		}, []string{"action", "ack"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_gateway_calls_total",
			Help: "Outbound gateway charge calls, by command and result code.",
		}, []string{"command", "code"}),
		gatewayTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_gateway_call_duration_seconds",
			Help:    "Latency of outbound gateway charge calls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"command"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "HTTP requests, by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.callbacks, m.gatewayCalls, m.gatewayTime, m.httpRequests, m.httpDuration)
	return m
}

func (m *Metrics) RecordCallback(action, ack string) {
	m.callbacks.WithLabelValues(action, ack).Inc()
}

func (m *Metrics) RecordGatewayCall(command, code string, elapsed time.Duration) {
	m.gatewayCalls.WithLabelValues(command, code).Inc()
	m.gatewayTime.WithLabelValues(command).Observe(elapsed.Seconds())
}

// GinMiddleware instruments every matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
