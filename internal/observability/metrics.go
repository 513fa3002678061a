package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of active websocket connections on the server.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket events handled by the server.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)

	channelUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_client_channel_up",
			Help: "Whether the client realtime channel is currently connected.",
		},
	)
	channelEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_client_events_total",
			Help: "Total number of inbound channel events by kind.",
		},
		[]string{"event"},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_client_reconnects_total",
			Help: "Total number of successful channel reconnections.",
		},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_client_sends_total",
			Help: "Total number of message sends by transport.",
		},
		[]string{"transport"},
	)
	sendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_client_send_failures_total",
			Help: "Total number of sends that failed or expired unconfirmed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		channelUp,
		channelEventsTotal,
		reconnectsTotal,
		sendsTotal,
		sendFailuresTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Server-side websocket instrumentation.

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// Client-side channel instrumentation.

func SetChannelUp(up bool) {
	if up {
		channelUp.Set(1)
	} else {
		channelUp.Set(0)
	}
}

func IncChannelEvent(event string) {
	channelEventsTotal.WithLabelValues(event).Inc()
}

func IncReconnect() {
	reconnectsTotal.Inc()
}

func IncSend(transport string) {
	sendsTotal.WithLabelValues(transport).Inc()
}

func IncSendFailure() {
	sendFailuresTotal.Inc()
}
