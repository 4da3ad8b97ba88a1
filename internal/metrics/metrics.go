// Package metrics provides Prometheus instrumentation for the coursepay service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursepay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coursepay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReconciliationsTotal counts gateway-success reconciliations by outcome.
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursepay",
			Name:      "reconciliations_total",
			Help:      "Total payment reconciliation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// WebhookEventsTotal counts inbound Paystack webhook deliveries by disposition.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursepay",
			Name:      "webhook_events_total",
			Help:      "Total inbound gateway webhook deliveries by disposition.",
		},
		[]string{"disposition"},
	)

	// GatewayVerifyDuration observes Paystack verify-by-reference latency.
	GatewayVerifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coursepay",
		Name:      "gateway_verify_duration_seconds",
		Help:      "Latency of gateway verify-by-reference calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	// GatewayVerifyErrorsTotal counts failed gateway verify calls.
	GatewayVerifyErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coursepay",
		Name:      "gateway_verify_errors_total",
		Help:      "Total gateway verify calls that failed or timed out.",
	})

	// OverridesTotal counts administrative override writes by kind.
	OverridesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coursepay",
			Name:      "overrides_total",
			Help:      "Total administrative override writes by kind.",
		},
		[]string{"kind"},
	)

	// ActiveSessions tracks currently valid user sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coursepay",
		Name:      "active_sessions",
		Help:      "Number of currently valid user sessions.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coursepay", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coursepay", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coursepay", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coursepay", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ReconciliationsTotal,
		WebhookEventsTotal,
		GatewayVerifyDuration,
		GatewayVerifyErrorsTotal,
		OverridesTotal,
		ActiveSessions,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request count and latency per route pattern. The
// pattern, not the raw path, keeps label cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method, route := c.Request.Method, c.FullPath()

		c.Next()

		HTTPRequestDuration.WithLabelValues(method, route).
			Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(method, route, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler adapts the Prometheus exposition handler to gin.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusClass collapses a status code to its class label ("2xx", "4xx", ...).
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return string(rune('0'+code/100)) + "xx"
}
