package bantutrack

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Standard HTTP metrics recorded by the handler wrapper.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_reports_total",
			Help: "Position reports by outcome",
		},
		[]string{"result"},
	)

	eventsBroadcastTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_events_broadcast_total",
			Help: "Events handed to the fan-out broadcaster",
		},
	)

	queueDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_queue_drops_total",
			Help: "Events dropped from slow subscriber queues",
		},
	)

	subscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_subscribers",
			Help: "Currently connected subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(reportsTotal)
	prometheus.MustRegister(eventsBroadcastTotal)
	prometheus.MustRegister(queueDropsTotal)
	prometheus.MustRegister(subscribersGauge)
}

// instrumentHandler wraps an HTTP handler with Prometheus instrumentation.
func instrumentHandler(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(wrapped, r)

		duration := time.Since(startTime).Seconds()
		httpRequestDuration.WithLabelValues(handlerName, r.Method).Observe(duration)
		httpRequestsTotal.WithLabelValues(handlerName, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
