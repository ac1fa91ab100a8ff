package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles prometheus collectors used by the host.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	ResponseBytes      *prometheus.CounterVec
	Mounts             prometheus.Gauge
	RateLimitDropped   prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webroot_requests_total",
			Help: "Total number of static file requests per mount.",
		}, []string{"mount", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webroot_request_duration_seconds",
			Help:    "Static file request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mount", "method", "status"}),
		ResponseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webroot_response_bytes_total",
			Help: "Total number of response body bytes written per mount.",
		}, []string{"mount"}),
		Mounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webroot_mounts",
			Help: "Number of registered plugin webroots.",
		}),
		RateLimitDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webroot_ratelimit_dropped_total",
			Help: "Total number of requests dropped by rate limiter.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.ResponseBytes,
		m.Mounts,
		m.RateLimitDropped,
	)

	return m
}

// Middleware records requests served by the named mount.
func (m *Metrics) Middleware(mount string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		m.RequestsTotal.WithLabelValues(mount, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(mount, r.Method, status).Observe(time.Since(startedAt).Seconds())
		m.ResponseBytes.WithLabelValues(mount).Add(float64(wrapped.bytes))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Flush keeps streaming behavior for handlers that require it.
func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
