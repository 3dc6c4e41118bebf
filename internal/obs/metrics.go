package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_auth_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_auth_refresh_total",
			Help: "Refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_ratelimit_rejected_total",
			Help: "Requests rejected by a rate limiter.",
		},
		[]string{"scope"},
	)

	cryptoFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_crypto_failures_total",
			Help: "Encryption service failures by operation.",
		},
		[]string{"op"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginTotal, refreshTotal, rateLimitedTotal, cryptoFailuresTotal, readyGauge,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt outcome.
func ObserveLogin(outcome string) { loginTotal.WithLabelValues(outcome).Inc() }

// ObserveRefresh counts a refresh attempt outcome.
func ObserveRefresh(outcome string) { refreshTotal.WithLabelValues(outcome).Inc() }

// ObserveRateLimited counts a rejection by the limiter guarding scope.
func ObserveRateLimited(scope string) { rateLimitedTotal.WithLabelValues(scope).Inc() }

// ObserveCryptoFailure counts a failed encrypt or decrypt.
func ObserveCryptoFailure(op string) { cryptoFailuresTotal.WithLabelValues(op).Inc() }

// SetReady records the readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument records in-flight, count and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses per-resource path segments so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	for _, prefix := range []string{"/secrets/", "/api/secrets/"} {
		if strings.HasPrefix(p, prefix) {
			rest := strings.Trim(strings.TrimPrefix(p, prefix), "/")
			if rest != "" && !strings.Contains(rest, "/") {
				return prefix + ":name"
			}
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
