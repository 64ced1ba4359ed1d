package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes for runSubmissions.
const (
	submitAccepted = "accepted"
	submitConflict = "conflict"
	submitError    = "error"
)

var (
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outletwatch_api_requests_total",
			Help: "API requests by route, method and status code.",
		},
		[]string{"route", "method", "code"},
	)

	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outletwatch_api_request_duration_seconds",
			Help:    "API request latency by route. Event streams are excluded.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route"},
	)

	runSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outletwatch_api_run_submissions_total",
			Help: "Run submissions over the API by outcome.",
		},
		[]string{"result"},
	)

	eventStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outletwatch_api_event_streams",
			Help: "Run event subscribers currently connected, by transport.",
		},
		[]string{"transport"},
	)
)

func init() {
	prometheus.MustRegister(apiRequests, apiLatency, runSubmissions, eventStreams)
}

// metricsMiddleware counts every request against its chi route pattern.
// Streaming routes are counted but kept out of the latency histogram.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := routePattern(r)
		apiRequests.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		if !streamingRoute(route) {
			apiLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func streamingRoute(route string) bool {
	return route == "/v1/runs/{id}/events" || route == "/v1/runs/{id}/ws"
}

// routePattern returns the matched chi pattern, or "unmatched".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// trackStream counts a connected event subscriber until the returned func
// is called.
func trackStream(transport string) func() {
	g := eventStreams.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
