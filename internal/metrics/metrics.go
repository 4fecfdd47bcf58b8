package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgshare_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgshare_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "path"},
	)

	imageUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgshare_image_uploads_total",
			Help: "Image uploads by outcome",
		},
		[]string{"outcome"},
	)

	imageViewsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgshare_image_views_total",
			Help: "Image detail views recorded in the view log",
		},
	)

	usersDeactivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgshare_users_deactivated_total",
			Help: "Users deactivated by administrators",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(imageUploadsTotal)
	prometheus.MustRegister(imageViewsTotal)
	prometheus.MustRegister(usersDeactivatedTotal)
}

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Upload counts one upload attempt; outcome is "ok" or an error kind.
func Upload(outcome string) {
	imageUploadsTotal.WithLabelValues(outcome).Inc()
}

func View() {
	imageViewsTotal.Inc()
}

func Deactivated(n int) {
	usersDeactivatedTotal.Add(float64(n))
}
