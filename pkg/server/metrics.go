package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cache"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
)

// metrics owns a private registry so several servers can coexist in one
// process.
type metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	resets   prometheus.Counter
	outliers *prometheus.CounterVec
	logins   *prometheus.CounterVec
}

func newMetrics(charts *cache.Cache[[]byte]) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nesthome_http_requests_total",
			Help: "HTTP requests by route template and status.",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nesthome_http_request_duration_seconds",
			Help:    "HTTP request durations by route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nesthome_water_resets_total",
			Help: "Water refills processed.",
		}),
		outliers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nesthome_water_outliers_total",
			Help: "Water cycles rejected by the learning band, by kind.",
		}, []string{"kind"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nesthome_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.resets,
		m.outliers,
		m.logins,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "nesthome_chart_cache_hits_total",
			Help: "Chart renders served from cache.",
		}, func() float64 { return float64(charts.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "nesthome_chart_cache_misses_total",
			Help: "Chart renders that missed the cache.",
		}, func() float64 { return float64(charts.Stats().Misses) }),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observeReset counts a processed refill.
func (m *metrics) observeReset(r cycle.Report) {
	m.resets.Inc()
	if r.Outlier {
		m.outliers.WithLabelValues(string(r.Kind)).Inc()
	}
}

func (m *metrics) observeLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// middleware records request counts and durations under the matched route
// template, so /tasks/{id} is one series regardless of the ID.
func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
