package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the application collectors. A nil *Metrics is safe to use and
// records nothing.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	salesTotal  prometheus.Counter
	unitsSold   *prometheus.CounterVec
	reportCache *prometheus.CounterVec
}

// New registers the application metrics on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route pattern and status.",
	}, []string{"method", "route", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	salesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sales_recorded_total",
		Help: "Sales transactions recorded.",
	})
	unitsSold := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_units_sold_total",
		Help: "Units sold by product name.",
	}, []string{"product"})
	reportCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_requests_total",
		Help: "Sales report cache lookups by result.",
	}, []string{"result"})
	reg.MustRegister(requests, duration, salesTotal, unitsSold, reportCache)

	return &Metrics{
		requests:    requests,
		duration:    duration,
		salesTotal:  salesTotal,
		unitsSold:   unitsSold,
		reportCache: reportCache,
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.duration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// ObserveSale records a committed sale.
func (m *Metrics) ObserveSale(product string, units int) {
	if m == nil {
		return
	}
	if product == "" {
		product = "unknown"
	}
	m.salesTotal.Inc()
	m.unitsSold.WithLabelValues(product).Add(float64(units))
}

func (m *Metrics) ObserveReportCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.reportCache.WithLabelValues(result).Inc()
}
