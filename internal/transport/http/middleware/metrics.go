package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetricsOptions configures the HTTP metrics middleware.
type HTTPMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
	Buckets    []float64
}

// HTTPMetrics exposes Prometheus collectors for request instrumentation.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// register adds c to reg, returning the already registered collector when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, fmt.Errorf("register %s collector: %w", name, err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("existing %s collector has unexpected type %T", name, already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// NewHTTPMetrics constructs collectors for HTTP request metrics and registers them with the provided registerer.
func NewHTTPMetrics(opts HTTPMetricsOptions) (*HTTPMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "pli"
	}
	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "http"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "Total number of HTTP requests partitioned by method, route, and status code.",
	}, []string{"method", "route", "status"}), "requests")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of HTTP request latencies in seconds partitioned by method, route, and status code.",
		Buckets:   buckets,
	}, []string{"method", "route", "status"}), "duration")
	if err != nil {
		return nil, err
	}

	inFlight, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "in_flight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	}), "inflight")
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		Requests: requests,
		Duration: duration,
		InFlight: inFlight,
	}, nil
}

// Handler returns a Gin middleware that records the HTTP metrics.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		if m.InFlight != nil {
			m.InFlight.Inc()
			defer m.InFlight.Dec()
		}

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		if m.Requests != nil {
			m.Requests.With(labels).Inc()
		}
		if m.Duration != nil {
			m.Duration.With(labels).Observe(time.Since(start).Seconds())
		}
	}
}

// SecurityMetrics counts pipeline rejections and alerts.
type SecurityMetrics struct {
	RateLimited *prometheus.CounterVec
	Attacks     *prometheus.CounterVec
	BruteForce  prometheus.Counter
	Timeouts    prometheus.Counter
}

// NewSecurityMetrics registers the security pipeline collectors.
func NewSecurityMetrics(reg prometheus.Registerer, namespace string) (*SecurityMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "pli"
	}

	rateLimited, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limit rule.",
	}, []string{"rule"}), "rate_limited")
	if err != nil {
		return nil, err
	}

	attacks, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "attacks_detected_total",
		Help:      "Requests rejected by the attack detector partitioned by kind and source.",
	}, []string{"kind", "source"}), "attacks")
	if err != nil {
		return nil, err
	}

	bruteForce, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "brute_force_alerts_total",
		Help:      "Brute-force alerts raised for authentication failures.",
	}), "brute_force")
	if err != nil {
		return nil, err
	}

	timeouts, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "request_timeouts_total",
		Help:      "Requests answered with 408 after the deadline elapsed.",
	}), "timeouts")
	if err != nil {
		return nil, err
	}

	return &SecurityMetrics{
		RateLimited: rateLimited,
		Attacks:     attacks,
		BruteForce:  bruteForce,
		Timeouts:    timeouts,
	}, nil
}

func (m *SecurityMetrics) rateLimited(rule string) {
	if m == nil || m.RateLimited == nil {
		return
	}
	m.RateLimited.WithLabelValues(rule).Inc()
}

func (m *SecurityMetrics) attack(kind, source string) {
	if m == nil || m.Attacks == nil {
		return
	}
	m.Attacks.WithLabelValues(kind, source).Inc()
}

func (m *SecurityMetrics) bruteForce() {
	if m == nil || m.BruteForce == nil {
		return
	}
	m.BruteForce.Inc()
}

func (m *SecurityMetrics) timeout() {
	if m == nil || m.Timeouts == nil {
		return
	}
	m.Timeouts.Inc()
}
