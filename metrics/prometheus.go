package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/saiset-co/sai-turbo/types"
)

const (
	DefaultPath      = "/metrics"
	DefaultNamespace = "turbo"

	// RouteUnmatched labels requests that never reached a route.
	RouteUnmatched = "unmatched"
)

// Collector owns the dispatch and cache series. A nil *Collector is valid
// and records nothing.
type Collector struct {
	config        *types.MetricsConfig
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	cacheOps      *prometheus.CounterVec
	cacheDuration *prometheus.HistogramVec
	running       int32
}

func NewCollector(config *types.MetricsConfig) (*Collector, error) {
	if config == nil {
		config = &types.MetricsConfig{}
	}

	cfg := *config
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		config:   &cfg,
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "http_requests_total",
			Help:        "Dispatched requests by method, route pattern and status code.",
			ConstLabels: cfg.Labels,
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "http_request_duration_seconds",
			Help:        "Time spent in the dispatcher per request.",
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: cfg.Labels,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "http_requests_in_flight",
			Help:        "Requests currently inside the dispatcher.",
			ConstLabels: cfg.Labels,
		}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "cache_operations_total",
			Help:        "Cache operations by kind and result.",
			ConstLabels: cfg.Labels,
		}, []string{"operation", "result"}),
		cacheDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "cache_operation_duration_seconds",
			Help:        "Cache operation latency.",
			Buckets:     []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
			ConstLabels: cfg.Labels,
		}, []string{"operation"}),
	}

	for _, collector := range []prometheus.Collector{
		c.requests, c.duration, c.inFlight, c.cacheOps, c.cacheDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, types.WrapError(err, "failed to register prometheus collector")
		}
	}

	return c, nil
}

func (c *Collector) Start() error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return types.ErrServiceIsRunning
	}
	return nil
}

func (c *Collector) Stop() error {
	atomic.StoreInt32(&c.running, 0)
	return nil
}

func (c *Collector) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *Collector) Path() string {
	if c == nil {
		return DefaultPath
	}
	return c.config.Path
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Begin marks a request as in flight and returns the function that records
// its outcome.
func (c *Collector) Begin(method string) func(route string, code int) {
	if c == nil {
		return func(string, int) {}
	}

	start := time.Now()
	c.inFlight.Inc()

	return func(route string, code int) {
		c.inFlight.Dec()
		c.ObserveRequest(method, route, code, time.Since(start))
	}
}

func (c *Collector) ObserveRequest(method, route string, code int, duration time.Duration) {
	if c == nil {
		return
	}

	if route == "" {
		route = RouteUnmatched
	}

	c.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.duration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) ObserveCache(operation, result string, duration time.Duration) {
	if c == nil {
		return
	}

	c.cacheOps.WithLabelValues(operation, result).Inc()
	c.cacheDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler exposes the registry in the prometheus text format.
func (c *Collector) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}),
	)
}
