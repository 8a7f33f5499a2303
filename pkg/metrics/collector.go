// Package metrics exposes Prometheus metrics for the interception engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultNamespace = "netstub"
	DefaultSubsystem = "intercept"
)

// Request and response outcomes.
const (
	OutcomePassthrough = "passthrough"
	OutcomeStatic      = "static"
	OutcomeIntercepted = "intercepted"
	OutcomeDestroyed   = "destroyed"
	OutcomeDriverError = "driver_error"
)

// Driver event directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Config selects the metric name prefix.
type Config struct {
	Namespace string
	Subsystem string
}

// Collector records interception metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	routes       prometheus.Gauge
	pending      prometheus.Gauge
	requests     *prometheus.CounterVec
	responses    *prometheus.CounterVec
	driverEvents *prometheus.CounterVec
	clears       prometheus.Counter
}

// NewCollector registers all metrics with registry, creating a private
// registry when nil.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = DefaultSubsystem
	}

	c := &Collector{
		registry: registry,
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "routes_registered",
			Help:      "Number of routes currently registered",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "pending_exchanges",
			Help:      "Number of exchanges tracked since the last clear",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "requests_total",
			Help:      "Proxied requests by interception outcome",
		}, []string{"outcome"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "responses_total",
			Help:      "Upstream responses of tracked requests by outcome",
		}, []string{"outcome"}),
		driverEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "driver_events_total",
			Help:      "Driver protocol events by direction and name",
		}, []string{"direction", "event"}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "clears_total",
			Help:      "Number of clear:routes resets",
		}),
	}

	registry.MustRegister(c.routes, c.pending, c.requests, c.responses, c.driverEvents, c.clears)
	return c
}

func (c *Collector) SetRoutes(n int) {
	if c == nil {
		return
	}
	c.routes.Set(float64(n))
}

func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.pending.Set(float64(n))
}

func (c *Collector) RecordRequest(outcome string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordResponse(outcome string) {
	if c == nil {
		return
	}
	c.responses.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordDriverEvent(direction, event string) {
	if c == nil {
		return
	}
	c.driverEvents.WithLabelValues(direction, event).Inc()
}

func (c *Collector) RecordClear() {
	if c == nil {
		return
	}
	c.clears.Inc()
}

// Handler serves the collector's registry in the Prometheus exposition
// format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
