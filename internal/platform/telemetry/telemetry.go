// Package telemetry exposes Prometheus metrics for the HTTP layer and the
// booking core, and serves them on /metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medbook"

// Booking outcomes recorded by ObserveBooking.
const (
	OutcomeBooked   = "booked"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Provider owns a private registry so tests can create as many as they like.
type Provider struct {
	registry *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	bookings       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	lockWait       *prometheus.HistogramVec
	events         *prometheus.CounterVec
}

func NewProvider() *Provider {
	p := &Provider{
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Appointment status transitions.",
		}, []string{"from", "to"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_lock_wait_seconds",
			Help:      "Time spent acquiring a slot lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}, []string{"backend", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the broker.",
		}, []string{"type", "result"}),
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.httpDuration, p.activeRequests, p.bookings, p.transitions, p.lockWait, p.events,
	)
	return p
}

// Registry returns the underlying registry.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

func (p *Provider) ObserveBooking(outcome string) {
	p.bookings.WithLabelValues(outcome).Inc()
}

func (p *Provider) ObserveTransition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *Provider) ObserveLockWait(backend string, acquired bool, d time.Duration) {
	result := "acquired"
	if !acquired {
		result = "failed"
	}
	p.lockWait.WithLabelValues(backend, result).Observe(d.Seconds())
}

func (p *Provider) ObserveEvent(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.events.WithLabelValues(eventType, result).Inc()
}

// Middleware records latency per route pattern, so path parameters do not
// explode label cardinality.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = 500
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			p.httpDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}
