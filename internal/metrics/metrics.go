// Package metrics exposes planning outcomes and scene size to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/noflyroute/internal/routeerr"
)

// OutcomeOK labels successful plans; failures use their error kind, or
// "error" when unclassified.
const OutcomeOK = "ok"

// Collector holds the planner metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec
	Scene     *prometheus.GaugeVec
}

// New registers the planner metrics on reg, the default registry when nil.
// Registering twice on one registry returns the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_requests_total",
		Help: "Planning requests by constraint policy and outcome.",
	}, []string{"policy", "outcome"}))
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plan_duration_seconds",
		Help:    "Planning latency in seconds, export included.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"policy"}))
	if err != nil {
		return nil, err
	}
	scene, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_size",
		Help: "Size of the loaded scene by element (nodes, edges, zones).",
	}, []string{"element"}))
	if err != nil {
		return nil, err
	}

	return &Collector{gatherer: gatherer, Requests: requests, Durations: durations, Scene: scene}, nil
}

// Observe records one planning request.
func (c *Collector) Observe(policy string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(policy, Outcome(err)).Inc()
	c.Durations.WithLabelValues(policy).Observe(d.Seconds())
}

// SetScene publishes the loaded scene size.
func (c *Collector) SetScene(nodes, edges, zones int) {
	if c == nil {
		return
	}
	c.Scene.WithLabelValues("nodes").Set(float64(nodes))
	c.Scene.WithLabelValues("edges").Set(float64(edges))
	c.Scene.WithLabelValues("zones").Set(float64(zones))
}

// Outcome maps an error to its metric label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if k := routeerr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, eris.Wrap(err, "metrics: register")
	}
	return c, nil
}
