// Package metrics exposes simulator counters in Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openmachinesim"

// Write results used as the "result" label of WritesTotal.
const (
	ResultOK           = "ok"
	ResultReadOnly     = "read_only"
	ResultTypeMismatch = "type_mismatch"
	ResultUnknown      = "unknown_point"
	ResultError        = "error"
)

// Metrics holds every collector the simulator updates.
type Metrics struct {
	TicksTotal    *prometheus.CounterVec
	TickFailures  *prometheus.CounterVec
	TicksSkipped  *prometheus.CounterVec
	TickDuration  *prometheus.HistogramVec
	WritesTotal   *prometheus.CounterVec
	Points        *prometheus.GaugeVec
	DroppedPoints prometheus.Gauge
	ServerState   prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "ticks_total",
				Help:      "Completed update ticks per point",
			},
			[]string{"point"},
		),
		TickFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tick_failures_total",
				Help:      "Update ticks that failed to generate or publish",
			},
			[]string{"point"},
		),
		TicksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "ticks_skipped_total",
				Help:      "Update ticks skipped because the previous tick was still running",
			},
			[]string{"point"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tick_duration_seconds",
				Help:      "Duration of successful update ticks",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"point"},
		),
		WritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "writes_total",
				Help:      "Client writes by surface and result",
			},
			[]string{"surface", "result"},
		),
		Points: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "points",
				Help:      "Registered points by kind",
			},
			[]string{"kind"},
		),
		DroppedPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dropped_points",
			Help:      "Configured points dropped because their device was not declared",
		}),
		ServerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "state",
			Help:      "Lifecycle state (0=initializing, 1=running, 2=stopping, 3=stopped, 4=error)",
		}),
	}
}

// Registry owns a private Prometheus registry with the simulator metrics and
// the Go runtime collectors.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            newMetrics(),
	}

	m := r.Metrics
	r.prometheusRegistry.MustRegister(
		m.TicksTotal,
		m.TickFailures,
		m.TicksSkipped,
		m.TickDuration,
		m.WritesTotal,
		m.Points,
		m.DroppedPoints,
		m.ServerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

func (r *Registry) TickCompleted(point string, d time.Duration) {
	r.Metrics.TicksTotal.WithLabelValues(point).Inc()
	r.Metrics.TickDuration.WithLabelValues(point).Observe(d.Seconds())
}

func (r *Registry) TickFailed(point string) {
	r.Metrics.TickFailures.WithLabelValues(point).Inc()
}

func (r *Registry) TickSkipped(point string) {
	r.Metrics.TicksSkipped.WithLabelValues(point).Inc()
}

// WriteObserved records the outcome of a client write on surface
// ("opcua" or "rest").
func (r *Registry) WriteObserved(surface string, err error) {
	r.Metrics.WritesTotal.WithLabelValues(surface, WriteResult(err)).Inc()
}

// SetPoints records the size of the address space.
func (r *Registry) SetPoints(dynamic, static, dropped int) {
	r.Metrics.Points.WithLabelValues("dynamic").Set(float64(dynamic))
	r.Metrics.Points.WithLabelValues("static").Set(float64(static))
	r.Metrics.DroppedPoints.Set(float64(dropped))
}

func (r *Registry) SetState(state int) {
	r.Metrics.ServerState.Set(float64(state))
}

// WriteResult maps a registry write error to a result label.
func WriteResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, registry.ErrReadOnly):
		return ResultReadOnly
	case errors.Is(err, types.ErrTypeMismatch):
		return ResultTypeMismatch
	case errors.Is(err, registry.ErrUnknownPoint):
		return ResultUnknown
	default:
		return ResultError
	}
}
