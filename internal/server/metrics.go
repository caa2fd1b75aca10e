package server

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// Metrics collects build and action outcomes for the /metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Histogram
	actionsTotal  *prometheus.CounterVec
	actionLatency *prometheus.HistogramVec
}

// NewMetrics creates the collector set on a private registry, so tests and
// multiple servers never fight over the global default.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_builds_total",
			Help: "Completed build passes by outcome.",
		}, []string{"outcome"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiln_build_duration_seconds",
			Help:    "Wall-clock duration of build passes.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_actions_total",
			Help: "Executed builder actions by terminal status.",
		}, []string{"builder", "status"}),
		actionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiln_action_duration_seconds",
			Help:    "Duration of individual builder actions.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"builder"}),
	}
	m.registry.MustRegister(m.buildsTotal, m.buildDuration, m.actionsTotal, m.actionLatency)
	return m
}

// Registry exposes the backing registry for the promhttp handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Hooks returns lifecycle hooks that feed the collectors. Install them on
// the engine to observe builds triggered by watch or serve.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnBuildEnd: func(_ context.Context, ev *domain.BuildEvent) {
			outcome := "success"
			if ev.Failed > 0 {
				outcome = "failure"
			}
			m.buildsTotal.WithLabelValues(outcome).Inc()
			m.buildDuration.Observe(ev.Duration.Seconds())
		},
		OnActionEnd: func(_ context.Context, ev *domain.ActionEvent) {
			m.actionsTotal.WithLabelValues(ev.Builder, ev.Status.String()).Inc()
			if ev.Status == domain.ActionSucceeded {
				m.actionLatency.WithLabelValues(ev.Builder).Observe(ev.Duration.Seconds())
			}
		},
	}
}
