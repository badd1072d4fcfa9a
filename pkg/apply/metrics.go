package apply

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// StepsTotal counts finished plan steps by kind and outcome
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_apply_steps_total",
			Help: "Total number of plan steps processed",
		},
		[]string{"kind", "status"},
	)

	// StepDuration tracks how long providers take to realize a step
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topology_apply_step_duration_seconds",
			Help:    "Time taken to realize a plan step",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		},
		[]string{"kind", "provider"},
	)

	// ExecutionsTotal counts apply executions by provider and outcome
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_apply_executions_total",
			Help: "Total number of apply executions",
		},
		[]string{"provider", "status"},
	)

	// InflightSteps is the number of steps currently being realized
	InflightSteps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topology_apply_inflight_steps",
			Help: "Plan steps currently being realized",
		},
	)
)

func init() {
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(ExecutionsTotal)
	prometheus.MustRegister(InflightSteps)
}
