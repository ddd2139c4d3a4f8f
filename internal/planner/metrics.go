package planner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planforge",
		Subsystem: "planner",
		Name:      "stage_total",
		Help:      "Pipeline stage completions partitioned by outcome.",
	}, []string{"stage", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "planforge",
		Subsystem: "planner",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage wall time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	planTasks = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "planforge",
		Subsystem: "planner",
		Name:      "plan_tasks",
		Help:      "Number of tasks per synthesized plan.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
	})
)

func observeStage(stage string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	stageTotal.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage).Observe(seconds)
}
