package controller

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "theaterd",
			Subsystem: "generation",
			Name:      "runs_total",
			Help:      "Total number of admitted generation runs by outcome",
		},
		[]string{"outcome"},
	)

	attemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "theaterd",
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "Total number of generation attempts",
		},
	)

	attemptsPerRun = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "theaterd",
			Subsystem: "generation",
			Name:      "attempts_per_run",
			Help:      "Attempts consumed by each run",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
	)

	busyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "theaterd",
			Subsystem: "generation",
			Name:      "busy_rejections_total",
			Help:      "Total runs rejected because another run was active",
		},
	)

	activeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "theaterd",
			Subsystem: "generation",
			Name:      "active",
			Help:      "1 while a generation run is in progress",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, attemptsTotal, attemptsPerRun, busyTotal, activeGauge)
}

func observeRun(_ Run, attempts int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	runsTotal.WithLabelValues(outcome).Inc()
	attemptsPerRun.Observe(float64(attempts))
}
