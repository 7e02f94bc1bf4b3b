package energy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	observationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wattscope_energy_observations_total",
		Help: "Observations appended to the consumption series.",
	})

	currentConsumption = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wattscope_energy_consumption_watts",
		Help: "Most recently synthesized total consumption.",
	})

	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wattscope_energy_training_runs_total",
		Help: "Ensemble training runs by outcome.",
	}, []string{"outcome"})

	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wattscope_energy_training_duration_seconds",
		Help:    "Wall-clock duration of ensemble training runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 3, 8),
	})

	anomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wattscope_energy_anomalies_total",
		Help: "Anomalies surfaced by detection type.",
	}, []string{"type"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wattscope_energy_analytics_cache_total",
		Help: "Analytics cache lookups by result.",
	}, []string{"result"})
)
