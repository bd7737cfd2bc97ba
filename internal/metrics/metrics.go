package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_queries_total",
			Help: "Total number of query runs by final status",
		},
		[]string{"status"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_query_duration_seconds",
			Help:    "End-to-end duration of query pipeline runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_llm_calls_total",
			Help: "Total number of LLM calls by pipeline stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_llm_call_duration_seconds",
			Help:    "Duration of LLM calls by pipeline stage",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	ActivePipelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlagent_active_pipelines",
			Help: "Number of query pipelines currently executing",
		},
	)
)
