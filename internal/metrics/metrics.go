// Package metrics holds the prometheus collectors the service exports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "loginsight"

type Metrics struct {
	EventsIngested   *prometheus.CounterVec
	BucketIncrements *prometheus.CounterVec
	AlertsCreated    *prometheus.CounterVec
	AlertDeliveries  *prometheus.CounterVec
	EvaluationErrors prometheus.Counter
	TriggersDropped  prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Total number of log events persisted.",
			},
			[]string{"project", "key_type"},
		),
		BucketIncrements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bucket_increments_total",
				Help:      "Bucket counter increments by backend.",
			},
			[]string{"backend"},
		),
		AlertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_created_total",
				Help:      "Alerts opened by the threshold evaluator.",
			},
			[]string{"project"},
		),
		AlertDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_deliveries_total",
				Help:      "Alert delivery attempts by result.",
			},
			[]string{"result"},
		),
		EvaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_errors_total",
			Help:      "Threshold evaluations that failed.",
		}),
		TriggersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_dropped_total",
			Help:      "Evaluation triggers dropped because the queue was full.",
		}),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Histogram of HTTP request durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"route", "method"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsIngested,
			m.BucketIncrements,
			m.AlertsCreated,
			m.AlertDeliveries,
			m.EvaluationErrors,
			m.TriggersDropped,
			m.RequestDuration,
		)
	}
	return m
}
