// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal tracks change-stream events by disposition
	// (accepted, not_persona, persona_sender, duplicate, malformed).
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_total",
			Help: "Change-stream events observed by the listener",
		},
		[]string{"disposition"},
	)

	// RepliesTotal tracks persisted persona replies by path and outcome.
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_replies_total",
			Help: "Persona replies persisted",
		},
		[]string{"path", "outcome"},
	)

	// GenerationDuration tracks generation backend latency.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_generation_duration_seconds",
			Help:    "Generation backend call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// GenerationsInFlight tracks concurrent generation calls.
	GenerationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_generations_in_flight",
			Help: "Concurrent generation backend calls",
		},
	)

	// OutreachTotal tracks proactive outreach decisions by trigger and
	// outcome (sent, cooldown, skipped, failed).
	OutreachTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_outreach_total",
			Help: "Proactive outreach decisions",
		},
		[]string{"trigger", "outcome"},
	)

	// PurgedMessagesTotal tracks messages removed by the expiry purge.
	PurgedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_purged_messages_total",
			Help: "Expired messages physically deleted",
		},
	)

	// SchedulerTicksTotal tracks outreach scheduler ticks by outcome.
	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_scheduler_ticks_total",
			Help: "Outreach scheduler ticks",
		},
		[]string{"outcome"},
	)
)

// RecordGeneration records one generation backend call.
func RecordGeneration(provider, status string, seconds float64) {
	GenerationDuration.WithLabelValues(provider, status).Observe(seconds)
}
